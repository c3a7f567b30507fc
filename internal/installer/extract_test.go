package installer

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name string
	body string
	dir  bool
}

func writeTarGz(t *testing.T, entries []tarEntry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "netbird.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return path
}

func TestExtractBinary(t *testing.T) {
	archive := writeTarGz(t, []tarEntry{
		{name: "LICENSE", body: "BSD"},
		{name: "netbird", dir: true},
		{name: "bin/netbird", body: "#!/bin/sh\necho netbird\n"},
	})
	dest := t.TempDir()

	path, err := ExtractBinary(archive, "netbird", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "netbird"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho netbird\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestExtractBinary_NotFound(t *testing.T) {
	archive := writeTarGz(t, []tarEntry{{name: "README.md", body: "hi"}})

	_, err := ExtractBinary(archive, "netbird", t.TempDir())
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
}

func TestExtractBinary_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

	_, err := ExtractBinary(path, "netbird", t.TempDir())
	assert.Error(t, err)
}

func TestPlace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "netbird.new")
	require.NoError(t, os.WriteFile(src, []byte("binary"), 0600))

	dst := filepath.Join(dir, "bin", "netbird")
	require.NoError(t, Place(src, dst, 0755))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestPlace_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Place(dir, filepath.Join(t.TempDir(), "x"), 0755))
}
