package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localURL = "http://ryvie.local:3000"

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "ryvie-config.json"), localURL)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ryvie-config.json")
	store := NewStore(path, localURL)

	rec := Record{
		Mode:       ModeLocal,
		RyvieID:    "ryvie-abc",
		Domains:    map[string]string{"app": "app.abc.ryvie.fr"},
		TunnelHost: "203.0.113.7",
		SetupKey:   "SETUP-KEY-123",
	}
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec, *loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_WritesDerivedURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	store := NewStore(path, localURL)

	require.NoError(t, store.Save(Record{
		Mode:    ModePublic,
		RyvieID: "ryvie-abc",
		Domains: map[string]string{"app": "app.abc.ryvie.fr"},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "https://app.abc.ryvie.fr", raw["url"])
	assert.Equal(t, "public", raw["mode"])
	assert.Equal(t, "ryvie-abc", raw["ryvieId"])
}

func TestStore_IgnoresStoredURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	content := `{"mode":"public","ryvieId":"r1","domains":{"app":"real.example"},"url":"https://stale.example"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	rec, err := NewStore(path, localURL).Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "https://real.example", rec.URL(localURL))
}

func TestStore_SaveOverwritesWholeRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	store := NewStore(path, localURL)

	require.NoError(t, store.Save(Record{
		Mode:       ModeLocal,
		RyvieID:    "old",
		Domains:    map[string]string{"app": "old.example"},
		TunnelHost: "10.0.0.1",
		SetupKey:   "OLD-KEY",
	}))
	require.NoError(t, store.Save(Record{Mode: ModeLocal, RyvieID: "new"}))

	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Record{Mode: ModeLocal, RyvieID: "new"}, *rec)
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewStore(path, localURL).Load()
	assert.Error(t, err)
}

func TestStore_LoadInvalidMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode":"satellite"}`), 0600))

	_, err := NewStore(path, localURL).Load()
	assert.Error(t, err)
}

func TestStore_SaveRejectsInvalidMode(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "ryvie-config.json"), localURL)
	assert.Error(t, store.Save(Record{Mode: "bogus"}))
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ryvie-config.json")
	store := NewStore(path, localURL)

	require.NoError(t, store.Clear())

	require.NoError(t, store.Save(Record{Mode: ModeLocal, RyvieID: "r1"}))
	require.NoError(t, store.Clear())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}
