package mesh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform records calls and returns configured errors.
type fakePlatform struct {
	mu          sync.Mutex
	installed   bool
	installErr  error
	connectErr  error
	logoutErr   error
	connectWait chan struct{}
	status      string
	calls       []string
	artifacts   []string
	keys        []string
	mgmtURLs    []string
	cleanups    int
	running     atomic.Int32
	overlap     atomic.Bool
}

func (f *fakePlatform) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePlatform) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlatform) Name() string            { return "fake" }
func (f *fakePlatform) BinaryPath() string      { return "/opt/fake/netbird" }
func (f *fakePlatform) InstallerURL() string    { return "" }
func (f *fakePlatform) ArtifactPattern() string { return "fake-*.bin" }

func (f *fakePlatform) IsInstalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed
}

func (f *fakePlatform) Install(_ context.Context, artifact string) error {
	f.record("install")
	data, _ := os.ReadFile(artifact)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, string(data))
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = true
	return nil
}

func (f *fakePlatform) Connect(ctx context.Context, managementURL, setupKey string) error {
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)

	f.record("connect")
	if f.connectWait != nil {
		select {
		case <-f.connectWait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, setupKey)
	f.mgmtURLs = append(f.mgmtURLs, managementURL)
	return f.connectErr
}

func (f *fakePlatform) Logout(context.Context) error {
	f.record("logout")
	return f.logoutErr
}

func (f *fakePlatform) Status(context.Context) (string, error) {
	if f.status != "" {
		return f.status, nil
	}
	return "Management: Connected", nil
}

func (f *fakePlatform) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
}

func serveInstaller(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStageError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := error(&StageError{Stage: StageConnect, Err: inner})

	assert.Equal(t, "mesh connect: exit status 1", err.Error())
	assert.ErrorIs(t, err, inner)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageConnect, se.Stage)
}

func TestController_Defaults(t *testing.T) {
	c := NewWithPlatform(&fakePlatform{}, Options{})

	assert.Equal(t, DefaultManagementURL, c.ManagementURL())
	assert.Equal(t, DefaultConnectTimeout, c.opts.ConnectTimeout)
	assert.Equal(t, DefaultInstallTimeout, c.opts.InstallTimeout)
}

func TestController_SetupInstalled(t *testing.T) {
	fp := &fakePlatform{installed: true}
	c := NewWithPlatform(fp, Options{ManagementURL: "https://mgmt.example"})

	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))

	assert.Equal(t, []string{"logout", "connect"}, fp.Calls())
	assert.Equal(t, []string{"KEY-1234"}, fp.keys)
	assert.Equal(t, []string{"https://mgmt.example"}, fp.mgmtURLs)
}

func TestController_SetupInstallsWhenAbsent(t *testing.T) {
	srv := serveInstaller(t, "installer-bytes")
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL})

	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))

	assert.Equal(t, []string{"install", "logout", "connect"}, fp.Calls())
	assert.Equal(t, []string{"installer-bytes"}, fp.artifacts)
	assert.Equal(t, 1, fp.cleanups)
}

func TestController_SetupEmptyKey(t *testing.T) {
	fp := &fakePlatform{installed: true}
	c := NewWithPlatform(fp, Options{})

	err := c.Setup(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptySetupKey)
	assert.Empty(t, fp.Calls())
}

func TestController_SetupDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL})

	err := c.Setup(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDownload, se.Stage)
	assert.Empty(t, fp.Calls())
}

func TestController_SetupChecksumMismatch(t *testing.T) {
	srv := serveInstaller(t, "tampered")
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL, InstallerSHA256: "00ff"})

	err := c.Setup(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDownload, se.Stage)
	assert.Empty(t, fp.Calls())
}

func TestController_SetupChecksumMatch(t *testing.T) {
	body := "genuine installer"
	sum := sha256.Sum256([]byte(body))
	srv := serveInstaller(t, body)
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL, InstallerSHA256: hex.EncodeToString(sum[:])})

	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))
}

func TestController_SetupInstallFailure(t *testing.T) {
	srv := serveInstaller(t, "installer-bytes")
	fp := &fakePlatform{installErr: errors.New("installer exited 1603")}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL})

	err := c.Setup(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageInstall, se.Stage)
	assert.Equal(t, []string{"install"}, fp.Calls())
}

func TestController_SetupConnectFailure(t *testing.T) {
	fp := &fakePlatform{installed: true, connectErr: errors.New("invalid setup key")}
	c := NewWithPlatform(fp, Options{})

	err := c.Setup(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageConnect, se.Stage)
	assert.Contains(t, err.Error(), "invalid setup key")
}

func TestController_LogoutFailureIsIgnored(t *testing.T) {
	fp := &fakePlatform{installed: true, logoutErr: errors.New("not logged in")}
	c := NewWithPlatform(fp, Options{})

	assert.NoError(t, c.Logout(context.Background()))
	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))
	assert.Equal(t, []string{"logout", "logout", "connect"}, fp.Calls())
}

func TestController_LogoutNotInstalled(t *testing.T) {
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{})

	assert.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, fp.Calls())
}

func TestController_ConnectNotInstalled(t *testing.T) {
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{})

	err := c.Connect(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageConnect, se.Stage)
	assert.Empty(t, fp.Calls())
}

func TestController_ConnectTimeout(t *testing.T) {
	fp := &fakePlatform{installed: true, connectWait: make(chan struct{})}
	c := NewWithPlatform(fp, Options{ConnectTimeout: 50 * time.Millisecond})

	err := c.Connect(context.Background(), "KEY-1234")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_SetupIsIdempotent(t *testing.T) {
	fp := &fakePlatform{installed: true}
	c := NewWithPlatform(fp, Options{})

	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))
	require.NoError(t, c.Setup(context.Background(), "KEY-1234"))

	assert.Equal(t, []string{"logout", "connect", "logout", "connect"}, fp.Calls())
}

func TestController_SetupSerialized(t *testing.T) {
	fp := &fakePlatform{installed: true, connectWait: make(chan struct{})}
	c := NewWithPlatform(fp, Options{ConnectTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	for _, key := range []string{"KEY-AAAA", "KEY-BBBB"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			assert.NoError(t, c.Setup(context.Background(), k))
		}(key)
	}

	time.Sleep(50 * time.Millisecond)
	close(fp.connectWait)
	wg.Wait()

	assert.False(t, fp.overlap.Load())
	assert.ElementsMatch(t, []string{"KEY-AAAA", "KEY-BBBB"}, fp.keys)
}

func TestController_Status(t *testing.T) {
	c := NewWithPlatform(&fakePlatform{installed: true}, Options{})
	out, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "Connected")

	_, err = NewWithPlatform(&fakePlatform{}, Options{}).Status(context.Background())
	assert.Error(t, err)
}

func TestController_InstallerURLOverride(t *testing.T) {
	c := NewWithPlatform(&fakePlatform{}, Options{InstallerURL: "https://mirror.example/netbird"})
	assert.Equal(t, "https://mirror.example/netbird", c.InstallerURL())
}

func TestManagementConnected(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"connected", "Daemon version: 0.28.4\nManagement: Connected\nSignal: Connected\n", true},
		{"disconnected", "Management: Disconnected\nSignal: Connected\n", false},
		{"indented lower case", "  management:   connected  ", true},
		{"no management line", "Daemon status: NeedsLogin\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, managementConnected(tt.status))
		})
	}
}

func TestController_Connected(t *testing.T) {
	ctx := context.Background()

	assert.True(t, NewWithPlatform(&fakePlatform{installed: true}, Options{}).Connected(ctx))
	assert.False(t, NewWithPlatform(&fakePlatform{installed: true, status: "Management: Disconnected"}, Options{}).Connected(ctx))
	assert.False(t, NewWithPlatform(&fakePlatform{}, Options{}).Connected(ctx), "not installed")
}

func TestController_InstallWithProgress(t *testing.T) {
	srv := serveInstaller(t, "installer-bytes")
	fp := &fakePlatform{}
	c := NewWithPlatform(fp, Options{InstallerURL: srv.URL})

	var last atomic.Int64
	err := c.InstallWithProgress(context.Background(), func(downloaded, total int64) {
		last.Store(downloaded)
	})
	require.NoError(t, err)

	assert.Equal(t, int64(len("installer-bytes")), last.Load())
	assert.Equal(t, []string{"install"}, fp.Calls())
}
