package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
	"github.com/ryvie/ryvie-launcher/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeOK = `{
  "success": true,
  "ryvieId": "ryvie-abcdef",
  "domains": {"app": "app.ryvie.example"},
  "tunnelHost": "tunnel.ryvie.example"
}`

// writeConfig writes a launcher config pointing the probe at probeURL.
func writeConfig(t *testing.T, probeURL string) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfg := "data_dir: " + dataDir + "\n" +
		"probe:\n  url: " + probeURL + "\n  timeout: 2s\n" +
		"public:\n  timeout: 1s\n" +
		"local:\n  app_url: http://ryvie.local:3000\n"
	return testutil.TempFile(t, dir, "launcher.yaml", cfg), dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func probeServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"launch"}, {"status"}, {"open"}, {"version"}, {"agent"},
		{"record", "show"}, {"record", "clear"},
		{"mesh", "status"}, {"mesh", "install"}, {"mesh", "setup"}, {"mesh", "logout"},
		{"service", "install"}, {"service", "uninstall"}, {"service", "start"},
		{"service", "stop"}, {"service", "status"}, {"service", "logs"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], strings.Fields(cmd.Use)[0])
	}

	for _, flag := range []string{"no-open", "qr", "qr-png", "batch"} {
		assert.NotNil(t, root.Flags().Lookup(flag), "root runs launch and accepts --%s", flag)
	}
	assert.True(t, root.PersistentFlags().Lookup("service-run").Hidden)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ryvie "+Version)
}

func TestStatusCommand_Local(t *testing.T) {
	srv := probeServer(t, http.StatusOK, probeOK)
	cfgPath, dataDir := writeConfig(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "state:    connected")
	assert.Contains(t, out, "mode:     Local")
	assert.Contains(t, out, "identity: ryvi••••")
	assert.Contains(t, out, "url:      http://ryvie.local:3000")

	rec, err := record.NewStore(filepath.Join(dataDir, "ryvie-config.json"), "").Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ryvie-abcdef", rec.RyvieID)
	assert.Equal(t, record.ModeLocal, rec.Mode)
}

func TestStatusCommand_FirstRunAway(t *testing.T) {
	cfgPath, _ := writeConfig(t, testutil.ClosedURL(t))

	out, err := execute(t, "--config", cfgPath, "status")
	var exit exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "state:    error")
	assert.Contains(t, out, resolver.MsgFirstTimeLocal)
}

func TestRecordShowAndClear(t *testing.T) {
	srv := probeServer(t, http.StatusOK, probeOK)
	cfgPath, dataDir := writeConfig(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "record", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No Ryvie remembered yet")

	_, err = execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfgPath, "record", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"ryvieId": "ryvi••••"`)
	assert.Contains(t, out, `"publicUrl": "https://app.ryvie.example"`)

	out, err = execute(t, "--config", cfgPath, "record", "show", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, `"ryvieId": "ryvie-abcdef"`)

	out, err = execute(t, "--config", cfgPath, "record", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")
	_, statErr := os.Stat(filepath.Join(dataDir, "ryvie-config.json"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestLaunchBatch_NoOpen(t *testing.T) {
	srv := probeServer(t, http.StatusOK, probeOK)
	cfgPath, dataDir := writeConfig(t, srv.URL)
	png := filepath.Join(dataDir, "qr.png")

	out, err := execute(t, "--config", cfgPath, "launch", "--batch", "--no-open", "--qr-png", png)
	require.NoError(t, err)
	assert.Contains(t, out, "Looking for your Ryvie")
	assert.Contains(t, out, "connected (Local)")

	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

type fakeStore struct {
	rec *record.Record
	err error
}

func (f fakeStore) Load() (*record.Record, error) { return f.rec, f.err }
func (f fakeStore) Path() string                  { return "/tmp/ryvie-config.json" }

func TestSetupKeyFor(t *testing.T) {
	remembered := fakeStore{rec: &record.Record{Mode: record.ModeLocal, SetupKey: "KEY-STORED"}}
	noEnv := func(string) string { return "" }
	env := func(name string) string {
		if name == setupKeyEnv {
			return " KEY-ENV\n"
		}
		return ""
	}

	tests := []struct {
		name   string
		args   []string
		stdin  string
		getenv func(string) string
		store  recordStore
		want   string
	}{
		{"argument", []string{"KEY-ARG"}, "", env, remembered, "KEY-ARG"},
		{"stdin", []string{"-"}, "KEY-STDIN\nignored\n", env, remembered, "KEY-STDIN"},
		{"stdin without newline", []string{"-"}, "KEY-STDIN", noEnv, fakeStore{}, "KEY-STDIN"},
		{"environment before record", nil, "", env, remembered, "KEY-ENV"},
		{"remembered record", nil, "", noEnv, remembered, "KEY-STORED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := setupKeyFor(tt.args, strings.NewReader(tt.stdin), tt.getenv, tt.store)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestSetupKeyFor_Errors(t *testing.T) {
	noEnv := func(string) string { return "" }

	_, err := setupKeyFor(nil, strings.NewReader(""), noEnv, fakeStore{})
	assert.Error(t, err)

	_, err = setupKeyFor([]string{"-"}, strings.NewReader("\n"), noEnv, fakeStore{})
	assert.Error(t, err)

	boom := errors.New("corrupt")
	_, err = setupKeyFor(nil, strings.NewReader(""), noEnv, fakeStore{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	progress := progressPrinter(&out)

	progress(0, 100)
	progress(1, 100)
	progress(1, 100)
	progress(100, 100)

	assert.Equal(t, "\r  0 B / 100 B (0%)\r  1 B / 100 B (1%)\r  100 B / 100 B (100%)", out.String())
}

func TestProgressPrinter_UnknownTotal(t *testing.T) {
	var out bytes.Buffer
	progress := progressPrinter(&out)

	progress(10, 0)
	progress(20, 0)

	assert.Equal(t, "\r  10 B", out.String(), "one line per MB without a total")
}

func TestShowRecord_MasksSecrets(t *testing.T) {
	var out bytes.Buffer
	store := fakeStore{rec: &record.Record{
		Mode:     record.ModePublic,
		RyvieID:  "ryvie-123456",
		SetupKey: "ABCDEF-SECRET",
		Domains:  map[string]string{"app": "app.example"},
	}}

	require.NoError(t, showRecord(&out, store, false))
	assert.Contains(t, out.String(), `"setupKey": "ABCD…"`)
	assert.NotContains(t, out.String(), "SECRET")
	assert.Contains(t, out.String(), `"file": "/tmp/ryvie-config.json"`)
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	printSnapshot(&out, resolver.Snapshot{
		State: resolver.StateError,
		Err:   &resolver.Error{Kind: resolver.KindPublicUnreachable, Message: resolver.MsgDeviceUnreachable},
	})
	assert.Equal(t, "state:    error\nerror:    "+resolver.MsgDeviceUnreachable+"\n", out.String())
}

func TestQRFileObserver_WritesOncePerURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.png")
	obs := qrFileObserver(path)

	obs.OnSnapshot(resolver.Snapshot{State: resolver.StateLoading})
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	obs.OnSnapshot(resolver.Snapshot{State: resolver.StateConnected, URL: "https://app.example"})
	info, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	obs.OnSnapshot(resolver.Snapshot{State: resolver.StateConnected, URL: "https://app.example"})
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "same URL is not rewritten")
	assert.NotZero(t, info.Size())
}

func TestTick(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := tick(ctx, 10*time.Millisecond, func() { calls.Add(1) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestServeMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestServeMetrics_BadAddress(t *testing.T) {
	err := serveMetrics(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestExitError(t *testing.T) {
	var exit exitError
	require.True(t, errors.As(error(exitError{code: 1}), &exit))
	assert.Equal(t, "exit status 1", exit.Error())
}
