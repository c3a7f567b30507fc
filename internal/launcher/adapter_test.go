package launcher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ryvie/ryvie-launcher/internal/browser"
	"github.com/ryvie/ryvie-launcher/internal/probe"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localURL = "http://ryvie.local:3000"

type stubProber struct {
	mu       sync.Mutex
	result   probe.Result
	reachErr error
}

func (s *stubProber) set(res probe.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = res
}

func (s *stubProber) Probe(context.Context) probe.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *stubProber) CheckReachable(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachErr
}

type memStore struct {
	mu  sync.Mutex
	rec *record.Record
}

func (m *memStore) Load() (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, nil
	}
	c := m.rec.Clone()
	return &c, nil
}

func (m *memStore) Save(rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	m.rec = &c
	return nil
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeOpener) Open(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.err
}

func (f *fakeOpener) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

var _ browser.Opener = (*fakeOpener)(nil)

type harness struct {
	prober   *stubProber
	store    *memStore
	opener   *fakeOpener
	resolver *resolver.Resolver
	adapter  *Adapter
	out      *bytes.Buffer
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()

	h := &harness{
		prober: &stubProber{},
		store:  &memStore{},
		opener: &fakeOpener{},
		out:    &bytes.Buffer{},
	}
	h.resolver = resolver.New(resolver.Config{
		Prober:      h.prober,
		Store:       h.store,
		LocalAppURL: localURL,
	})
	h.adapter = New(Config{
		Resolver:      h.resolver,
		Opener:        h.opener,
		Renderer:      NewTerminalRenderer(&syncWriter{w: h.out}, true, false),
		AutoOpenDelay: delay,
	})
	h.resolver.AddObserver(h.adapter)
	t.Cleanup(h.resolver.Close)
	return h
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func localResult(id string) probe.Result {
	return probe.Result{Success: true, DeviceID: id, Domains: map[string]string{"app": "app.example"}}
}

func TestAdapter_AutoOpenOnlyAfterInitialCycle(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.prober.set(localResult("ryvie-1"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(h.opener.URLs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{localURL}, h.opener.URLs())

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentRefresh))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.opener.URLs(), 1, "manual refresh never auto-opens")
}

func TestAdapter_ManualOpenCancelsAutoOpen(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	h.prober.set(localResult("ryvie-1"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	require.True(t, h.adapter.AutoOpener().Pending())

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentOpen))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, []string{localURL}, h.opener.URLs(), "only the manual open happened")
}

func TestAdapter_RefreshCancelsPendingAutoOpen(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	h.prober.set(localResult("ryvie-1"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentRefresh))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, h.opener.URLs())
}

func TestAdapter_RetryAfterErrorDoesNotAutoOpen(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)

	snap, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	require.Equal(t, resolver.StateError, snap.State)
	assert.Equal(t, RegionError, h.adapter.View().Region)

	h.prober.set(localResult("ryvie-1"))
	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentRetry))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, RegionConnected, h.adapter.View().Region)
	assert.Empty(t, h.opener.URLs())
}

func TestAdapter_OpenWithoutConnection(t *testing.T) {
	h := newHarness(t, time.Second)

	err := h.adapter.Dispatch(context.Background(), IntentOpen)
	assert.ErrorIs(t, err, ErrNothingToOpen)

	_, err = h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	err = h.adapter.Dispatch(context.Background(), IntentOpen)
	assert.ErrorIs(t, err, ErrNothingToOpen)
	assert.Empty(t, h.opener.URLs())
}

func TestAdapter_ToggleReveal(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.prober.set(localResult("ryvie-secret"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "ryvi••••", h.adapter.View().Identity)

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentToggleReveal))
	assert.Equal(t, "ryvie-secret", h.adapter.View().Identity)

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentToggleReveal))
	assert.Equal(t, "ryvi••••", h.adapter.View().Identity)
}

func TestAdapter_IdentityChangeRefuse(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.store.rec = &record.Record{Mode: record.ModeLocal, RyvieID: "ryvie-old", Domains: map[string]string{"app": "old.example"}}
	h.prober.set(localResult("ryvie-new"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerManual)
	require.NoError(t, err)

	v := h.adapter.View()
	assert.Equal(t, RegionConnected, v.Region)
	assert.True(t, v.Overlay)

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentRefuse))

	v = h.adapter.View()
	assert.False(t, v.Overlay)
	assert.Equal(t, "Public", v.Mode)
	assert.Equal(t, "https://old.example", v.URL)
}

func TestAdapter_RefuseDuringInitialCycleDoesNotAutoOpen(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.store.rec = &record.Record{Mode: record.ModeLocal, RyvieID: "ryvie-old", Domains: map[string]string{"app": "old.example"}}
	h.prober.set(localResult("ryvie-new"))
	h.prober.reachErr = errors.New("connection refused")

	_, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)
	require.True(t, h.adapter.View().Overlay)

	require.NoError(t, h.adapter.Dispatch(context.Background(), IntentRefuse))
	assert.Equal(t, "Public", h.adapter.View().Mode)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.opener.URLs())
	assert.False(t, h.adapter.AutoOpener().Pending())
}

func TestAdapter_LoopDispatchesKeys(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.store.rec = &record.Record{Mode: record.ModeLocal, RyvieID: "ryvie-old"}
	h.prober.set(localResult("ryvie-new"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, h.adapter.Loop(context.Background(), strings.NewReader("a")))

	v := h.adapter.View()
	assert.False(t, v.Overlay)
	assert.Equal(t, "Local", v.Mode)
	assert.Equal(t, "ryvie-new", h.store.rec.RyvieID)
}

func TestAdapter_LoopStopsOnQuit(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.prober.set(localResult("ryvie-1"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, h.adapter.Loop(context.Background(), strings.NewReader("qo")))
	assert.Empty(t, h.opener.URLs())
}

func TestAdapter_ReportsOpenFailure(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.opener.err = errors.New("xdg-open: not found")
	h.prober.set(localResult("ryvie-1"))

	_, err := h.resolver.Run(context.Background(), resolver.TriggerInitial)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(readOut(h), "Could not open the browser")
	}, time.Second, 5*time.Millisecond)
}

func readOut(h *harness) string {
	w := h.adapter.renderer.(*TerminalRenderer).w.(*syncWriter)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.String()
}

func TestAdapter_UnknownIntent(t *testing.T) {
	h := newHarness(t, time.Hour)
	assert.Error(t, h.adapter.Dispatch(context.Background(), Intent(42)))
}
