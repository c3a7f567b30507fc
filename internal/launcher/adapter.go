package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/browser"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
)

// ErrNothingToOpen is returned by the Open intent when no URL is connected.
var ErrNothingToOpen = errors.New("no connected URL to open")

// Intent is a user action.
type Intent int

const (
	IntentOpen Intent = iota
	IntentRefresh
	IntentRetry
	IntentAccept
	IntentRefuse
	IntentToggleReveal
)

// String returns the string representation of the intent.
func (i Intent) String() string {
	switch i {
	case IntentOpen:
		return "open"
	case IntentRefresh:
		return "refresh"
	case IntentRetry:
		return "retry"
	case IntentAccept:
		return "accept"
	case IntentRefuse:
		return "refuse"
	case IntentToggleReveal:
		return "toggle_reveal"
	default:
		return fmt.Sprintf("unknown(%d)", int(i))
	}
}

// Resolver is the part of the resolver the adapter drives.
type Resolver interface {
	Run(ctx context.Context, trigger resolver.Trigger) (resolver.Snapshot, error)
	Accept(ctx context.Context) (resolver.Snapshot, error)
	Refuse(ctx context.Context) (resolver.Snapshot, error)
	Current() resolver.Snapshot
}

// Renderer displays views and short notices.
type Renderer interface {
	Render(v View)
	Notice(msg string)
}

// Config holds adapter dependencies.
type Config struct {
	Resolver Resolver
	Opener   browser.Opener
	Renderer Renderer // Optional

	AutoOpenDelay   time.Duration
	DisableAutoOpen bool
}

// Adapter turns snapshots into views and intents into resolver calls.
// Register it as a resolver observer.
type Adapter struct {
	resolver Resolver
	opener   browser.Opener
	renderer Renderer
	auto     *AutoOpener

	mu     sync.Mutex
	reveal bool
	last   resolver.Snapshot
}

// New creates an adapter.
func New(cfg Config) *Adapter {
	a := &Adapter{
		resolver: cfg.Resolver,
		opener:   cfg.Opener,
		renderer: cfg.Renderer,
	}
	if cfg.Resolver != nil {
		a.last = cfg.Resolver.Current()
	}
	if cfg.AutoOpenDelay <= 0 {
		cfg.AutoOpenDelay = DefaultAutoOpenDelay
	}
	if !cfg.DisableAutoOpen {
		a.auto = NewAutoOpener(cfg.AutoOpenDelay, a.autoOpen)
	}
	return a
}

// AutoOpener returns the auto-opener, or nil when disabled.
func (a *Adapter) AutoOpener() *AutoOpener {
	return a.auto
}

// OnSnapshot implements resolver.Observer.
func (a *Adapter) OnSnapshot(s resolver.Snapshot) {
	a.mu.Lock()
	a.last = s
	reveal := a.reveal
	a.mu.Unlock()

	if a.auto != nil {
		a.auto.OnSnapshot(s)
	}
	a.render(BuildView(s, reveal))
}

// View returns the view for the latest snapshot.
func (a *Adapter) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return BuildView(a.last, a.reveal)
}

// Dispatch performs one user intent.
func (a *Adapter) Dispatch(ctx context.Context, intent Intent) error {
	log.Debug().Str("intent", intent.String()).Msg("dispatching intent")

	switch intent {
	case IntentOpen:
		return a.openCurrent(ctx)

	case IntentRefresh, IntentRetry:
		if a.auto != nil {
			a.auto.Cancel()
		}
		_, err := a.resolver.Run(ctx, resolver.TriggerManual)
		return err

	case IntentAccept:
		_, err := a.resolver.Accept(ctx)
		return err

	case IntentRefuse:
		_, err := a.resolver.Refuse(ctx)
		return err

	case IntentToggleReveal:
		a.mu.Lock()
		a.reveal = !a.reveal
		v := BuildView(a.last, a.reveal)
		a.mu.Unlock()
		a.render(v)
		return nil

	default:
		return fmt.Errorf("unknown intent %d", int(intent))
	}
}

func (a *Adapter) openCurrent(ctx context.Context) error {
	a.mu.Lock()
	s := a.last
	a.mu.Unlock()

	if !s.State.ShowsConnection() || s.URL == "" {
		return ErrNothingToOpen
	}
	if a.auto != nil {
		a.auto.ConsumeManual()
	}
	return a.opener.Open(ctx, s.URL)
}

func (a *Adapter) autoOpen(url string) {
	if err := a.opener.Open(context.Background(), url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
		a.notice("Could not open the browser: " + err.Error())
	}
}

func (a *Adapter) render(v View) {
	if a.renderer != nil {
		a.renderer.Render(v)
	}
}

func (a *Adapter) notice(msg string) {
	if a.renderer != nil {
		a.renderer.Notice(msg)
	}
}

// KeyIntent maps a key press to an intent for the given region. The second
// result is false for keys with no intent.
func KeyIntent(key rune, region Region) (Intent, bool) {
	switch key {
	case 'o', 'O':
		return IntentOpen, true
	case 'r', 'R':
		if region == RegionError {
			return IntentRetry, true
		}
		return IntentRefresh, true
	case 'a', 'A':
		return IntentAccept, true
	case 'x', 'X':
		return IntentRefuse, true
	case 'v', 'V':
		return IntentToggleReveal, true
	default:
		return 0, false
	}
}

// Loop reads single-letter commands from in until 'q', EOF or ctx is done.
// Intents run in the background so the busy gate is visible to the user.
func (a *Adapter) Loop(ctx context.Context, in io.Reader) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	keys := make(chan rune)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(in)
		for {
			r, _, err := br.ReadRune()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- r:
			case <-readCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		case key := <-keys:
			if key == 'q' || key == 'Q' {
				return nil
			}
			intent, ok := KeyIntent(key, a.View().Region)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.report(intent, a.Dispatch(ctx, intent))
			}()
		}
	}
}

func (a *Adapter) report(intent Intent, err error) {
	switch {
	case err == nil:
	case errors.Is(err, resolver.ErrBusy):
		a.notice("Still working, please wait.")
	case errors.Is(err, resolver.ErrNoPendingChange):
		a.notice("There is no device change to confirm.")
	case errors.Is(err, ErrNothingToOpen):
		a.notice("Nothing to open yet.")
	case errors.Is(err, context.Canceled):
	default:
		log.Debug().Err(err).Str("intent", intent.String()).Msg("intent failed")
		if intent != IntentAccept {
			// Accept failures are shown through the snapshot.
			a.notice(err.Error())
		}
	}
}
