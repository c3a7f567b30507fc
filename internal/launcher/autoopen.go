package launcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
)

// DefaultAutoOpenDelay is the pause between the first connection and the
// automatic browser open.
const DefaultAutoOpenDelay = 2 * time.Second

// AutoOpener opens the URL of the session's first connection once, after a
// delay. A manual open or a new cycle cancels a pending open.
type AutoOpener struct {
	mu       sync.Mutex
	delay    time.Duration
	open     func(url string)
	timer    *time.Timer
	gen      uint64
	consumed bool

	inflight sync.WaitGroup // one per scheduled open, until it runs or is stopped
}

// NewAutoOpener creates an auto-opener that calls open when it fires.
func NewAutoOpener(delay time.Duration, open func(url string)) *AutoOpener {
	if delay < 0 {
		delay = 0
	}
	return &AutoOpener{delay: delay, open: open}
}

// OnSnapshot schedules or cancels the automatic open.
func (a *AutoOpener) OnSnapshot(s resolver.Snapshot) {
	switch {
	case s.State == resolver.StateLoading:
		a.Cancel()
	case s.State == resolver.StateConnected && s.Trigger == resolver.TriggerInitial && s.URL != "":
		a.schedule(s.URL)
	}
}

func (a *AutoOpener) schedule(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.consumed || a.timer != nil {
		return
	}

	gen := a.gen
	a.inflight.Add(1)
	a.timer = time.AfterFunc(a.delay, func() {
		defer a.inflight.Done()

		a.mu.Lock()
		if a.consumed || a.gen != gen {
			a.mu.Unlock()
			return
		}
		a.consumed = true
		a.timer = nil
		a.mu.Unlock()

		log.Debug().Str("url", url).Msg("auto-opening browser")
		a.open(url)
	})
	log.Debug().Dur("delay", a.delay).Msg("auto-open scheduled")
}

// Cancel stops a pending automatic open.
func (a *AutoOpener) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// ConsumeManual cancels any pending open and uses up the session's
// automatic open.
func (a *AutoOpener) ConsumeManual() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.consumed = true
}

func (a *AutoOpener) stopLocked() {
	a.gen++
	if a.timer != nil {
		if a.timer.Stop() {
			a.inflight.Done()
		}
		a.timer = nil
	}
}

// Wait blocks until a scheduled open has run or been cancelled.
func (a *AutoOpener) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether an automatic open is scheduled.
func (a *AutoOpener) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Consumed reports whether the session's automatic open is used up.
func (a *AutoOpener) Consumed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consumed
}
