package netmon

import (
	"context"
	"time"
)

// Debouncer coalesces bursts of network events into one. A burst ends once
// no event arrived for the interval; the last event of the burst is emitted
// with Coalesced set to the burst size.
type Debouncer struct {
	interval time.Duration
	input    <-chan Event
	output   chan Event
}

// NewDebouncer creates a debouncer for input.
func NewDebouncer(input <-chan Event, interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		input:    input,
		output:   make(chan Event),
	}
}

// Run starts the debouncer and returns the output channel. The output closes
// when ctx is done or input closes, after flushing any pending burst.
func (d *Debouncer) Run(ctx context.Context) <-chan Event {
	go d.loop(ctx)
	return d.output
}

func (d *Debouncer) loop(ctx context.Context) {
	defer close(d.output)

	timer := time.NewTimer(d.interval)
	timer.Stop()
	defer timer.Stop()

	var pending Event
	var count int

	emit := func() bool {
		if count == 0 {
			return true
		}
		pending.Coalesced = count
		count = 0
		select {
		case d.output <- pending:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				emit()
				return
			}
			pending = event
			count++
			timer.Reset(d.interval)

		case <-timer.C:
			if !emit() {
				return
			}
		}
	}
}
