// Package push provides the sync trigger: a fire-and-forget notifier that
// schedules a background push of dirty rows after any local mutation.
//
// Notify never blocks the caller and coalesces bursts of mutations into a
// single push attempt after a short debounce. Retry and backoff are the
// transport's concern; the worker only guarantees "eventually attempt to
// push".
package push

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transport ships dirty rows to the remote service. Implementations own
// their retry/backoff policy; the worker treats a returned error as
// "try again on the next notification".
type Transport interface {
	Push(ctx context.Context) error
}

// NopTransport discards pushes. Used when no remote is configured and in
// tests.
type NopTransport struct{}

// Push implements Transport.
func (NopTransport) Push(context.Context) error { return nil }

// Config holds trigger tuning.
type Config struct {
	// Debounce is how long to wait after a notification before pushing,
	// batching rapid mutations together.
	Debounce time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Debounce: 250 * time.Millisecond}
}

// Trigger coalesces mutation notifications and drives the push worker.
type Trigger struct {
	transport Transport
	config    Config
	log       zerolog.Logger

	notify chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a trigger. Call Start to launch the worker.
func New(transport Transport, config Config, log zerolog.Logger) *Trigger {
	if transport == nil {
		transport = NopTransport{}
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	return &Trigger{
		transport: transport,
		config:    config,
		log:       log,
		// Capacity 1: a pending notification already covers any newer
		// mutations, so extra sends are dropped.
		notify: make(chan struct{}, 1),
	}
}

// Start launches the background worker. The worker runs until Stop is
// called or ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx)
}

// Stop shuts the worker down and waits for an in-flight push to finish.
func (t *Trigger) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Notify schedules a background push. Non-blocking and safe to call from
// any goroutine, any number of times.
func (t *Trigger) Notify() {
	select {
	case t.notify <- struct{}{}:
	default:
		// A push is already pending; it will cover this mutation too.
	}
}

// run consumes notifications, debounces, and invokes the transport.
func (t *Trigger) run(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.notify:
		}

		// Debounce: let a burst of mutations settle before pushing.
		timer := time.NewTimer(t.config.Debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := t.transport.Push(ctx); err != nil {
			t.log.Warn().Err(err).Msg("background push failed")
			continue
		}
		t.log.Debug().Msg("background push completed")
	}
}
