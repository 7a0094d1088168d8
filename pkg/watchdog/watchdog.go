// Package watchdog implements the per-connection liveness state machine
// described in §4.3: it turns a broker client's "keeps retrying forever"
// into a bounded, observable timeout.
package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/metricq/metricq-go/internal/mlog"
)

type state int32

const (
	stateNeither state = iota
	stateEstablished
	stateClosed
)

// Watchdog holds two mutually-exclusive events (established, closed) and
// drives one background task that enforces a reconnect timeout. The zero
// value is not ready; use New.
type Watchdog struct {
	log *mlog.Logger

	mu            sync.Mutex
	state         state
	establishedCh chan struct{}
	closedCh      chan struct{}

	name    string
	timeout time.Duration
	onFire  func(*Watchdog)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Watchdog; it does nothing until Start is called.
func New(log *mlog.Logger) *Watchdog {
	if log == nil {
		log = mlog.NOP()
	}
	return &Watchdog{
		log:           log,
		establishedCh: make(chan struct{}),
		closedCh:      make(chan struct{}),
	}
}

// Start begins the single background task: it waits up to timeout for
// SetEstablished; on timeout it invokes onTimeout(w) and the task exits; on
// success it waits for SetClosed and resumes waiting for the next
// SetEstablished. A second Start call without an intervening Stop is a
// logged no-op, matching the source implementation's redundant-start
// handling.
func (w *Watchdog) Start(ctx context.Context, timeout time.Duration, name string, onTimeout func(*Watchdog)) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Infof("watchdog %q already running; ignoring redundant start", name)
		return
	}

	w.mu.Lock()
	w.name = name
	w.timeout = timeout
	w.onFire = onTimeout
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(runCtx)
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	for {
		established := w.Established()
		timer := time.NewTimer(w.timeout)
		select {
		case <-established:
			timer.Stop()
		case <-timer.C:
			w.log.Warnf("connection %q did not establish within %s, firing timeout", w.name, w.timeout)
			if w.onFire != nil {
				w.onFire(w)
			}
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}

		closed := w.Closed()
		select {
		case <-closed:
		case <-ctx.Done():
			return
		}
	}
}

// SetEstablished atomically sets the established event and clears closed.
// Any goroutine already blocked on Established() observes the change as
// soon as this call returns.
func (w *Watchdog) SetEstablished() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = stateEstablished
	closeIfOpen(w.establishedCh)
	w.closedCh = make(chan struct{})
}

// SetClosed atomically sets the closed event and clears established.
func (w *Watchdog) SetClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = stateClosed
	closeIfOpen(w.closedCh)
	w.establishedCh = make(chan struct{})
}

func closeIfOpen(ch chan struct{}) {
	select {
	case <-ch:
		// already closed
	default:
		close(ch)
	}
}

// Established returns a channel that is closed once the connection is
// (or becomes) established.
func (w *Watchdog) Established() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.establishedCh
}

// Closed returns a channel that is closed once the connection is (or
// becomes) closed.
func (w *Watchdog) Closed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedCh
}

// WaitEstablished blocks until the connection is established or ctx is
// done, whichever comes first. Publishers use this to defer sending during
// a reconnect.
func (w *Watchdog) WaitEstablished(ctx context.Context) error {
	select {
	case <-w.Established():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsEstablished reports the current state without blocking.
func (w *Watchdog) IsEstablished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateEstablished
}

// Stop cancels the background task idempotently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
