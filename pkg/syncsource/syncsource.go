// Package syncsource implements SynchronousSource (§4.9): a Source driven by
// a dedicated event loop so synchronous callers (code with no event loop of
// their own) can publish. The Python original pins this to its own OS
// thread; the idiomatic Go equivalent is a dedicated goroutine reached only
// through channel submission, which gives the same "never shared mutable
// state, every handoff is a thread-safe promise" property (§5) without an
// actual second kernel thread.
package syncsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/source"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

const defaultTimeout = 60 * time.Second
const startupTimeout = 60 * time.Second

var (
	nameMu      sync.Mutex
	nameCounter int
)

// nextName returns a unique, human-readable identity for a new loop
// goroutine, guarded by a process-wide mutex (§4.9).
func nextName() string {
	nameMu.Lock()
	defer nameMu.Unlock()
	nameCounter++
	return fmt.Sprintf("metricq-sync-source-%d", nameCounter)
}

type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// SynchronousSource wraps a Source so blocking callers can submit work
// (send, declare_metrics, stop) from any goroutine; all of it actually runs
// serialized on the source's own dedicated loop goroutine.
type SynchronousSource struct {
	*source.Source

	name string
	jobs chan job
	quit chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

// New starts the loop goroutine and blocks up to 60s for it to connect.
// A connect failure (or a startup timeout) is returned here rather than
// discovered later, mirroring the constructor-time re-throw of §4.9.
func New(cfg dataclient.Config, registry *rpc.Registry, log *mlog.Logger) (*SynchronousSource, error) {
	if log == nil {
		log = mlog.NOP()
	}
	s := &SynchronousSource{
		Source:  source.New(cfg, registry, log),
		name:    nextName(),
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.loop(ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
		return s, nil
	case <-time.After(startupTimeout):
		return nil, &mqerr.ConnectFailed{Cause: fmt.Errorf("syncsource: %s did not become ready within %s", s.name, startupTimeout)}
	}
}

// Name is this instance's unique loop identity (§4.9).
func (s *SynchronousSource) Name() string { return s.name }

func (s *SynchronousSource) loop(ready chan<- error) {
	defer close(s.stopped)

	err := s.Source.Connect(context.Background())
	ready <- err
	if err != nil {
		return
	}

	for {
		select {
		case j := <-s.jobs:
			j.done <- j.fn(context.Background())
		case <-s.quit:
			return
		}
	}
}

// submit hands fn to the loop goroutine and blocks up to timeout for its
// result. Returns AgentStopped if the loop has already exited.
func (s *SynchronousSource) submit(fn func(ctx context.Context) error, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case s.jobs <- j:
	case <-s.stopped:
		return &mqerr.AgentStopped{}
	case <-time.After(timeout):
		return &mqerr.Timeout{Tag: "syncsource.submit"}
	}

	select {
	case err := <-j.done:
		return err
	case <-time.After(timeout):
		return &mqerr.Timeout{Tag: "syncsource.submit"}
	}
}

// Send schedules Source.Send on the loop goroutine. With block=true (the
// default a caller should use), Send waits up to timeout for the result;
// publish errors are logged but not returned, so a transient reconnect never
// surfaces as a caller-visible failure (§4.9) — only submission-level
// failures (loop stopped, submission/ack timeout) are returned. With
// block=false, Send returns as soon as the job is handed off and any
// eventual error is only logged.
func (s *SynchronousSource) Send(metric string, t timeutil.Timestamp, v float64, chunkSize int, block bool, timeout time.Duration) error {
	fn := func(ctx context.Context) error {
		return s.Source.Send(metric, t, v, chunkSize)
	}

	if !block {
		j := job{fn: fn, done: make(chan error, 1)}
		select {
		case s.jobs <- j:
		case <-s.stopped:
			return &mqerr.AgentStopped{}
		}
		go func() {
			if err := <-j.done; err != nil {
				s.Log().Warnf("syncsource: send(%s) failed: %v", metric, err)
			}
		}()
		return nil
	}

	if err := s.submit(fn, timeout); err != nil {
		if _, stopped := err.(*mqerr.AgentStopped); stopped {
			return err
		}
		if _, timedOut := err.(*mqerr.Timeout); timedOut {
			return err
		}
		s.Log().Warnf("syncsource: send(%s) failed: %v", metric, err)
	}
	return nil
}

// DeclareMetrics schedules Source.DeclareMetrics on the loop goroutine and
// blocks up to timeout for the result, propagating its error unlike Send
// (declare_metrics is typically a startup-time call callers need to observe
// failures from).
func (s *SynchronousSource) DeclareMetrics(metadata map[string]interface{}, timeout time.Duration) error {
	return s.submit(func(ctx context.Context) error {
		return s.Source.DeclareMetrics(ctx, metadata)
	}, timeout)
}

// Stop schedules the source's stop on the loop goroutine and joins it,
// waiting up to timeout for both steps (§4.9). jobs is never closed (a
// submit() racing this call would otherwise panic sending on a closed
// channel); quit is the loop's separate exit signal instead.
func (s *SynchronousSource) Stop(cause error, timeout time.Duration) {
	s.stopOnce.Do(func() {
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		// Best-effort: if the loop already exited (e.g. connect failed before
		// Stop was called), submit returns AgentStopped and there's nothing to
		// run Source.Stop on.
		_ = s.submit(func(ctx context.Context) error {
			s.Source.Stop(cause)
			return nil
		}, timeout)

		close(s.quit)

		select {
		case <-s.stopped:
		case <-time.After(timeout):
		}
	})
}
