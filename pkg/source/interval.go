package source

import (
	"context"
	"sync"
	"time"

	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/rpc"
)

// UpdateFunc is the periodic callback an IntervalSource drives.
type UpdateFunc func(ctx context.Context) error

// IntervalSource is a Source whose task() maintains a monotonic deadline
// (§4.6): update() is invoked every period, and a slow update() that
// overruns the deadline is caught up by advancing the deadline in place
// rather than queuing parallel invocations (P5).
type IntervalSource struct {
	*Source

	period time.Duration
	update UpdateFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewIntervalSource wraps a Source with a fixed-period driver.
func NewIntervalSource(cfg dataclient.Config, registry *rpc.Registry, period time.Duration, update UpdateFunc) *IntervalSource {
	return &IntervalSource{
		Source: New(cfg, registry, nil),
		period: period,
		update: update,
		stopCh: make(chan struct{}),
	}
}

// Connect starts the management/data handshake, then launches the interval
// driver as the Source's task().
func (s *IntervalSource) Connect(ctx context.Context) error {
	if err := s.Source.Connect(ctx); err != nil {
		return err
	}
	s.RunTask(s.run)
	return nil
}

func (s *IntervalSource) run(ctx context.Context) error {
	deadline := time.Now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		if err := s.update(ctx); err != nil {
			return err
		}

		deadline = deadline.Add(s.period)
		for !deadline.After(time.Now()) {
			s.Log().Warnf("interval source missed deadline, catching up")
			deadline = deadline.Add(s.period)
		}

		timer.Reset(time.Until(deadline))
		select {
		case <-timer.C:
		case <-s.stopCh:
			if !timer.Stop() {
				<-timer.C
			}
			return nil
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return nil
		}
	}
}

// Stop signals the interval loop to exit after its current update()
// completes, then delegates to the embedded Source/Agent Stop.
func (s *IntervalSource) Stop(cause error) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.Source.Stop(cause)
}
