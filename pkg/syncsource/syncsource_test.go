package syncsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/source"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

// newHarness builds a SynchronousSource with its loop goroutine running but
// bypassing Source.Connect (which needs a live broker): it exercises the
// job/submit/Send/Stop machinery directly, the same way other packages'
// tests bypass Agent.Connect to test the pieces that don't need one.
func newHarness(t *testing.T) *SynchronousSource {
	t.Helper()
	s := &SynchronousSource{
		Source:  source.New(dataclient.Config{Config: agent.Config{URL: "amqp://unused", Token: "test-sync-source"}}, nil, nil),
		name:    nextName(),
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(s.stopped)
		for {
			select {
			case j := <-s.jobs:
				j.done <- j.fn(context.Background())
			case <-s.quit:
				return
			}
		}
	}()
	return s
}

func TestSubmitReturnsFnResult(t *testing.T) {
	s := newHarness(t)

	require.NoError(t, s.submit(func(ctx context.Context) error { return nil }, time.Second))

	wantErr := errors.New("boom")
	err := s.submit(func(ctx context.Context) error { return wantErr }, time.Second)
	assert.ErrorIs(t, err, wantErr)
}

func TestSubmitReturnsAgentStoppedWhenLoopExited(t *testing.T) {
	s := newHarness(t)
	s.Stop(nil, time.Second)

	err := s.submit(func(ctx context.Context) error { return nil }, 50*time.Millisecond)
	var stopped *mqerr.AgentStopped
	assert.ErrorAs(t, err, &stopped)
}

func TestSendNonBlockingReturnsImmediately(t *testing.T) {
	s := newHarness(t)
	s.Watchdog().SetEstablished()

	err := s.Send("m", timeutil.Now(), 1.0, 1, false, 0)
	assert.NoError(t, err)
}

func TestSendBlockingSwallowsPublishErrors(t *testing.T) {
	s := newHarness(t)
	s.Watchdog().SetEstablished()

	// No data channel is open, so the underlying publish fails; Send must
	// still report success to the caller (§4.9: errors logged, not rethrown).
	err := s.Send("m", timeutil.Now(), 1.0, 1, true, time.Second)
	assert.NoError(t, err)
}

func TestSendBlockingPropagatesLoopStopped(t *testing.T) {
	s := newHarness(t)
	s.Stop(nil, time.Second)

	err := s.Send("m", timeutil.Now(), 1.0, 1, true, 50*time.Millisecond)
	var stopped *mqerr.AgentStopped
	assert.ErrorAs(t, err, &stopped)
}

func TestStopJoinsLoopAndIsIdempotent(t *testing.T) {
	s := newHarness(t)

	s.Stop(nil, time.Second)
	select {
	case <-s.stopped:
	default:
		t.Fatal("loop goroutine did not exit after Stop")
	}

	assert.NotPanics(t, func() { s.Stop(nil, time.Second) })
}

func TestNameIsUniquePerInstance(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	assert.NotEqual(t, a.Name(), b.Name())
}
