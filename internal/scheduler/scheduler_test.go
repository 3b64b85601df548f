package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
	syncengine "github.com/firmsync/firmsync/internal/sync"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *stubRunner) RunAll(ctx context.Context) ([]*models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []*models.Report{{Entity: models.EntityExchanges, State: models.RunReporting}}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testConfig() Config {
	return Config{Interval: time.Hour, CBThreshold: 2, CBTimeout: time.Hour}
}

func TestTickSuccess(t *testing.T) {
	runner := &stubRunner{}
	s := New(runner, testConfig(), nil)

	s.Tick(context.Background())

	assert.Equal(t, 1, runner.callCount())
	_, err := s.LastRun()
	assert.NoError(t, err)
	assert.Equal(t, CircuitClosed, s.cb.State())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	runner := &stubRunner{err: stderrors.New("provider down")}
	s := New(runner, testConfig(), nil)

	s.Tick(context.Background())
	s.Tick(context.Background())
	assert.Equal(t, CircuitOpen, s.cb.State())

	// Open circuit: the runner is not called again.
	s.Tick(context.Background())
	assert.Equal(t, 2, runner.callCount())
}

func TestAuthFailureTripsImmediately(t *testing.T) {
	runner := &stubRunner{err: &errors.ErrAuthorizationRequired{Provider: "practicehub", Reason: "refresh token rejected"}}
	s := New(runner, testConfig(), nil)

	s.Tick(context.Background())

	assert.Equal(t, CircuitOpen, s.cb.State())
	s.Tick(context.Background())
	assert.Equal(t, 1, runner.callCount())
}

func TestRunInProgressIsNotAFailure(t *testing.T) {
	runner := &stubRunner{err: syncengine.ErrRunInProgress}
	s := New(runner, testConfig(), nil)

	for i := 0; i < 5; i++ {
		s.Tick(context.Background())
	}

	assert.Equal(t, CircuitClosed, s.cb.State())
	assert.Equal(t, 5, runner.callCount())
}

func TestResetBreakerResumes(t *testing.T) {
	runner := &stubRunner{err: stderrors.New("provider down")}
	s := New(runner, testConfig(), nil)

	s.Tick(context.Background())
	s.Tick(context.Background())
	require.Equal(t, CircuitOpen, s.cb.State())

	runner.err = nil
	s.ResetBreaker()
	s.Tick(context.Background())

	assert.Equal(t, 3, runner.callCount())
	assert.Equal(t, CircuitClosed, s.cb.State())
}

func TestStartStop(t *testing.T) {
	runner := &stubRunner{}
	s := New(runner, testConfig(), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop() // idempotent
}

func TestStartRejectsZeroInterval(t *testing.T) {
	s := New(&stubRunner{}, Config{Interval: 0}, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}
