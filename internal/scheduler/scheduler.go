// Package scheduler drives unattended syncing: it runs a full sync of
// every entity on a fixed interval, with a circuit breaker so a broken
// provider (or a revoked credential) does not get hammered every tick.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
	syncengine "github.com/firmsync/firmsync/internal/sync"
)

// Runner executes a full sync pass. Satisfied by the sync engine.
type Runner interface {
	RunAll(ctx context.Context) ([]*models.Report, error)
}

// Config holds scheduler configuration.
type Config struct {
	Interval    time.Duration
	CBThreshold int
	CBTimeout   time.Duration
}

// DefaultConfig returns the default scheduler configuration for the
// given sync interval.
func DefaultConfig(interval time.Duration) Config {
	return Config{
		Interval:    interval,
		CBThreshold: 3,
		CBTimeout:   30 * time.Minute,
	}
}

// Scheduler runs full syncs on a fixed interval.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *logging.Logger
	cb     *CircuitBreaker

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	lastRunAt time.Time
	lastErr   error
}

// New creates a scheduler. Interval must be positive; callers should not
// construct a scheduler when scheduling is disabled.
func New(runner Runner, cfg Config, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if cfg.CBThreshold <= 0 {
		cfg.CBThreshold = 3
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Minute
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		cb:     NewCircuitBreaker(cfg.CBThreshold, cfg.CBTimeout),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String())
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
}

// IsRunning reports whether the scheduling loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastRun returns when the last tick fired and its error, if any.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt, s.lastErr
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled sync pass. Exposed so tests and the serve
// command can trigger a pass without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.cb.Allow() {
		s.logger.DebugWithContext(ctx, "scheduled sync skipped, circuit open")
		return
	}

	reports, err := s.runner.RunAll(ctx)

	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	switch {
	case err == nil:
		s.cb.RecordSuccess()
	case stderrors.Is(err, syncengine.ErrRunInProgress):
		// A manual run is underway; not a provider failure.
		s.logger.DebugWithContext(ctx, "scheduled sync skipped, run in progress")
	default:
		s.cb.RecordFailure()
		var authErr *errors.ErrAuthorizationRequired
		if stderrors.As(err, &authErr) {
			// No amount of retrying fixes a revoked credential. Force
			// the breaker open until an operator re-authorizes.
			s.cb.Trip()
		}
		s.logger.WarnWithContext(ctx, "scheduled sync failed",
			"error", err.Error(),
			"reports", len(reports))
	}
}

// ResetBreaker closes the circuit, typically after re-authorization.
func (s *Scheduler) ResetBreaker() {
	s.cb.RecordSuccess()
}
