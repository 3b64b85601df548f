// Package cleanup prunes aged-out data from the store: old sync run
// history and deactivated OAuth tokens. Synced records are never
// pruned; they are the point of the system.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/store"
)

// Vacuumer is implemented by stores that can reclaim space after a
// prune. The memory store does not bother.
type Vacuumer interface {
	Vacuum() error
}

// Stats contains cleanup statistics.
type Stats struct {
	TotalRuns       int           `json:"total_runs"`
	RunsDeleted     int64         `json:"runs_deleted"`
	TokensDeleted   int64         `json:"tokens_deleted"`
	LastRunAt       time.Time     `json:"last_run_at"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	VacuumCount     int           `json:"vacuum_count"`
	VacuumLastAt    time.Time     `json:"vacuum_last_at"`
}

// Manager handles periodic pruning of old data.
type Manager struct {
	cfg    config.RetentionConfig
	store  store.Store
	logger *logging.Logger

	ticker       *time.Ticker
	vacuumTicker *time.Ticker
	done         chan struct{}
	running      bool
	mu           sync.Mutex

	stats   Stats
	statsMu sync.RWMutex
}

// NewManager creates a cleanup manager over the given store.
func NewManager(cfg config.RetentionConfig, st store.Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Manager{
		cfg:    cfg,
		store:  st,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the background prune loop. Returns an error if the
// manager is already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cleanup manager is already running")
	}
	if !m.cfg.Enabled {
		return nil
	}

	m.running = true

	m.ticker = time.NewTicker(m.cfg.Interval)
	go m.runLoop(ctx)

	if m.cfg.VacuumEnabled {
		if _, ok := m.store.(Vacuumer); ok {
			m.vacuumTicker = time.NewTicker(m.cfg.VacuumInterval)
			go m.runVacuumLoop(ctx)
		}
	}

	m.logger.Info("cleanup manager started",
		"interval", m.cfg.Interval.String(),
		"run_retention", m.cfg.RunRetention.String(),
		"token_retention", m.cfg.TokenRetention.String())
	return nil
}

// Stop stops the background loops.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.vacuumTicker != nil {
		m.vacuumTicker.Stop()
	}
	close(m.done)
}

// IsRunning reports whether the background loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) runLoop(ctx context.Context) {
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-m.ticker.C:
			m.RunCleanup(ctx)
		}
	}
}

func (m *Manager) runVacuumLoop(ctx context.Context) {
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-m.vacuumTicker.C:
			if err := m.RunVacuum(); err != nil {
				m.logger.WarnWithContext(ctx, "vacuum failed", "error", err.Error())
			}
		}
	}
}

// RunCleanup prunes immediately and returns the updated stats.
func (m *Manager) RunCleanup(ctx context.Context) Stats {
	start := time.Now()
	now := start.UTC()

	runsDeleted, err := m.store.PruneRuns(now.Add(-m.cfg.RunRetention))
	if err != nil {
		m.logger.WarnWithContext(ctx, "run history prune failed", "error", err.Error())
	}

	tokensDeleted, err := m.store.PruneTokens(now.Add(-m.cfg.TokenRetention))
	if err != nil {
		m.logger.WarnWithContext(ctx, "token prune failed", "error", err.Error())
	}

	duration := time.Since(start)

	m.statsMu.Lock()
	m.stats.TotalRuns++
	m.stats.RunsDeleted += runsDeleted
	m.stats.TokensDeleted += tokensDeleted
	m.stats.LastRunAt = start
	m.stats.LastRunDuration = duration
	m.statsMu.Unlock()

	if runsDeleted > 0 || tokensDeleted > 0 {
		m.logger.InfoWithContext(ctx, "cleanup pass completed",
			"runs_deleted", runsDeleted,
			"tokens_deleted", tokensDeleted,
			"duration", duration.String())
	}

	return m.GetStats()
}

// RunVacuum vacuums the underlying database if the store supports it.
func (m *Manager) RunVacuum() error {
	v, ok := m.store.(Vacuumer)
	if !ok {
		return nil
	}

	err := v.Vacuum()

	m.statsMu.Lock()
	m.stats.VacuumCount++
	m.stats.VacuumLastAt = time.Now()
	m.statsMu.Unlock()

	return err
}

// GetStats returns a copy of the current cleanup statistics.
func (m *Manager) GetStats() Stats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.stats
}
