package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/store"
)

func retentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Enabled:        true,
		Interval:       time.Hour,
		RunRetention:   30 * 24 * time.Hour,
		TokenRetention: 90 * 24 * time.Hour,
	}
}

func seedRun(t *testing.T, st *store.MemoryStore, age time.Duration) {
	t.Helper()
	started := time.Now().UTC().Add(-age)
	require.NoError(t, st.SaveRun(&models.RunRecord{
		ID:         "run-" + age.String(),
		Entity:     models.EntityExchanges,
		State:      models.RunReporting,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}))
}

func seedToken(t *testing.T, st *store.MemoryStore, age time.Duration, active bool) {
	t.Helper()
	require.NoError(t, st.InsertToken(&models.OAuthToken{
		ID:          "tok-" + age.String(),
		Provider:    "practicehub",
		AccessToken: "at",
		IsActive:    active,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		CreatedAt:   time.Now().UTC().Add(-age),
	}))
}

func TestRunCleanupPrunesOldRuns(t *testing.T) {
	st := store.NewMemoryStore()
	seedRun(t, st, 40*24*time.Hour)
	seedRun(t, st, 10*24*time.Hour)
	seedRun(t, st, time.Hour)

	m := NewManager(retentionConfig(), st, nil)
	stats := m.RunCleanup(context.Background())

	assert.Equal(t, int64(1), stats.RunsDeleted)
	runs, err := st.ListRuns(50)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunCleanupKeepsActiveToken(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, 200*24*time.Hour, true)
	seedToken(t, st, 200*24*time.Hour, false)
	seedToken(t, st, time.Hour, false)

	m := NewManager(retentionConfig(), st, nil)
	stats := m.RunCleanup(context.Background())

	assert.Equal(t, int64(1), stats.TokensDeleted)
	// The ancient but active token survives.
	_, ok := st.ActiveToken("practicehub")
	assert.True(t, ok)
	assert.Equal(t, 2, st.TokenCount("practicehub", false))
}

func TestRunCleanupAccumulatesStats(t *testing.T) {
	st := store.NewMemoryStore()
	seedRun(t, st, 40*24*time.Hour)

	m := NewManager(retentionConfig(), st, nil)
	m.RunCleanup(context.Background())
	stats := m.RunCleanup(context.Background())

	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, int64(1), stats.RunsDeleted)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestStartStop(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(retentionConfig(), st, nil)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.Start(context.Background()))

	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop() // idempotent
}

func TestStartDisabled(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := retentionConfig()
	cfg.Enabled = false

	m := NewManager(cfg, st, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestRunVacuumWithoutSupport(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(retentionConfig(), st, nil)

	// The memory store has no vacuum; this is a no-op, not an error.
	assert.NoError(t, m.RunVacuum())
	assert.Equal(t, 0, m.GetStats().VacuumCount)
}
