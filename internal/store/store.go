package store

import (
	"context"
	"time"

	"github.com/firmsync/firmsync/internal/models"
)

// Store is the persistence contract shared by the token lifecycle manager
// and the sync engine. Implementations must be safe for concurrent use;
// the external-ID uniqueness constraint is the safety net against
// duplicate writes from overlapping syncs.
type Store interface {
	// Token operations. At most one active token per provider: RotateToken
	// deactivates the current active rows and inserts the replacement in a
	// single transaction.
	ActiveToken(provider models.Provider) (*models.OAuthToken, bool)
	InsertToken(token *models.OAuthToken) error
	RotateToken(token *models.OAuthToken) error
	DeactivateTokens(provider models.Provider) error
	TouchToken(id string) error

	// Record operations, per entity table. Upsert is keyed on the
	// external-ID uniqueness constraint; on conflict the whole row is
	// overwritten (last write wins).
	UpsertRecords(ctx context.Context, entity models.EntityType, records []*models.Record) (created, updated int, err error)
	ExternalIDs(entity models.EntityType) (map[string]struct{}, error)
	CountRecords(entity models.EntityType) (int, error)
	ListRecords(entity models.EntityType, offset, limit int) ([]*models.Record, error)

	// Run history.
	SaveRun(run *models.RunRecord) error
	ListRuns(limit int) ([]*models.RunRecord, error)

	// Retention. PruneTokens only removes inactive rows; the active
	// token survives regardless of age.
	PruneRuns(olderThan time.Time) (int64, error)
	PruneTokens(olderThan time.Time) (int64, error)

	// Management
	Stats() StoreStats
	Close() error
}

// StoreStats contains statistics about the store.
type StoreStats struct {
	TokenCount  int            `json:"token_count"`
	RecordCount map[string]int `json:"record_count"`
	RunCount    int            `json:"run_count"`
}
