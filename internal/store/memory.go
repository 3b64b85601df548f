package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
)

// MemoryStore provides an in-memory Store implementation. It mirrors the
// SQLite semantics (single active token per provider, external-ID keyed
// upserts) and is used in engine tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tokens  []*models.OAuthToken
	records map[models.EntityType]map[string]*models.Record
	runs    []*models.RunRecord
	nextID  int64

	// FailUpserts makes UpsertRecords fail for the named entity; used to
	// exercise per-batch failure handling in tests.
	FailUpserts map[models.EntityType]error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	records := make(map[models.EntityType]map[string]*models.Record)
	for _, entity := range models.AllEntityTypes() {
		records[entity] = make(map[string]*models.Record)
	}
	return &MemoryStore{
		records: records,
		nextID:  1,
	}
}

// Token operations

// ActiveToken retrieves the most recent active token for a provider.
func (s *MemoryStore) ActiveToken(provider models.Provider) (*models.OAuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.OAuthToken
	for _, tok := range s.tokens {
		if tok.Provider == provider && tok.IsActive {
			if found == nil || tok.CreatedAt.After(found.CreatedAt) {
				found = tok
			}
		}
	}
	if found == nil {
		return nil, false
	}
	copied := *found
	return &copied, true
}

// InsertToken stores a new token row.
func (s *MemoryStore) InsertToken(token *models.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	copied := *token
	s.tokens = append(s.tokens, &copied)
	return nil
}

// RotateToken deactivates active tokens for the provider and inserts the
// replacement as active.
func (s *MemoryStore) RotateToken(token *models.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tok := range s.tokens {
		if tok.Provider == token.Provider {
			tok.IsActive = false
		}
	}
	token.IsActive = true
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	copied := *token
	s.tokens = append(s.tokens, &copied)
	return nil
}

// DeactivateTokens deactivates all tokens for a provider.
func (s *MemoryStore) DeactivateTokens(provider models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tok := range s.tokens {
		if tok.Provider == provider {
			tok.IsActive = false
		}
	}
	return nil
}

// TouchToken updates last_used_at for a token.
func (s *MemoryStore) TouchToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, tok := range s.tokens {
		if tok.ID == id {
			tok.LastUsedAt = &now
		}
	}
	return nil
}

// TokenCount returns the number of token rows matching the filter; test helper.
func (s *MemoryStore) TokenCount(provider models.Provider, activeOnly bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tok := range s.tokens {
		if tok.Provider != provider {
			continue
		}
		if activeOnly && !tok.IsActive {
			continue
		}
		count++
	}
	return count
}

// Record operations

// UpsertRecords commits a batch keyed on external ID.
func (s *MemoryStore) UpsertRecords(ctx context.Context, entity models.EntityType, records []*models.Record) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.FailUpserts[entity]; ok {
		return 0, 0, err
	}

	table, ok := s.records[entity]
	if !ok {
		return 0, 0, &errors.ErrDatabaseQuery{Operation: "upsert records", Err: errUnknownEntity(entity)}
	}

	created, updated := 0, 0
	for _, rec := range records {
		if rec.ExternalID == "" {
			return 0, 0, &errors.ErrDataShape{Entity: string(entity), Field: "external_id", Err: errEmptyExternalID}
		}
		copied := *rec
		copied.Entity = entity
		if copied.SyncedAt.IsZero() {
			copied.SyncedAt = time.Now().UTC()
		}
		if existing, ok := table[rec.ExternalID]; ok {
			copied.ID = existing.ID
			copied.CreatedAt = existing.CreatedAt
			if existing.SyncedAt.After(copied.SyncedAt) {
				copied.SyncedAt = existing.SyncedAt
			}
			updated++
		} else {
			copied.ID = s.nextID
			copied.CreatedAt = time.Now().UTC()
			s.nextID++
			created++
		}
		table[rec.ExternalID] = &copied
	}
	return created, updated, nil
}

// ExternalIDs returns the set of known external IDs for an entity type.
func (s *MemoryStore) ExternalIDs(entity models.EntityType) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.records[entity]
	if !ok {
		return nil, errUnknownEntity(entity)
	}
	ids := make(map[string]struct{}, len(table))
	for id := range table {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// CountRecords returns the row count for an entity type.
func (s *MemoryStore) CountRecords(entity models.EntityType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.records[entity]
	if !ok {
		return 0, errUnknownEntity(entity)
	}
	return len(table), nil
}

// ListRecords returns a range-paginated slice of records ordered by id.
func (s *MemoryStore) ListRecords(entity models.EntityType, offset, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.records[entity]
	if !ok {
		return nil, errUnknownEntity(entity)
	}

	all := make([]*models.Record, 0, len(table))
	for _, rec := range table {
		copied := *rec
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Run history

// SaveRun persists a sync run record.
func (s *MemoryStore) SaveRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *run
	s.runs = append(s.runs, &copied)
	return nil
}

// ListRuns returns the most recent sync runs.
func (s *MemoryStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	runs := make([]*models.RunRecord, len(s.runs))
	for i, run := range s.runs {
		copied := *run
		runs[i] = &copied
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Retention

// PruneRuns deletes run history rows that started before the cutoff.
func (s *MemoryStore) PruneRuns(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.runs[:0]
	var deleted int64
	for _, run := range s.runs {
		if run.StartedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, run)
	}
	s.runs = kept
	return deleted, nil
}

// PruneTokens deletes inactive tokens created before the cutoff.
func (s *MemoryStore) PruneTokens(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tokens[:0]
	var deleted int64
	for _, tok := range s.tokens {
		if !tok.IsActive && tok.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, tok)
	}
	s.tokens = kept
	return deleted, nil
}

// Stats returns statistics about the store.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		TokenCount:  len(s.tokens),
		RunCount:    len(s.runs),
		RecordCount: make(map[string]int),
	}
	for entity, table := range s.records {
		stats.RecordCount[string(entity)] = len(table)
	}
	return stats
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func errUnknownEntity(entity models.EntityType) error {
	return fmt.Errorf("unknown entity type: %s", entity)
}

var errEmptyExternalID = fmt.Errorf("empty external ID")

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
