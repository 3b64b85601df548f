package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-based persistence for OAuth tokens and
// synced records with WAL mode. It is thread-safe and supports
// concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.NewLogger(),
	}, nil
}

// recordTables maps entity types to their target tables. The mapping is
// closed: anything else is rejected before reaching SQL.
var recordTables = map[models.EntityType]string{
	models.EntityUsers:     "users",
	models.EntityContacts:  "contacts",
	models.EntityExchanges: "exchanges",
	models.EntityTasks:     "tasks",
}

func tableFor(entity models.EntityType) (string, error) {
	table, ok := recordTables[entity]
	if !ok {
		return "", fmt.Errorf("unknown entity type: %s", entity)
	}
	return table, nil
}

const recordTableDDL = `
	CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		synced_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_%s_synced_at ON %s(synced_at);
`

// runMigrations runs database migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	var recordDDL strings.Builder
	for _, table := range recordTables {
		fmt.Fprintf(&recordDDL, recordTableDDL, table, table, table)
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS oauth_tokens (
					id TEXT PRIMARY KEY,
					provider TEXT NOT NULL,
					access_token TEXT NOT NULL,
					refresh_token TEXT NOT NULL,
					token_type TEXT NOT NULL DEFAULT 'Bearer',
					expires_at DATETIME NOT NULL,
					scope TEXT NOT NULL DEFAULT '',
					is_active INTEGER NOT NULL DEFAULT 1,
					last_used_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_oauth_tokens_provider ON oauth_tokens(provider);
				CREATE INDEX IF NOT EXISTS idx_oauth_tokens_active ON oauth_tokens(provider, is_active);
			`,
		},
		{
			version: 2,
			up:      recordDDL.String(),
		},
		{
			version: 3,
			up: `
				CREATE TABLE IF NOT EXISTS sync_runs (
					id TEXT PRIMARY KEY,
					entity TEXT NOT NULL,
					state TEXT NOT NULL,
					fetched INTEGER NOT NULL DEFAULT 0,
					synced INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sync_runs_entity ON sync_runs(entity);
				CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close shuts down the store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Token operations

const tokenColumns = "id, provider, access_token, refresh_token, token_type, expires_at, scope, is_active, last_used_at, created_at"

func scanToken(row interface{ Scan(...interface{}) error }) (*models.OAuthToken, error) {
	var tok models.OAuthToken
	var lastUsed sql.NullTime
	err := row.Scan(&tok.ID, &tok.Provider, &tok.AccessToken, &tok.RefreshToken,
		&tok.TokenType, &tok.ExpiresAt, &tok.Scope, &tok.IsActive, &lastUsed, &tok.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		val := lastUsed.Time
		tok.LastUsedAt = &val
	}
	return &tok, nil
}

// ActiveToken retrieves the single active token for a provider.
func (s *SQLiteStore) ActiveToken(provider models.Provider) (*models.OAuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+tokenColumns+` FROM oauth_tokens
		WHERE provider = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1
	`, provider)

	tok, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load active token", "error", err.Error(), "provider", string(provider))
		return nil, false
	}
	return tok, true
}

// InsertToken stores a new token row.
func (s *SQLiteStore) InsertToken(token *models.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertToken(s.db, token)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) insertToken(db execer, token *models.OAuthToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	var lastUsed interface{}
	if token.LastUsedAt != nil {
		lastUsed = *token.LastUsedAt
	}
	_, err := db.Exec(`
		INSERT INTO oauth_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, token.ID, token.Provider, token.AccessToken, token.RefreshToken,
		token.TokenType, token.ExpiresAt, token.Scope, token.IsActive, lastUsed, token.CreatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "insert token", Err: err}
	}
	return nil
}

// RotateToken deactivates the provider's active tokens and inserts the
// replacement as the new active token, atomically.
func (s *SQLiteStore) RotateToken(token *models.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin token rotation", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
		UPDATE oauth_tokens SET is_active = 0 WHERE provider = ? AND is_active = 1
	`, token.Provider); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "deactivate tokens", Err: err}
	}

	token.IsActive = true
	if err := s.insertToken(tx, token); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit token rotation", Err: err}
	}
	return nil
}

// DeactivateTokens deactivates all tokens for a provider.
func (s *SQLiteStore) DeactivateTokens(provider models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE oauth_tokens SET is_active = 0 WHERE provider = ?
	`, provider)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "deactivate tokens", Err: err}
	}
	return nil
}

// TouchToken updates last_used_at for a token.
func (s *SQLiteStore) TouchToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE oauth_tokens SET last_used_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "touch token", Err: err}
	}
	return nil
}

// Record operations

// UpsertRecords commits one batch of records in a single transaction,
// keyed on the external-ID uniqueness constraint. On conflict the whole
// row is overwritten. Returns the created/updated split.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, entity models.EntityType, records []*models.Record) (int, int, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, &errors.ErrDatabaseQuery{Operation: "begin upsert", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existsStmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE external_id = ?)", table))
	if err != nil {
		return 0, 0, &errors.ErrDatabaseQuery{Operation: "prepare exists", Err: err}
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (external_id, display_name, status, payload, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			payload = excluded.payload,
			synced_at = MAX(synced_at, excluded.synced_at)
	`, table))
	if err != nil {
		return 0, 0, &errors.ErrDatabaseQuery{Operation: "prepare upsert", Err: err}
	}
	defer upsertStmt.Close()

	created, updated := 0, 0
	for _, rec := range records {
		if rec.ExternalID == "" {
			return 0, 0, &errors.ErrDataShape{Entity: string(entity), Field: "external_id", Err: fmt.Errorf("empty external ID")}
		}

		var exists bool
		if err := existsStmt.QueryRowContext(ctx, rec.ExternalID).Scan(&exists); err != nil {
			return 0, 0, &errors.ErrDatabaseQuery{Operation: "check existing record", Err: err}
		}

		syncedAt := rec.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		if _, err := upsertStmt.ExecContext(ctx, rec.ExternalID, rec.DisplayName, rec.Status, rec.Payload, syncedAt); err != nil {
			return 0, 0, &errors.ErrDatabaseQuery{Operation: "upsert record", Err: err}
		}

		if exists {
			updated++
		} else {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, &errors.ErrDatabaseQuery{Operation: "commit upsert", Err: err}
	}
	return created, updated, nil
}

// ExternalIDs returns the set of known external IDs for an entity type.
// Empty IDs are never stored, so the set contains no false-match keys.
func (s *SQLiteStore) ExternalIDs(entity models.EntityType) (map[string]struct{}, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf("SELECT external_id FROM %s", table))
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list external ids", Err: err}
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, rows.Err()
}

// CountRecords returns the row count for an entity table.
func (s *SQLiteStore) CountRecords(entity models.EntityType) (int, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "count records", Err: err}
	}
	return count, nil
}

// ListRecords returns a range-paginated slice of records ordered by id.
func (s *SQLiteStore) ListRecords(entity models.EntityType, offset, limit int) ([]*models.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, external_id, display_name, status, payload, synced_at, created_at
		FROM %s ORDER BY id LIMIT ? OFFSET ?
	`, table), limit, offset)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list records", Err: err}
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &rec.DisplayName, &rec.Status, &rec.Payload, &rec.SyncedAt, &rec.CreatedAt); err != nil {
			continue
		}
		rec.Entity = entity
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Run history

// SaveRun persists a sync run record.
func (s *SQLiteStore) SaveRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, entity, state, fetched, synced, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Entity, run.State, run.Fetched, run.Synced, run.Failed, run.StartedAt, run.FinishedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save run", Err: err}
	}
	return nil
}

// ListRuns returns the most recent sync runs.
func (s *SQLiteStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, entity, state, fetched, synced, failed, started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list runs", Err: err}
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		if err := rows.Scan(&run.ID, &run.Entity, &run.State, &run.Fetched, &run.Synced, &run.Failed, &run.StartedAt, &run.FinishedAt); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Retention

// PruneRuns deletes run history rows that started before the cutoff.
func (s *SQLiteStore) PruneRuns(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM sync_runs WHERE started_at < ?", olderThan)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prune runs", Err: err}
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// PruneTokens deletes inactive tokens created before the cutoff. Active
// tokens are never pruned.
func (s *SQLiteStore) PruneTokens(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM oauth_tokens WHERE is_active = 0 AND created_at < ?", olderThan)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prune tokens", Err: err}
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// Vacuum reclaims space after pruning.
func (s *SQLiteStore) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "vacuum", Err: err}
	}
	return nil
}

// Stats returns statistics about the store.
func (s *SQLiteStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{RecordCount: make(map[string]int)}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM oauth_tokens").Scan(&stats.TokenCount); err != nil {
		s.logger.Error("failed to count tokens", "error", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_runs").Scan(&stats.RunCount); err != nil {
		s.logger.Error("failed to count runs", "error", err.Error())
	}
	for entity, table := range recordTables {
		var count int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			s.logger.Error("failed to count records", "table", table, "error", err.Error())
			continue
		}
		stats.RecordCount[string(entity)] = count
	}
	return stats
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
