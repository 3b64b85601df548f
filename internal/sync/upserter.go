package sync

import (
	"context"
	"fmt"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/store"
)

// Upserter commits reconciled records in fixed-size batches. Failure is
// batch-granular: a failed batch marks only its own records as failed
// and the remaining batches still run.
type Upserter struct {
	store  store.Store
	cfg    config.SyncConfig
	logger *logging.Logger
}

// NewUpserter creates a batching upserter.
func NewUpserter(st store.Store, cfg config.SyncConfig, logger *logging.Logger) *Upserter {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Upserter{store: st, cfg: cfg, logger: logger}
}

// Upsert writes all records for the entity in batches of the configured
// size. Error messages are capped at the configured maximum; the failed
// count is always exact.
func (u *Upserter) Upsert(ctx context.Context, entity models.EntityType, records []*models.Record) models.UpsertResult {
	var result models.UpsertResult

	for start := 0; start < len(records); start += u.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			remaining := len(records) - start
			result.Failed += remaining
			result.Errors = u.capErrors(append(result.Errors, fmt.Sprintf("run cancelled with %d records unwritten", remaining)))
			return result
		}

		end := start + u.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		created, updated, err := u.store.UpsertRecords(ctx, entity, batch)
		if err != nil {
			result.Failed += len(batch)
			result.Errors = u.capErrors(append(result.Errors,
				fmt.Sprintf("batch %d-%d: %v", start, end-1, err)))
			u.logger.ErrorWithContext(ctx, "batch upsert failed",
				"entity", string(entity),
				"batch_start", start,
				"batch_size", len(batch),
				"error", err.Error())
			continue
		}

		result.Created += created
		result.Updated += updated

		if end < len(records) {
			if err := sleepCtx(ctx, u.cfg.InterCallDelay); err != nil {
				remaining := len(records) - end
				result.Failed += remaining
				result.Errors = u.capErrors(append(result.Errors, fmt.Sprintf("run cancelled with %d records unwritten", remaining)))
				return result
			}
		}
	}
	return result
}

func (u *Upserter) capErrors(errs []string) []string {
	if u.cfg.MaxErrors > 0 && len(errs) > u.cfg.MaxErrors {
		return errs[:u.cfg.MaxErrors]
	}
	return errs
}
