package sync

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
)

// TokenSource hands out a currently valid access token. The extractor
// asks before every page so a long walk never outlives its credential.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Lister is the slice of the provider API the extractor needs.
type Lister interface {
	ListPage(ctx context.Context, accessToken string, entity models.EntityType, page, pageSize int) ([]models.ExternalEntity, error)
}

// Extractor walks a provider listing endpoint page by page until the
// collection is exhausted.
type Extractor struct {
	tokens     TokenSource
	client     Lister
	cfg        config.SyncConfig
	logger     *logging.Logger
	rateLimits RateLimitObserver
}

// NewExtractor creates a page-walking extractor.
func NewExtractor(tokens TokenSource, client Lister, cfg config.SyncConfig, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Extractor{tokens: tokens, client: client, cfg: cfg, logger: logger}
}

// FetchAll retrieves every page for the entity. It stops on the first
// short page (a page with fewer items than the page size, including an
// empty first page) or when the safety page limit is reached. A
// rate-limited response pauses for the cooldown and retries the same
// page; retries do not count against the page limit.
//
// On error the pages already fetched are returned alongside it so the
// caller can report partial progress.
func (e *Extractor) FetchAll(ctx context.Context, entity models.EntityType) ([]models.ExternalEntity, int, error) {
	var all []models.ExternalEntity
	page := 1
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return all, pages, err
		}

		token, err := e.tokens.AccessToken(ctx)
		if err != nil {
			return all, pages, err
		}

		items, err := e.client.ListPage(ctx, token, entity, page, e.cfg.PageSize)
		if err != nil {
			var rlErr *errors.ErrRateLimited
			if stderrors.As(err, &rlErr) {
				if e.rateLimits != nil {
					e.rateLimits.RecordRateLimitHit(string(entity))
				}
				wait := e.cfg.Cooldown
				if rlErr.RetryAfter > wait {
					wait = rlErr.RetryAfter
				}
				e.logger.WarnWithContext(ctx, "rate limited, cooling down",
					"entity", string(entity),
					"page", page,
					"wait", wait.String())
				if err := sleepCtx(ctx, wait); err != nil {
					return all, pages, err
				}
				continue
			}
			return all, pages, err
		}

		pages++
		all = append(all, items...)
		e.logger.DebugWithContext(ctx, "page fetched",
			"entity", string(entity),
			"page", page,
			"items", len(items))

		if len(items) < e.cfg.PageSize {
			return all, pages, nil
		}
		if pages >= e.cfg.SafetyPageLimit {
			e.logger.WarnWithContext(ctx, "safety page limit reached, stopping extraction",
				"entity", string(entity),
				"pages", pages)
			return all, pages, nil
		}

		page++
		if err := sleepCtx(ctx, e.cfg.InterCallDelay); err != nil {
			return all, pages, err
		}
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
