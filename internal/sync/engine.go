package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/store"
)

// ErrRunInProgress is returned when a sync is requested while another
// run holds the engine.
var ErrRunInProgress = stderrors.New("sync run already in progress")

// Observer receives the outcome of each finished run.
type Observer interface {
	ObserveRun(report *models.Report, duration time.Duration)
}

// Notifier delivers run outcomes out of band.
type Notifier interface {
	NotifyReport(ctx context.Context, report *models.Report)
	NotifyAuthRequired(ctx context.Context, provider, reason string)
}

// RateLimitObserver counts provider rate-limit pauses during extraction.
type RateLimitObserver interface {
	RecordRateLimitHit(entity string)
}

// Engine drives a full sync run for an entity type through its phases:
// token check, extraction, reconciliation, upsert, report. Runs are
// single-flight per entity; different entities may run concurrently as
// independent flows sharing only the token manager and the store. Each
// run is bounded by the configured timeout and its outcome is persisted
// to the run history.
type Engine struct {
	tokens    TokenSource
	extractor *Extractor
	upserter  *Upserter
	store     store.Store
	cfg       config.SyncConfig
	provider  models.Provider
	logger    *logging.Logger
	observer  Observer
	notifier  Notifier

	mu       sync.Mutex
	inflight map[models.EntityType]models.RunState
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithObserver attaches a run observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithNotifier attaches an out-of-band notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithRateLimitObserver counts rate-limit pauses during extraction.
func WithRateLimitObserver(o RateLimitObserver) EngineOption {
	return func(e *Engine) { e.extractor.rateLimits = o }
}

// NewEngine wires a sync engine from its parts.
func NewEngine(p models.Provider, tokens TokenSource, client Lister, st store.Store, cfg config.SyncConfig, logger *logging.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.NewLogger()
	}
	e := &Engine{
		tokens:    tokens,
		extractor: NewExtractor(tokens, client, cfg, logger),
		upserter:  NewUpserter(st, cfg, logger),
		store:     st,
		cfg:       cfg,
		provider:  p,
		logger:    logger,
		inflight:  make(map[models.EntityType]models.RunState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports the phase of a run in flight, or idle. When several
// entities run concurrently it reports one of them; States carries the
// full picture.
func (e *Engine) State() models.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, state := range e.inflight {
		return state
	}
	return models.RunIdle
}

// States reports the phase of every run in flight, keyed by entity.
func (e *Engine) States() map[models.EntityType]models.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make(map[models.EntityType]models.RunState, len(e.inflight))
	for entity, state := range e.inflight {
		states[entity] = state
	}
	return states
}

func (e *Engine) setState(entity models.EntityType, s models.RunState) {
	e.mu.Lock()
	e.inflight[entity] = s
	e.mu.Unlock()
}

// RunSync executes one complete sync run for the entity. A rejected
// credential stops the run immediately; any other failure is recorded in
// the report and the run carries on with whatever it has. The returned
// report is never nil.
func (e *Engine) RunSync(ctx context.Context, entity models.EntityType) (*models.Report, error) {
	if !entity.Valid() {
		return nil, fmt.Errorf("unknown entity type: %s", entity)
	}

	e.mu.Lock()
	if _, busy := e.inflight[entity]; busy {
		e.mu.Unlock()
		return nil, ErrRunInProgress
	}
	e.inflight[entity] = models.RunTokenCheck
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, entity)
		e.mu.Unlock()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	runCtx = logging.WithCorrelationID(runCtx, logging.GenerateCorrelationID())

	report := &models.Report{
		Entity:    entity,
		StartedAt: time.Now().UTC(),
	}
	e.logger.InfoWithContext(runCtx, "sync run started", "entity", string(entity))

	e.setState(entity, models.RunTokenCheck)
	if _, err := e.tokens.AccessToken(runCtx); err != nil {
		var authErr *errors.ErrAuthorizationRequired
		if stderrors.As(err, &authErr) {
			return report, e.stopForAuth(runCtx, report, err)
		}
		// The credential is intact but could not be confirmed right
		// now. Finish as an ordinary failed run; the next run retries.
		report.Errors = append(report.Errors, fmt.Sprintf("token check: %v", err))
		e.logger.ErrorWithContext(runCtx, "token check failed",
			"entity", string(entity),
			"error", err.Error())
		report.State = models.RunReporting
		e.finishRun(runCtx, report)
		return report, nil
	}

	e.setState(entity, models.RunExtracting)
	fetched, pages, err := e.extractor.FetchAll(runCtx, entity)
	if err != nil {
		var authErr *errors.ErrAuthorizationRequired
		if stderrors.As(err, &authErr) {
			return report, e.stopForAuth(runCtx, report, err)
		}
		// Keep the pages that made it; the report carries the error.
		report.Errors = append(report.Errors, fmt.Sprintf("extraction: %v", err))
		e.logger.ErrorWithContext(runCtx, "extraction aborted",
			"entity", string(entity),
			"pages", pages,
			"error", err.Error())
	}
	report.Fetched = len(fetched)
	report.Pages = pages

	e.setState(entity, models.RunReconciling)
	known, kErr := e.store.ExternalIDs(entity)
	if kErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("reconciliation: %v", kErr))
		known = map[string]struct{}{}
	}
	rec := Reconcile(fetched, known)
	report.Deduped = len(rec.Unique)
	report.Existing = rec.Existing
	report.Missing = rec.Missing
	report.Failed += rec.Invalid
	report.Errors = append(report.Errors, rec.Errors...)

	e.setState(entity, models.RunUpserting)
	result := e.upserter.Upsert(runCtx, entity, ToRecords(entity, rec.Unique, report.StartedAt))
	report.Created = result.Created
	report.Updated = result.Updated
	report.Failed += result.Failed
	report.Errors = append(report.Errors, result.Errors...)

	e.setState(entity, models.RunReporting)
	report.State = models.RunReporting
	e.finishRun(runCtx, report)
	return report, nil
}

// RunAll syncs every entity type in order. A rejected credential aborts
// the remaining entities; any other per-entity failure is contained in
// that entity's report.
func (e *Engine) RunAll(ctx context.Context) ([]*models.Report, error) {
	reports := make([]*models.Report, 0, len(models.AllEntityTypes()))
	for _, entity := range models.AllEntityTypes() {
		report, err := e.RunSync(ctx, entity)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// stopForAuth finalizes a run that died on a rejected credential.
func (e *Engine) stopForAuth(ctx context.Context, report *models.Report, err error) error {
	report.State = models.RunStoppedTokenError
	report.Errors = append(report.Errors, err.Error())
	e.logger.ErrorWithContext(ctx, "sync stopped, authorization required",
		"entity", string(report.Entity),
		"error", err.Error())
	if e.notifier != nil {
		e.notifier.NotifyAuthRequired(ctx, string(e.provider), err.Error())
	}
	e.finishRun(ctx, report)
	return err
}

// finishRun stamps, persists, and publishes the report.
func (e *Engine) finishRun(ctx context.Context, report *models.Report) {
	report.FinishedAt = time.Now().UTC()
	if report.State == "" {
		report.State = models.RunReporting
	}

	run := &models.RunRecord{
		ID:         uuid.New().String(),
		Entity:     report.Entity,
		State:      report.State,
		Fetched:    report.Fetched,
		Synced:     report.Synced(),
		Failed:     report.Failed,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if err := e.store.SaveRun(run); err != nil {
		e.logger.WarnWithContext(ctx, "failed to persist run history", "error", err.Error())
	}

	logging.NewAuditEvent(logging.SyncRun, "sync run", auditStatus(report)).
		WithResource(string(report.Entity)).
		WithDetails(map[string]interface{}{
			"fetched": report.Fetched,
			"synced":  report.Synced(),
			"failed":  report.Failed,
			"state":   string(report.State),
		}).
		Emit(e.logger)

	if e.observer != nil {
		e.observer.ObserveRun(report, report.FinishedAt.Sub(report.StartedAt))
	}
	if e.notifier != nil && report.State != models.RunStoppedTokenError {
		e.notifier.NotifyReport(ctx, report)
	}

	e.logger.InfoWithContext(ctx, "sync run finished",
		"entity", string(report.Entity),
		"state", string(report.State),
		"fetched", report.Fetched,
		"synced", report.Synced(),
		"failed", report.Failed,
		"pages", report.Pages,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())
}

func auditStatus(report *models.Report) logging.AuditStatus {
	if report.Succeeded() {
		return logging.StatusSuccess
	}
	return logging.StatusFailure
}
