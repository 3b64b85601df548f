package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/provider"
	"github.com/firmsync/firmsync/internal/store"
)

// validityFloor is the minimum remaining lifetime a token must have to be
// handed out. A token expiring inside this window is refreshed first so a
// long page walk never runs off the end of its credential.
const validityFloor = 5 * time.Minute

// defaultExpiresIn is assumed when the provider omits expires_in.
const defaultExpiresIn = 86400 * time.Second

// TokenClient is the slice of the provider API the manager needs.
type TokenClient interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.TokenGrant, error)
	ExchangeCode(ctx context.Context, code string) (*provider.TokenGrant, error)
}

// Observer receives token lifecycle outcomes. Satisfied by the metrics
// registry.
type Observer interface {
	RecordTokenRefresh(result string)
	SetTokenExpiry(remaining time.Duration)
}

// Manager owns the OAuth credential lifecycle for one provider: it hands
// out access tokens, refreshes them ahead of expiry, and rotates the
// stored row so at most one token is ever active. All mutating paths are
// serialized behind a single mutex; concurrent callers never race two
// refreshes against the provider.
type Manager struct {
	provider models.Provider
	client   TokenClient
	store    store.Store
	logger   *logging.Logger
	observer Observer

	mu sync.Mutex
}

// Option configures optional collaborators on a Manager.
type Option func(*Manager)

// WithObserver wires an Observer that records refresh outcomes and the
// remaining lifetime of the active credential.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a token lifecycle manager backed by the given store.
func NewManager(p models.Provider, client TokenClient, st store.Store, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	m := &Manager{
		provider: p,
		client:   client,
		store:    st,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) observeRefresh(result string) {
	if m.observer != nil {
		m.observer.RecordTokenRefresh(result)
	}
}

func (m *Manager) observeExpiry(expiresAt time.Time) {
	if m.observer != nil {
		m.observer.SetTokenExpiry(time.Until(expiresAt))
	}
}

// AccessToken returns an access token with at least five minutes of
// validity left, refreshing the stored credential when necessary.
//
// A refresh rejected by the provider deactivates every stored token and
// surfaces ErrAuthorizationRequired; from then on each call keeps
// returning it until Authorize succeeds. Transient failures leave the
// stored token untouched so a later call can retry.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.store.ActiveToken(m.provider)
	if !ok {
		return "", &errors.ErrAuthorizationRequired{Provider: string(m.provider), Reason: "no stored credential"}
	}

	if !token.ExpiresWithin(validityFloor) {
		if err := m.store.TouchToken(token.ID); err != nil {
			m.logger.WarnWithContext(ctx, "failed to record token use", "error", err.Error())
		}
		m.observeExpiry(token.ExpiresAt)
		return token.AccessToken, nil
	}

	refreshed, err := m.refreshLocked(ctx, token)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// ManualRefresh forces a refresh of the stored credential regardless of
// its remaining lifetime and returns the resulting status.
func (m *Manager) ManualRefresh(ctx context.Context) (*models.TokenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.store.ActiveToken(m.provider)
	if !ok {
		return nil, &errors.ErrAuthorizationRequired{Provider: string(m.provider), Reason: "no stored credential"}
	}

	if _, err := m.refreshLocked(ctx, token); err != nil {
		return nil, err
	}
	return m.statusLocked(), nil
}

// Authorize exchanges an authorization code for a fresh credential and
// rotates it into the store. This is the only way out of the
// authorization-required state.
func (m *Manager) Authorize(ctx context.Context, code string) (*models.TokenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		logging.NewAuditEvent(logging.AuthFailure, "authorization code exchange", logging.StatusFailure).
			WithProvider(string(m.provider)).
			WithSeverity(logging.SeverityWarning).
			WithError(err.Error()).
			Emit(m.logger)
		return nil, err
	}

	token := m.tokenFromGrant(grant)
	if err := m.store.RotateToken(token); err != nil {
		return nil, fmt.Errorf("persist authorized token: %w", err)
	}
	m.observeExpiry(token.ExpiresAt)

	logging.NewAuditEvent(logging.TokenIssued, "authorization code exchange", logging.StatusSuccess).
		WithProvider(string(m.provider)).
		WithDetails(map[string]interface{}{"expires_at": token.ExpiresAt}).
		Emit(m.logger)
	m.logger.InfoWithContext(ctx, "provider authorized",
		"provider", string(m.provider),
		"expires_at", token.ExpiresAt.Format(time.RFC3339))

	return m.statusLocked(), nil
}

// Revoke deactivates every stored token for the provider.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeactivateTokens(m.provider); err != nil {
		return err
	}
	logging.NewAuditEvent(logging.TokenRevoked, "manual revocation", logging.StatusSuccess).
		WithProvider(string(m.provider)).
		Emit(m.logger)
	return nil
}

// Status reports the stored credential state without mutating anything.
// It never triggers a refresh.
func (m *Manager) Status() *models.TokenStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() *models.TokenStatus {
	status := &models.TokenStatus{Provider: m.provider}

	token, ok := m.store.ActiveToken(m.provider)
	if !ok {
		status.State = models.TokenStateNone
		status.Message = "no active credential; authorization required"
		return status
	}

	expiresAt := token.ExpiresAt
	status.ExpiresAt = &expiresAt
	status.Scope = token.Scope

	switch {
	case token.Expired():
		status.State = models.TokenStateExpired
		status.Message = "credential expired; next use will refresh"
	case token.ExpiresWithin(validityFloor):
		status.State = models.TokenStateExpiringSoon
		status.Message = "credential expires soon; next use will refresh"
		status.ExpiresIn = time.Until(expiresAt).Round(time.Second).String()
	default:
		status.State = models.TokenStateValid
		status.Message = "credential valid"
		status.ExpiresIn = time.Until(expiresAt).Round(time.Second).String()
	}
	return status
}

// refreshLocked exchanges the current refresh token and rotates the
// result into the store. Caller holds m.mu.
func (m *Manager) refreshLocked(ctx context.Context, current *models.OAuthToken) (*models.OAuthToken, error) {
	grant, err := m.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		var authErr *errors.ErrAuthorizationRequired
		if stderrors.As(err, &authErr) {
			m.observeRefresh("rejected")
			// The refresh token itself was rejected. Deactivate
			// everything so every later call reports the same terminal
			// state instead of hammering the provider.
			if dErr := m.store.DeactivateTokens(m.provider); dErr != nil {
				m.logger.ErrorWithContext(ctx, "failed to deactivate rejected tokens", "error", dErr.Error())
			}
			logging.NewAuditEvent(logging.TokenRevoked, "refresh rejected by provider", logging.StatusFailure).
				WithProvider(string(m.provider)).
				WithSeverity(logging.SeverityCritical).
				WithError(err.Error()).
				Emit(m.logger)
			return nil, err
		}

		m.observeRefresh("failure")
		m.logger.WarnWithContext(ctx, "token refresh failed",
			"provider", string(m.provider),
			"error", err.Error())
		return nil, err
	}

	token := m.tokenFromGrant(grant)
	if token.RefreshToken == "" {
		// Some providers omit refresh_token on rotation; carry the old
		// one forward.
		token.RefreshToken = current.RefreshToken
	}

	if err := m.store.RotateToken(token); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	m.observeRefresh("success")
	m.observeExpiry(token.ExpiresAt)

	logging.NewAuditEvent(logging.TokenRefresh, "refresh token grant", logging.StatusSuccess).
		WithProvider(string(m.provider)).
		WithDetails(map[string]interface{}{"expires_at": token.ExpiresAt}).
		Emit(m.logger)
	m.logger.InfoWithContext(ctx, "token refreshed",
		"provider", string(m.provider),
		"expires_at", token.ExpiresAt.Format(time.RFC3339))

	return token, nil
}

func (m *Manager) tokenFromGrant(grant *provider.TokenGrant) *models.OAuthToken {
	expiresIn := time.Duration(grant.ExpiresIn) * time.Second
	if grant.ExpiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	tokenType := grant.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	now := time.Now().UTC()
	return &models.OAuthToken{
		ID:           uuid.New().String(),
		Provider:     m.provider,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    now.Add(expiresIn),
		Scope:        grant.Scope,
		IsActive:     true,
		CreatedAt:    now,
	}
}
