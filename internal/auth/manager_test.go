package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/provider"
	"github.com/firmsync/firmsync/internal/store"
)

// stubClient scripts token endpoint behavior for the manager.
type stubClient struct {
	refreshGrant  *provider.TokenGrant
	refreshErr    error
	refreshCalls  int
	exchangeGrant *provider.TokenGrant
	exchangeErr   error
	exchangeCalls int
}

func (s *stubClient) Refresh(ctx context.Context, refreshToken string) (*provider.TokenGrant, error) {
	s.refreshCalls++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.refreshGrant, nil
}

func (s *stubClient) ExchangeCode(ctx context.Context, code string) (*provider.TokenGrant, error) {
	s.exchangeCalls++
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.exchangeGrant, nil
}

func seedToken(t *testing.T, st *store.MemoryStore, ttl time.Duration) *models.OAuthToken {
	t.Helper()
	token := &models.OAuthToken{
		ID:           uuid.New().String(),
		Provider:     models.ProviderPracticeHub,
		AccessToken:  "seed-access",
		RefreshToken: "seed-refresh",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(ttl),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.InsertToken(token))
	return token
}

func TestAccessTokenNoCredential(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(models.ProviderPracticeHub, &stubClient{}, st, nil)

	_, err := m.AccessToken(context.Background())
	var authErr *apperrors.ErrAuthorizationRequired
	require.ErrorAs(t, err, &authErr)
}

func TestAccessTokenValidSkipsRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Hour)
	client := &stubClient{}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seed-access", access)
	assert.Zero(t, client.refreshCalls)

	// Use is recorded on the stored row.
	current, ok := st.ActiveToken(models.ProviderPracticeHub)
	require.True(t, ok)
	require.NotNil(t, current.LastUsedAt)
}

func TestAccessTokenRefreshesInsideValidityFloor(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, 2*time.Minute)
	client := &stubClient{refreshGrant: &provider.TokenGrant{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", access)
	assert.Equal(t, 1, client.refreshCalls)

	// Rotation leaves exactly one active token, the fresh one.
	assert.Equal(t, 1, st.TokenCount(models.ProviderPracticeHub, true))
	current, ok := st.ActiveToken(models.ProviderPracticeHub)
	require.True(t, ok)
	assert.Equal(t, "fresh-access", current.AccessToken)
	assert.Equal(t, "fresh-refresh", current.RefreshToken)
}

func TestAccessTokenRefreshCarriesOldRefreshToken(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Minute)
	client := &stubClient{refreshGrant: &provider.TokenGrant{
		AccessToken: "fresh-access",
		ExpiresIn:   3600,
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	current, ok := st.ActiveToken(models.ProviderPracticeHub)
	require.True(t, ok)
	assert.Equal(t, "seed-refresh", current.RefreshToken)
}

func TestAccessTokenDefaultsExpiry(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Minute)
	client := &stubClient{refreshGrant: &provider.TokenGrant{AccessToken: "fresh-access"}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	before := time.Now()
	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	current, ok := st.ActiveToken(models.ProviderPracticeHub)
	require.True(t, ok)
	remaining := current.ExpiresAt.Sub(before)
	assert.Greater(t, remaining, 23*time.Hour)
	assert.LessOrEqual(t, remaining, 24*time.Hour+time.Minute)
	assert.Equal(t, "Bearer", current.TokenType)
}

func TestRefreshRejectionIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Minute)
	client := &stubClient{refreshErr: &apperrors.ErrAuthorizationRequired{
		Provider: "practicehub",
		Reason:   "invalid_grant",
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	_, err := m.AccessToken(context.Background())
	var authErr *apperrors.ErrAuthorizationRequired
	require.ErrorAs(t, err, &authErr)

	// Every stored token is deactivated; later calls fail fast without
	// another provider round trip.
	assert.Zero(t, st.TokenCount(models.ProviderPracticeHub, true))
	_, err = m.AccessToken(context.Background())
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, client.refreshCalls)
}

func TestRefreshTransientFailureKeepsToken(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Minute)
	client := &stubClient{refreshErr: &apperrors.ErrTransientNetwork{
		Operation: "refresh token",
		Err:       context.DeadlineExceeded,
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	_, err := m.AccessToken(context.Background())
	var netErr *apperrors.ErrTransientNetwork
	require.ErrorAs(t, err, &netErr)

	// The credential survives for a later retry.
	assert.Equal(t, 1, st.TokenCount(models.ProviderPracticeHub, true))
}

func TestAuthorizeRecoversFromRejection(t *testing.T) {
	st := store.NewMemoryStore()
	client := &stubClient{exchangeGrant: &provider.TokenGrant{
		AccessToken:  "issued-access",
		RefreshToken: "issued-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    7200,
		Scope:        "read write",
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	status, err := m.Authorize(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, models.TokenStateValid, status.State)
	assert.Equal(t, "read write", status.Scope)

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-access", access)
}

func TestManualRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Hour)
	client := &stubClient{refreshGrant: &provider.TokenGrant{
		AccessToken:  "forced-access",
		RefreshToken: "forced-refresh",
		ExpiresIn:    3600,
	}}
	m := NewManager(models.ProviderPracticeHub, client, st, nil)

	status, err := m.ManualRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TokenStateValid, status.State)
	assert.Equal(t, 1, client.refreshCalls)

	current, ok := st.ActiveToken(models.ProviderPracticeHub)
	require.True(t, ok)
	assert.Equal(t, "forced-access", current.AccessToken)
}

func TestStatusStates(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		m := NewManager(models.ProviderPracticeHub, &stubClient{}, store.NewMemoryStore(), nil)
		assert.Equal(t, models.TokenStateNone, m.Status().State)
	})

	t.Run("expired", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedToken(t, st, -time.Minute)
		m := NewManager(models.ProviderPracticeHub, &stubClient{}, st, nil)
		assert.Equal(t, models.TokenStateExpired, m.Status().State)
	})

	t.Run("expiring soon", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedToken(t, st, 2*time.Minute)
		m := NewManager(models.ProviderPracticeHub, &stubClient{}, st, nil)
		assert.Equal(t, models.TokenStateExpiringSoon, m.Status().State)
	})

	t.Run("valid", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedToken(t, st, time.Hour)
		m := NewManager(models.ProviderPracticeHub, &stubClient{}, st, nil)
		status := m.Status()
		assert.Equal(t, models.TokenStateValid, status.State)
		assert.NotEmpty(t, status.ExpiresIn)
	})
}

func TestRevoke(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Hour)
	m := NewManager(models.ProviderPracticeHub, &stubClient{}, st, nil)

	require.NoError(t, m.Revoke(context.Background()))
	assert.Zero(t, st.TokenCount(models.ProviderPracticeHub, true))
}

type lifecycleRecorder struct {
	refreshes []string
	expiries  []time.Duration
}

func (r *lifecycleRecorder) RecordTokenRefresh(result string) {
	r.refreshes = append(r.refreshes, result)
}

func (r *lifecycleRecorder) SetTokenExpiry(remaining time.Duration) {
	r.expiries = append(r.expiries, remaining)
}

func TestObserverSeesRefreshOutcomes(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, 2*time.Minute)
	client := &stubClient{refreshGrant: &provider.TokenGrant{
		AccessToken: "fresh-access",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}}
	recorder := &lifecycleRecorder{}
	m := NewManager(models.ProviderPracticeHub, client, st, nil, WithObserver(recorder))

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"success"}, recorder.refreshes)
	require.Len(t, recorder.expiries, 1)
	assert.Greater(t, recorder.expiries[0], 59*time.Minute)

	// A valid token on the next call only moves the expiry gauge.
	_, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Len(t, recorder.refreshes, 1)
	assert.Len(t, recorder.expiries, 2)
}

func TestObserverSeesRejectedRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	seedToken(t, st, time.Minute)
	client := &stubClient{refreshErr: &apperrors.ErrAuthorizationRequired{Provider: "practicehub", Reason: "revoked"}}
	recorder := &lifecycleRecorder{}
	m := NewManager(models.ProviderPracticeHub, client, st, nil, WithObserver(recorder))

	_, err := m.AccessToken(context.Background())
	var authErr *apperrors.ErrAuthorizationRequired
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, []string{"rejected"}, recorder.refreshes)
	assert.Empty(t, recorder.expiries)
}
