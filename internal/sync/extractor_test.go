package sync

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmsync/firmsync/internal/config"
	apperrors "github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
)

// staticTokens always hands out the same access token.
type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) AccessToken(ctx context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

// pageCall records one scripted response from the fake provider.
type pageCall struct {
	items []models.ExternalEntity
	err   error
}

// scriptedLister replays responses in order, one per ListPage call.
type scriptedLister struct {
	calls     []pageCall
	requested []int
}

func (s *scriptedLister) ListPage(ctx context.Context, token string, entity models.EntityType, page, pageSize int) ([]models.ExternalEntity, error) {
	s.requested = append(s.requested, page)
	if len(s.calls) == 0 {
		return nil, nil
	}
	call := s.calls[0]
	s.calls = s.calls[1:]
	return call.items, call.err
}

func makePage(start, count int) []models.ExternalEntity {
	items := make([]models.ExternalEntity, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, ext(strconv.Itoa(start+i), "entity"))
	}
	return items
}

func fastSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PageSize:        100,
		BatchSize:       50,
		SafetyPageLimit: 200,
		Cooldown:        5 * time.Millisecond,
		InterCallDelay:  time.Millisecond,
		RunTimeout:      time.Minute,
		MaxErrors:       10,
	}
}

func TestFetchAllStopsOnShortPage(t *testing.T) {
	lister := &scriptedLister{calls: []pageCall{
		{items: makePage(0, 100)},
		{items: makePage(100, 100)},
		{items: makePage(200, 100)},
		{items: makePage(300, 37)},
	}}
	tokens := &staticTokens{token: "tok"}
	e := NewExtractor(tokens, lister, fastSyncConfig(), nil)

	all, pages, err := e.FetchAll(context.Background(), models.EntityExchanges)
	require.NoError(t, err)
	assert.Len(t, all, 337)
	assert.Equal(t, 4, pages)
	assert.Equal(t, []int{1, 2, 3, 4}, lister.requested)
	// A fresh token is requested for every page.
	assert.Equal(t, 4, tokens.calls)
}

func TestFetchAllEmptyFirstPage(t *testing.T) {
	lister := &scriptedLister{calls: []pageCall{{items: nil}}}
	e := NewExtractor(&staticTokens{token: "tok"}, lister, fastSyncConfig(), nil)

	all, pages, err := e.FetchAll(context.Background(), models.EntityUsers)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1, pages)
}

func TestFetchAllRateLimitRetriesSamePage(t *testing.T) {
	lister := &scriptedLister{calls: []pageCall{
		{items: makePage(0, 100)},
		{err: &apperrors.ErrRateLimited{RetryAfter: time.Millisecond, Message: "slow down"}},
		{items: makePage(100, 20)},
	}}
	e := NewExtractor(&staticTokens{token: "tok"}, lister, fastSyncConfig(), nil)

	all, pages, err := e.FetchAll(context.Background(), models.EntityContacts)
	require.NoError(t, err)
	assert.Len(t, all, 120)
	assert.Equal(t, 2, pages)
	// Page two was requested twice: once rate limited, once after cooldown.
	assert.Equal(t, []int{1, 2, 2}, lister.requested)
}

func TestFetchAllSafetyPageLimit(t *testing.T) {
	cfg := fastSyncConfig()
	cfg.SafetyPageLimit = 3
	calls := make([]pageCall, 10)
	for i := range calls {
		calls[i] = pageCall{items: makePage(i*100, 100)}
	}
	lister := &scriptedLister{calls: calls}
	e := NewExtractor(&staticTokens{token: "tok"}, lister, cfg, nil)

	all, pages, err := e.FetchAll(context.Background(), models.EntityTasks)
	require.NoError(t, err)
	assert.Len(t, all, 300)
	assert.Equal(t, 3, pages)
}

func TestFetchAllReturnsPartialOnError(t *testing.T) {
	lister := &scriptedLister{calls: []pageCall{
		{items: makePage(0, 100)},
		{err: &apperrors.ErrTransientNetwork{Operation: "list"}},
	}}
	e := NewExtractor(&staticTokens{token: "tok"}, lister, fastSyncConfig(), nil)

	all, pages, err := e.FetchAll(context.Background(), models.EntityUsers)
	var netErr *apperrors.ErrTransientNetwork
	require.ErrorAs(t, err, &netErr)
	assert.Len(t, all, 100)
	assert.Equal(t, 1, pages)
}

func TestFetchAllTokenFailureAborts(t *testing.T) {
	tokens := &staticTokens{err: &apperrors.ErrAuthorizationRequired{Provider: "practicehub", Reason: "revoked"}}
	e := NewExtractor(tokens, &scriptedLister{}, fastSyncConfig(), nil)

	_, _, err := e.FetchAll(context.Background(), models.EntityUsers)
	var authErr *apperrors.ErrAuthorizationRequired
	require.ErrorAs(t, err, &authErr)
}

func TestFetchAllHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExtractor(&staticTokens{token: "tok"}, &scriptedLister{}, fastSyncConfig(), nil)

	_, _, err := e.FetchAll(ctx, models.EntityUsers)
	assert.ErrorIs(t, err, context.Canceled)
}
