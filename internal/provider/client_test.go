package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmsync/firmsync/internal/config"
	apperrors "github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
)

func testClient(baseURL, tokenURL string) *Client {
	return NewClient(config.ProviderConfig{
		Name:         "practicehub",
		BaseURL:      baseURL,
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example/oauth/callback",
		Timeout:      5 * time.Second,
	})
}

func TestListPageParsesEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/matters", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		fmt.Fprint(w, `{"data":[
			{"id":101,"display_name":"Smith Exchange","status":"open"},
			{"id":"102","name":"Jones Exchange","status":"pending"}
		],"meta":{"page":2,"per_page":50}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL+"/token")
	entities, err := c.ListPage(context.Background(), "token-abc", models.EntityExchanges, 2, 50)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "101", entities[0].ExternalID)
	assert.Equal(t, "Smith Exchange", entities[0].DisplayName)
	assert.Equal(t, "open", entities[0].Status)
	// "name" is accepted where "display_name" is absent.
	assert.Equal(t, "102", entities[1].ExternalID)
	assert.Equal(t, "Jones Exchange", entities[1].DisplayName)
	assert.False(t, entities[0].FetchedAt.IsZero())
}

func TestListPageAcceptsAlphanumericIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"M-1001","display_name":"Prefixed Exchange"},
			{"id":"a7f3c2","display_name":"Hex Exchange"}
		],"meta":{"page":1,"per_page":10}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL+"/token")
	entities, err := c.ListPage(context.Background(), "tok", models.EntityExchanges, 1, 10)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "M-1001", entities[0].ExternalID)
	assert.Equal(t, "a7f3c2", entities[1].ExternalID)
}

func TestListPageMalformedItemKeepsSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"display_name":"no id"},{"id":7,"display_name":"ok"}]}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL+"/token")
	entities, err := c.ListPage(context.Background(), "tok", models.EntityContacts, 1, 10)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Empty(t, entities[0].ExternalID)
	assert.Equal(t, "7", entities[1].ExternalID)
}

func TestListPageErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *apperrors.ErrAuthorizationRequired
				assert.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:   "rate limited with retry-after",
			status: http.StatusTooManyRequests,
			header: http.Header{"Retry-After": []string{"12"}},
			check: func(t *testing.T, err error) {
				var rlErr *apperrors.ErrRateLimited
				require.ErrorAs(t, err, &rlErr)
				assert.Equal(t, 12*time.Second, rlErr.RetryAfter)
			},
		},
		{
			name:   "rate limited without retry-after",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rlErr *apperrors.ErrRateLimited
				require.ErrorAs(t, err, &rlErr)
				assert.Equal(t, 30*time.Second, rlErr.RetryAfter)
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var netErr *apperrors.ErrTransientNetwork
				assert.ErrorAs(t, err, &netErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vals := range tt.header {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := testClient(srv.URL, srv.URL+"/token")
			_, err := c.ListPage(context.Background(), "tok", models.EntityUsers, 1, 10)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":86400,"scope":"read write"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	grant, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", grant.AccessToken)
	assert.Equal(t, "new-refresh", grant.RefreshToken)
	assert.Equal(t, int64(86400), grant.ExpiresIn)
	assert.Equal(t, "read write", grant.Scope)
}

func TestRefreshRejectedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	_, err := c.Refresh(context.Background(), "stale")
	var authErr *apperrors.ErrAuthorizationRequired
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "invalid_grant")
}

func TestExchangeCodeSendsRedirectURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "auth-code-1", r.PostForm.Get("code"))
		assert.Equal(t, "https://app.example/oauth/callback", r.PostForm.Get("redirect_uri"))

		fmt.Fprint(w, `{"access_token":"first-access","refresh_token":"first-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	grant, err := c.ExchangeCode(context.Background(), "auth-code-1")
	require.NoError(t, err)
	assert.Equal(t, "first-access", grant.AccessToken)
}

func TestTokenResponseMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	_, err := c.Refresh(context.Background(), "r")
	var shapeErr *apperrors.ErrDataShape
	assert.ErrorAs(t, err, &shapeErr)
}
