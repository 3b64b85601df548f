package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/pkg/headers"
)

// listPaths maps entity types to their provider listing endpoints. The
// remote collection for exchanges is called "matters".
var listPaths = map[models.EntityType]string{
	models.EntityUsers:     "/api/v1/users",
	models.EntityContacts:  "/api/v1/contacts",
	models.EntityExchanges: "/api/v1/matters",
	models.EntityTasks:     "/api/v1/tasks",
}

// Client talks to the practice-management provider API. Every call
// carries the uniform timeout from configuration.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
}

// NewClient creates a new provider API client.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ListPage fetches one page of a listing endpoint using the supplied
// bearer token. The page parameter is 1-based.
func (c *Client) ListPage(ctx context.Context, accessToken string, entity models.EntityType, page, pageSize int) ([]models.ExternalEntity, error) {
	path, ok := listPaths[entity]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type: %s", entity)
	}

	endpoint := fmt.Sprintf("%s%s?page=%d&limit=%d", strings.TrimRight(c.cfg.BaseURL, "/"), path, page, pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errors.ErrTransientNetwork{Operation: "list " + string(entity), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &errors.ErrAuthorizationRequired{Provider: c.cfg.Name, Reason: "access token rejected"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitErrorFromHeaders(resp.Header, fmt.Sprintf("%s listing rate limit", entity))
	case resp.StatusCode >= 500:
		return nil, &errors.ErrTransientNetwork{Operation: "list " + string(entity), Err: fmt.Errorf("provider status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list %s status %d: %s", entity, resp.StatusCode, string(body))
	}

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errors.ErrDataShape{Entity: string(entity), Field: "body", Err: err}
	}

	now := time.Now().UTC()
	entities := make([]models.ExternalEntity, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		ent, err := parseEntity(raw, now)
		if err != nil {
			// Malformed items keep their slot so the caller can count
			// them as failed rather than silently shrinking the page.
			entities = append(entities, models.ExternalEntity{Raw: raw, FetchedAt: now})
			continue
		}
		entities = append(entities, ent)
	}
	return entities, nil
}

// parseEntity extracts the stable identity fields from one raw item.
func parseEntity(raw json.RawMessage, fetchedAt time.Time) (models.ExternalEntity, error) {
	var item listItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.ExternalEntity{}, err
	}

	id := strings.TrimSpace(item.ID.String())
	if id == "" || id == "null" {
		return models.ExternalEntity{}, fmt.Errorf("missing id")
	}

	name := item.DisplayName
	if name == "" {
		name = item.Name
	}

	return models.ExternalEntity{
		ExternalID:  id,
		DisplayName: name,
		Status:      item.Status,
		Raw:         raw,
		FetchedAt:   fetchedAt,
	}, nil
}

// Refresh performs the refresh-token grant exchange.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	return c.tokenCall(ctx, form, "refresh token")
}

// ExchangeCode performs the authorization-code grant exchange.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	return c.tokenCall(ctx, form, "exchange code")
}

func (c *Client) tokenCall(ctx context.Context, form url.Values, operation string) (*TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errors.ErrTransientNetwork{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		// The provider rejected the credential itself. This is the
		// terminal case: the caller must deactivate and re-authorize.
		body, _ := io.ReadAll(resp.Body)
		return nil, &errors.ErrAuthorizationRequired{Provider: c.cfg.Name, Reason: strings.TrimSpace(string(body))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitErrorFromHeaders(resp.Header, "token endpoint rate limit")
	case resp.StatusCode >= 500:
		return nil, &errors.ErrTransientNetwork{Operation: operation, Err: fmt.Errorf("token endpoint status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s status %d", operation, resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.AccessToken == "" {
		return nil, &errors.ErrDataShape{Entity: "token", Field: "access_token", Err: fmt.Errorf("missing access_token")}
	}

	return &TokenGrant{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    parsed.TokenType,
		ExpiresIn:    parsed.ExpiresIn,
		Scope:        parsed.Scope,
	}, nil
}

func rateLimitErrorFromHeaders(h http.Header, msg string) *errors.ErrRateLimited {
	retryAfter := headers.ParseRateLimit(h).RetryAfterOr(30 * time.Second)
	return &errors.ErrRateLimited{RetryAfter: retryAfter, Message: msg}
}
