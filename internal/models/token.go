package models

import "time"

// Provider identifies the external practice-management service.
type Provider string

const (
	// ProviderPracticeHub is the default practice-management provider.
	ProviderPracticeHub Provider = "practicehub"
)

// OAuthToken is a persisted OAuth credential record for a provider.
// At most one token per provider is active at any instant; rotation
// deactivates the old row and inserts a new active one.
type OAuthToken struct {
	ID           string     `json:"id"`
	Provider     Provider   `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Scope        string     `json:"scope,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ExpiresWithin reports whether the token expires before now+d.
func (t *OAuthToken) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(t.ExpiresAt)
}

// Expired reports whether the token has already expired.
func (t *OAuthToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TokenState classifies the stored credential for diagnostics.
type TokenState string

const (
	TokenStateNone         TokenState = "no_token"
	TokenStateExpired      TokenState = "expired"
	TokenStateExpiringSoon TokenState = "expiring_soon"
	TokenStateValid        TokenState = "valid"
)

// TokenStatus is the non-mutating status report for the active token.
type TokenStatus struct {
	State     TokenState `json:"state"`
	Message   string     `json:"message"`
	Provider  Provider   `json:"provider"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiresIn string     `json:"expires_in,omitempty"`
	Scope     string     `json:"scope,omitempty"`
}
