package provider

import "encoding/json"

// listResponse is the provider's paginated listing envelope.
type listResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalCount int `json:"total_count,omitempty"`
	} `json:"meta"`
}

// externalID accepts both JSON numbers and arbitrary JSON strings.
// Providers are not consistent here: numeric IDs arrive bare, while
// prefixed identifiers like "M-1001" arrive as strings that json.Number
// would reject.
type externalID string

func (id *externalID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = externalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = externalID(n.String())
	return nil
}

func (id externalID) String() string { return string(id) }

// listItem carries the fields every listable entity is expected to have.
// The full payload is retained verbatim for the local record.
type listItem struct {
	ID          externalID `json:"id"`
	DisplayName string     `json:"display_name"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
}

// tokenResponse is the provider token endpoint response for both the
// refresh-token and authorization-code grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// TokenGrant is the parsed result of a successful token endpoint call.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}
