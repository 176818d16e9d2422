package oauth2

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /connect/token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is a JWT or, for reference token clients, an opaque handle.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// IdToken is the OpenID Connect ID token containing user identity information.
	// Only present: When "openid" scope was granted and the grant has a subject
	IdToken *string `json:"id_token,omitempty"`

	// TokenType indicates how to use the access token (always "Bearer").
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque handle used to obtain new access tokens.
	// Only present: When offline_access was granted
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope is the space separated list of granted scopes.
	Scope string `json:"scope,omitempty"`

	// Custom carries extension grant values. They never replace a standard member.
	Custom map[string]any `json:"-"`
}

// MarshalJSON flattens Custom into the top level object.
func (r TokenResponse) MarshalJSON() ([]byte, error) {
	type alias TokenResponse
	b, err := json.Marshal(alias(r))
	if err != nil || len(r.Custom) == 0 {
		return b, err
	}
	return mergeExtra(b, r.Custom)
}

// IntrospectionResponse is the RFC 7662 response. Inactive tokens carry only "active": false.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Nbf       int64    `json:"nbf,omitempty"`
	JTI       string   `json:"jti,omitempty"`
	SessionID string   `json:"sid,omitempty"`

	// Extra holds any additional claims of the token that are safe to disclose.
	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top level object. An inactive response never
// discloses anything beyond the active flag.
func (r IntrospectionResponse) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return []byte(`{"active":false}`), nil
	}
	type alias IntrospectionResponse
	b, err := json.Marshal(alias(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	return mergeExtra(b, r.Extra)
}

func mergeExtra(b []byte, extra map[string]any) ([]byte, error) {
	m := make(map[string]any)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// DeviceAuthorizationResponse is the RFC 8628 device authorization response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// AuthorizeResponse carries the parameters returned to the client's redirect_uri.
type AuthorizeResponse struct {
	RedirectURI  string
	ResponseMode ResponseModeType

	Code         string
	IdToken      string
	AccessToken  string
	ExpiresIn    int
	Scope        string
	State        string
	SessionState string

	Error *Error
}

// Values encodes the response parameters for query, fragment or form_post delivery.
func (r *AuthorizeResponse) Values() url.Values {
	v := url.Values{}
	if r.Error != nil {
		v.Set("error", string(r.Error.Code))
		if r.Error.Description != "" {
			v.Set("error_description", r.Error.Description)
		}
	} else {
		if r.Code != "" {
			v.Set("code", r.Code)
		}
		if r.IdToken != "" {
			v.Set("id_token", r.IdToken)
		}
		if r.AccessToken != "" {
			v.Set("access_token", r.AccessToken)
			v.Set("token_type", TokenTypeBearer)
			v.Set("expires_in", strconv.Itoa(r.ExpiresIn))
		}
		if r.Scope != "" {
			v.Set("scope", r.Scope)
		}
		if r.SessionState != "" {
			v.Set("session_state", r.SessionState)
		}
	}
	if r.State != "" {
		v.Set("state", r.State)
	}
	return v
}
