package clients

import (
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

// SecretType identifies how a stored secret is compared with presented credentials.
type SecretType string

const (
	SecretTypeSharedSecret   SecretType = "SharedSecret"   // SHA-256 (base64) or bcrypt hash of the secret
	SecretTypeX509Thumbprint SecretType = "X509Thumbprint" // hex or base64url SHA-256 certificate thumbprint
	SecretTypeX509Name       SecretType = "X509Name"       // certificate subject distinguished name
	SecretTypeJSONWebKey     SecretType = "JWK"            // public JWK used to verify client assertions
)

// Secret is a credential registered for a client or API resource.
type Secret struct {
	Type        SecretType `json:"type" yaml:"type"`
	Value       string     `json:"value" yaml:"value"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Expiration  *time.Time `json:"expiration,omitempty" yaml:"expiration,omitempty"`
}

// Expired reports whether the secret can no longer be used at now.
func (s Secret) Expired(now time.Time) bool {
	return s.Expiration != nil && !now.Before(*s.Expiration)
}

type AccessTokenType string

const (
	AccessTokenTypeJWT       AccessTokenType = "jwt"
	AccessTokenTypeReference AccessTokenType = "reference"
)

// RefreshTokenUsage controls whether a refresh token handle is rotated on use.
type RefreshTokenUsage string

const (
	RefreshTokenOneTimeOnly RefreshTokenUsage = "OneTimeOnly"
	RefreshTokenReUse       RefreshTokenUsage = "ReUse"
)

// RefreshTokenExpiration controls how a refresh token lifetime is computed.
type RefreshTokenExpiration string

const (
	RefreshTokenAbsolute RefreshTokenExpiration = "Absolute"
	RefreshTokenSliding  RefreshTokenExpiration = "Sliding"
)

// Client is a registered relying party. It is treated as immutable while a request is validated.
type Client struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`

	Secrets             []Secret `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	RequireClientSecret bool     `json:"requireClientSecret" yaml:"requireClientSecret"`

	AllowedGrantTypes      []oauth2.GrantType `json:"allowedGrantTypes" yaml:"allowedGrantTypes"`
	AllowedScopes          []string           `json:"allowedScopes" yaml:"allowedScopes"`
	RedirectURIs           []string           `json:"redirectURIs,omitempty" yaml:"redirectURIs,omitempty"`
	PostLogoutRedirectURIs []string           `json:"postLogoutRedirectURIs,omitempty" yaml:"postLogoutRedirectURIs,omitempty"`
	FrontChannelLogoutURI  string             `json:"frontChannelLogoutURI,omitempty" yaml:"frontChannelLogoutURI,omitempty"`
	BackChannelLogoutURI   string             `json:"backChannelLogoutURI,omitempty" yaml:"backChannelLogoutURI,omitempty"`

	RequirePKCE                 bool `json:"requirePKCE" yaml:"requirePKCE"`
	AllowPlainTextPKCE          bool `json:"allowPlainTextPKCE" yaml:"allowPlainTextPKCE"`
	RequireConsent              bool `json:"requireConsent" yaml:"requireConsent"`
	AllowRememberConsent        bool `json:"allowRememberConsent" yaml:"allowRememberConsent"`
	AllowOfflineAccess          bool `json:"allowOfflineAccess" yaml:"allowOfflineAccess"`
	AllowAccessTokensViaBrowser bool `json:"allowAccessTokensViaBrowser" yaml:"allowAccessTokensViaBrowser"`

	// AllowPromptNoneErrorRedirect delivers login_required / consent_required errors of
	// prompt=none requests to the redirect_uri instead of the local error page.
	AllowPromptNoneErrorRedirect     bool `json:"allowPromptNoneErrorRedirect" yaml:"allowPromptNoneErrorRedirect"`
	AlwaysIncludeUserClaimsInIDToken bool `json:"alwaysIncludeUserClaimsInIdToken" yaml:"alwaysIncludeUserClaimsInIdToken"`

	AccessTokenType AccessTokenType `json:"accessTokenType" yaml:"accessTokenType"`

	AccessTokenLifetime          time.Duration `json:"accessTokenLifetime" yaml:"accessTokenLifetime"`
	IdentityTokenLifetime        time.Duration `json:"identityTokenLifetime" yaml:"identityTokenLifetime"`
	AuthorizationCodeLifetime    time.Duration `json:"authorizationCodeLifetime" yaml:"authorizationCodeLifetime"`
	DeviceCodeLifetime           time.Duration `json:"deviceCodeLifetime" yaml:"deviceCodeLifetime"`
	AbsoluteRefreshTokenLifetime time.Duration `json:"absoluteRefreshTokenLifetime" yaml:"absoluteRefreshTokenLifetime"`
	SlidingRefreshTokenLifetime  time.Duration `json:"slidingRefreshTokenLifetime" yaml:"slidingRefreshTokenLifetime"`
	ConsentLifetime              time.Duration `json:"consentLifetime,omitempty" yaml:"consentLifetime,omitempty"`
	PollingInterval              time.Duration `json:"pollingInterval,omitempty" yaml:"pollingInterval,omitempty"`

	RefreshTokenUsage      RefreshTokenUsage      `json:"refreshTokenUsage" yaml:"refreshTokenUsage"`
	RefreshTokenExpiration RefreshTokenExpiration `json:"refreshTokenExpiration" yaml:"refreshTokenExpiration"`
}

// IsPublic returns true if the client cannot keep a secret
func (c *Client) IsPublic() bool {
	return !c.RequireClientSecret
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (c *Client) IsGrantTypeAllowed(gt oauth2.GrantType) bool {
	for _, g := range c.AllowedGrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// IsRedirectURIValid performs an exact, case sensitive comparison against the registered
// redirect URIs. Query strings must match the registered value exactly.
func (c *Client) IsRedirectURIValid(uri string) bool {
	return exactMatch(c.RedirectURIs, uri)
}

func (c *Client) IsPostLogoutRedirectURIValid(uri string) bool {
	return exactMatch(c.PostLogoutRedirectURIs, uri)
}

// ActiveSecrets returns the secrets that have not expired at now.
func (c *Client) ActiveSecrets(now time.Time) []Secret {
	active := make([]Secret, 0, len(c.Secrets))
	for _, s := range c.Secrets {
		if !s.Expired(now) {
			active = append(active, s)
		}
	}
	return active
}

func exactMatch(registered []string, uri string) bool {
	if uri == "" {
		return false
	}
	if _, err := url.Parse(uri); err != nil {
		return false
	}
	for _, r := range registered {
		if r == uri {
			return true
		}
	}
	return false
}
