package grants

import (
	"time"

	"github.com/jrsteele09/go-oidc-provider/clients"
)

const (
	TokenTypeAccessToken   = "access_token"
	TokenTypeIdentityToken = "id_token"
)

// Token is the provider's model of a security token before it is serialised. Reference
// tokens persist it as is; refresh tokens embed it as the template for the next access token.
type Token struct {
	Type            string                  `json:"type"`
	Issuer          string                  `json:"issuer"`
	ClientID        string                  `json:"clientId"`
	SubjectID       string                  `json:"subjectId,omitempty"`
	SessionID       string                  `json:"sessionId,omitempty"`
	Audiences       []string                `json:"audiences,omitempty"`
	CreationTime    time.Time               `json:"creationTime"`
	Lifetime        time.Duration           `json:"lifetime"`
	AccessTokenType clients.AccessTokenType `json:"accessTokenType,omitempty"`
	Scopes          []string                `json:"scopes,omitempty"`
	Nonce           string                  `json:"nonce,omitempty"`
	AuthTime        time.Time               `json:"authTime,omitempty"`
	AMR             []string                `json:"amr,omitempty"`
	// Confirmation is the JSON encoded "cnf" claim value, set for proof-of-possession tokens.
	Confirmation string `json:"confirmation,omitempty"`
	// Claims are additional claims, such as user claims or hashes.
	Claims map[string]any `json:"claims,omitempty"`
	JTI    string         `json:"jti,omitempty"`
	// RefreshTokenKey links a reference token to the refresh token issued with it.
	RefreshTokenKey string `json:"refreshTokenKey,omitempty"`
}

func (t *Token) Expiration() time.Time {
	return t.CreationTime.Add(t.Lifetime)
}

// AuthorizationCode is a single use grant redeemed at the token endpoint.
type AuthorizationCode struct {
	ClientID                    string        `json:"clientId"`
	SubjectID                   string        `json:"subjectId"`
	SessionID                   string        `json:"sessionId,omitempty"`
	CreationTime                time.Time     `json:"creationTime"`
	Lifetime                    time.Duration `json:"lifetime"`
	RedirectURI                 string        `json:"redirectUri"`
	RequestedScopes             []string      `json:"requestedScopes"`
	RequestedResourceIndicators []string      `json:"resourceIndicators,omitempty"`
	Nonce                       string        `json:"nonce,omitempty"`
	StateHash                   string        `json:"stateHash,omitempty"`
	CodeChallenge               string        `json:"codeChallenge,omitempty"`
	CodeChallengeMethod         string        `json:"codeChallengeMethod,omitempty"`
	IsOpenID                    bool          `json:"isOpenId"`
	AuthTime                    time.Time     `json:"authTime"`
	AMR                         []string      `json:"amr,omitempty"`
	WasConsentShown             bool          `json:"wasConsentShown,omitempty"`
}

func (c *AuthorizationCode) Expiration() time.Time {
	return c.CreationTime.Add(c.Lifetime)
}

// RefreshToken is a long lived grant. Rotation bumps Version and keeps FamilyID, so reuse of
// an earlier version can revoke every token descended from the same original grant.
type RefreshToken struct {
	ClientID           string        `json:"clientId"`
	SubjectID          string        `json:"subjectId"`
	SessionID          string        `json:"sessionId,omitempty"`
	CreationTime       time.Time     `json:"creationTime"`
	Lifetime           time.Duration `json:"lifetime"`
	Version            int           `json:"version"`
	FamilyID           string        `json:"familyId"`
	ConsumedTime       *time.Time    `json:"consumedTime,omitempty"`
	AccessToken        Token         `json:"accessToken"`
	AuthorizedScopes   []string      `json:"authorizedScopes"`
	ResourceIndicators []string      `json:"resourceIndicators,omitempty"`
	// ReferenceTokenKey is the store key of the reference access token issued with this refresh token.
	ReferenceTokenKey string `json:"referenceTokenKey,omitempty"`
}

func (r *RefreshToken) Expiration() time.Time {
	return r.CreationTime.Add(r.Lifetime)
}

// DeviceCodeState is the device flow state machine: pending → authorized | denied.
// Redemption removes the grant; expiry is derived from CreationTime and Lifetime.
type DeviceCodeState string

const (
	DeviceCodePending    DeviceCodeState = "pending"
	DeviceCodeAuthorized DeviceCodeState = "authorized"
	DeviceCodeDenied     DeviceCodeState = "denied"
)

type DeviceCode struct {
	ClientID           string          `json:"clientId"`
	CreationTime       time.Time       `json:"creationTime"`
	Lifetime           time.Duration   `json:"lifetime"`
	Interval           time.Duration   `json:"interval"`
	RequestedScopes    []string        `json:"requestedScopes"`
	ResourceIndicators []string        `json:"resourceIndicators,omitempty"`
	IsOpenID           bool            `json:"isOpenId"`
	State              DeviceCodeState `json:"state"`
	SubjectID          string          `json:"subjectId,omitempty"`
	SessionID          string          `json:"sessionId,omitempty"`
	AuthTime           time.Time       `json:"authTime,omitempty"`
	AMR                []string        `json:"amr,omitempty"`
	AuthorizedScopes   []string        `json:"authorizedScopes,omitempty"`
	UserCodeKey        string          `json:"userCodeKey"`
}

func (d *DeviceCode) Expiration() time.Time {
	return d.CreationTime.Add(d.Lifetime)
}

func (d *DeviceCode) IsExpired(now time.Time) bool {
	return !now.Before(d.Expiration())
}

// UserConsent records the scopes a subject granted to a client.
type UserConsent struct {
	SubjectID    string     `json:"subjectId"`
	ClientID     string     `json:"clientId"`
	Scopes       []string   `json:"scopes"`
	CreationTime time.Time  `json:"creationTime"`
	Expiration   *time.Time `json:"expiration,omitempty"`
}

type userCodeIndex struct {
	DeviceCodeKey string `json:"deviceCodeKey"`
}

type devicePoll struct {
	LastPolledAt time.Time `json:"lastPolledAt"`
}
