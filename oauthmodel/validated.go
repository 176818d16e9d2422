package oauthmodel

import (
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
)

// ValidatedRequest carries what every validated request shares.
type ValidatedRequest struct {
	Client  *clients.Client
	Subject *Subject
	// Confirmation is the JSON "cnf" value established during client authentication.
	Confirmation string
}

// ValidatedAuthorizeRequest is an authorize request that passed validation and is ready for
// interaction (login, consent) or response generation. It is not modified afterwards.
type ValidatedAuthorizeRequest struct {
	ValidatedRequest

	Raw                 AuthorizeParameters
	ResponseType        string
	GrantType           oauth2.GrantType
	ResponseMode        oauth2.ResponseModeType
	RedirectURI         string
	State               string
	Nonce               string
	RequestedScopes     []string
	ResourceIndicators  []string
	Resources           *resources.ValidatedResources
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	PromptModes         []string
	MaxAge              *int
	LoginHint           string
	UILocales           string
	ACRValues           []string
	IsOpenIDRequest     bool

	// IDTokenHintSubject is the subject of a valid id_token_hint.
	IDTokenHintSubject string
}

// HasResponseType reports whether rt is one of the requested response types.
func (r *ValidatedAuthorizeRequest) HasResponseType(rt oauth2.ResponseType) bool {
	return utils.Contains(strings.Fields(r.ResponseType), string(rt))
}

func (r *ValidatedAuthorizeRequest) HasPrompt(p string) bool {
	return utils.Contains(r.PromptModes, p)
}

// ValidatedTokenRequest is the single result shape of every grant type.
type ValidatedTokenRequest struct {
	ValidatedRequest

	GrantType       oauth2.GrantType
	Raw             url.Values
	RequestedScopes []string
	Resources       *resources.ValidatedResources

	AuthorizationCode       *grants.AuthorizationCode
	AuthorizationCodeHandle string

	RefreshToken       *grants.RefreshToken
	RefreshTokenHandle string

	DeviceCode *grants.DeviceCode

	UserName       string
	CustomResponse map[string]any
}

// ValidatedIntrospectionRequest is the outcome of an introspection request. Active is false
// for unknown, expired or foreign tokens; that is not an error.
type ValidatedIntrospectionRequest struct {
	API           *resources.APIResource
	Token         string
	TokenTypeHint string
	Active        bool
	Claims        map[string]any
	// Scopes are the token scopes that belong to API.
	Scopes []string
}

type ValidatedRevocationRequest struct {
	Client        *clients.Client
	Token         string
	TokenTypeHint string
}

type ValidatedDeviceAuthorizationRequest struct {
	ValidatedRequest

	RequestedScopes    []string
	ResourceIndicators []string
	Resources          *resources.ValidatedResources
	IsOpenIDRequest    bool
}

// ValidatedEndSessionRequest carries the logout decision. PostLogoutRedirectURI and State are
// empty when the requested URI was not registered.
type ValidatedEndSessionRequest struct {
	ValidatedRequest

	PostLogoutRedirectURI string
	State                 string
	UILocales             string
	// ClientIDs are the clients that took part in the session being ended.
	ClientIDs []string
	// IDTokenHintClaims are the claims of a validated id_token_hint.
	IDTokenHintClaims map[string]any
}

// ValidatedEndSessionCallback lists the logout notifications to render or send.
type ValidatedEndSessionCallback struct {
	SubjectID              string
	SessionID              string
	FrontChannelLogoutURLs []string
	BackChannelClients     []*clients.Client
}

type ValidatedUserInfoRequest struct {
	Client      *clients.Client
	SubjectID   string
	Scopes      []string
	TokenClaims map[string]any
}

// Session is the login session of the signed-in user as the interaction layer stores it.
type Session struct {
	SubjectID string    `json:"sub"`
	SessionID string    `json:"sid"`
	AuthTime  time.Time `json:"authTime"`
	AMR       []string  `json:"amr,omitempty"`
	IdP       string    `json:"idp,omitempty"`
	ClientIDs []string  `json:"clientIds,omitempty"`
}

// Subject converts the session into the core's view of the signed-in user.
func (s *Session) Subject() *Subject {
	if s == nil {
		return nil
	}
	return &Subject{ID: s.SubjectID, SessionID: s.SessionID, AuthTime: s.AuthTime, AMR: s.AMR, IdP: s.IdP}
}
