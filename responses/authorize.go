package responses

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuthorizeResponseGenerator builds the authorization response of an interactive request
// that has a signed-in subject and the consented resources.
type AuthorizeResponseGenerator struct {
	creator *token.Creator
	grants  *grants.Manager
	events  *events.Service
	nowTime func() time.Time
	logger  zerolog.Logger
}

type AuthorizeResponseOption func(*AuthorizeResponseGenerator)

func WithAuthorizeResponseEvents(e *events.Service) AuthorizeResponseOption {
	return func(g *AuthorizeResponseGenerator) {
		g.events = e
	}
}

func WithAuthorizeResponseNowTime(now func() time.Time) AuthorizeResponseOption {
	return func(g *AuthorizeResponseGenerator) {
		g.nowTime = now
	}
}

func WithAuthorizeResponseLogger(l zerolog.Logger) AuthorizeResponseOption {
	return func(g *AuthorizeResponseGenerator) {
		g.logger = l
	}
}

func NewAuthorizeResponseGenerator(creator *token.Creator, manager *grants.Manager, opts ...AuthorizeResponseOption) (*AuthorizeResponseGenerator, error) {
	if creator == nil {
		return nil, fmt.Errorf("[NewAuthorizeResponseGenerator] token creator is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("[NewAuthorizeResponseGenerator] grant manager is required")
	}
	g := &AuthorizeResponseGenerator{creator: creator, grants: manager, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Create issues the code and front channel tokens for the requested response type.
// consentShown records whether the user was shown the consent screen.
func (g *AuthorizeResponseGenerator) Create(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest, consentShown bool) (*oauth2.AuthorizeResponse, error) {
	if !req.Subject.IsAuthenticated() {
		return nil, fmt.Errorf("[AuthorizeResponseGenerator.Create] subject is required")
	}
	resp := &oauth2.AuthorizeResponse{
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
		State:        req.State,
	}

	if req.HasResponseType(oauth2.CodeResponseType) {
		code, err := g.storeCode(ctx, req, consentShown)
		if err != nil {
			return nil, err
		}
		resp.Code = code
	}

	creation := &token.CreationRequest{
		Subject:      req.Subject,
		Client:       req.Client,
		Resources:    req.Resources,
		Nonce:        req.Nonce,
		Confirmation: req.Confirmation,
	}

	if req.HasResponseType(oauth2.TokenResponseType) {
		at, err := g.creator.CreateAccessToken(ctx, creation)
		if err != nil {
			return nil, fmt.Errorf("[AuthorizeResponseGenerator.Create] access token: %w", err)
		}
		if resp.AccessToken, err = g.creator.CreateSecurityToken(ctx, at); err != nil {
			return nil, fmt.Errorf("[AuthorizeResponseGenerator.Create] access token: %w", err)
		}
		resp.ExpiresIn = int(at.Lifetime.Seconds())
		resp.Scope = req.Resources.ScopeString()
	}

	if req.HasResponseType(oauth2.IDTokenResponseType) {
		creation.AccessTokenToHash = resp.AccessToken
		creation.AuthorizationCodeToHash = resp.Code
		creation.IncludeAllIdentityClaims = resp.AccessToken == ""
		it, err := g.creator.CreateIdentityToken(ctx, creation)
		if err != nil {
			return nil, fmt.Errorf("[AuthorizeResponseGenerator.Create] identity token: %w", err)
		}
		if resp.IdToken, err = g.creator.CreateSecurityToken(ctx, it); err != nil {
			return nil, fmt.Errorf("[AuthorizeResponseGenerator.Create] identity token: %w", err)
		}
	}

	if req.IsOpenIDRequest && req.Subject.SessionID != "" {
		state, err := sessionState(req.Client.ID, req.RedirectURI, req.Subject.SessionID)
		if err != nil {
			return nil, err
		}
		resp.SessionState = state
	}

	if resp.AccessToken != "" || resp.IdToken != "" {
		g.events.Raise(ctx, events.Success, func() *events.Event {
			return &events.Event{
				Name:      events.TokenIssuedSuccess,
				ClientID:  req.Client.ID,
				SubjectID: req.Subject.ID,
				GrantType: string(req.GrantType),
				Endpoint:  "authorize",
				Details:   map[string]any{"responseType": req.ResponseType, "scopes": req.Resources.ScopeString()},
			}
		})
	}
	g.logger.Debug().Str("client_id", req.Client.ID).Str("response_type", req.ResponseType).Msg("authorize response created")
	return resp, nil
}

func (g *AuthorizeResponseGenerator) storeCode(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest, consentShown bool) (string, error) {
	code := &grants.AuthorizationCode{
		ClientID:                    req.Client.ID,
		SubjectID:                   req.Subject.ID,
		SessionID:                   req.Subject.SessionID,
		CreationTime:                g.nowTime().UTC(),
		Lifetime:                    req.Client.AuthorizationCodeLifetime,
		RedirectURI:                 req.RedirectURI,
		RequestedScopes:             req.Resources.RawScopeValues(),
		RequestedResourceIndicators: req.ResourceIndicators,
		Nonce:                       req.Nonce,
		CodeChallenge:               req.CodeChallenge,
		CodeChallengeMethod:         string(req.CodeChallengeMethod),
		IsOpenID:                    req.IsOpenIDRequest,
		AuthTime:                    req.Subject.AuthTime,
		AMR:                         req.Subject.AMR,
		WasConsentShown:             consentShown,
	}
	if req.State != "" {
		sum := sha256.Sum256([]byte(req.State))
		code.StateHash = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	handle, err := g.grants.StoreAuthorizationCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("[AuthorizeResponseGenerator.Create] store code: %w", err)
	}
	return handle, nil
}

// sessionState is the OpenID session management value: a salted hash of the client id,
// the redirect origin and the session id, followed by the salt.
func sessionState(clientID, redirectURI, sessionID string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("[sessionState] %w", err)
	}
	origin := u.Scheme + "://" + u.Host

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("[sessionState] %w", err)
	}
	salt := hex.EncodeToString(raw)

	sum := sha256.Sum256([]byte(clientID + origin + sessionID + salt))
	return base64.RawURLEncoding.EncodeToString(sum[:]) + "." + salt, nil
}
