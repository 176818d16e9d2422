package responses

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TokenResponseGenerator issues the tokens of a validated token request.
type TokenResponseGenerator struct {
	creator *token.Creator
	grants  *grants.Manager
	events  *events.Service
	nowTime func() time.Time
	logger  zerolog.Logger
}

type TokenResponseOption func(*TokenResponseGenerator)

func WithTokenResponseEvents(e *events.Service) TokenResponseOption {
	return func(g *TokenResponseGenerator) {
		g.events = e
	}
}

func WithTokenResponseNowTime(now func() time.Time) TokenResponseOption {
	return func(g *TokenResponseGenerator) {
		g.nowTime = now
	}
}

func WithTokenResponseLogger(l zerolog.Logger) TokenResponseOption {
	return func(g *TokenResponseGenerator) {
		g.logger = l
	}
}

func NewTokenResponseGenerator(creator *token.Creator, manager *grants.Manager, opts ...TokenResponseOption) (*TokenResponseGenerator, error) {
	if creator == nil {
		return nil, fmt.Errorf("[NewTokenResponseGenerator] token creator is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("[NewTokenResponseGenerator] grant manager is required")
	}
	g := &TokenResponseGenerator{creator: creator, grants: manager, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *TokenResponseGenerator) now() time.Time {
	return g.nowTime().UTC()
}

// Process issues the access token and, where the grant allows it, a refresh token and an
// identity token.
func (g *TokenResponseGenerator) Process(ctx context.Context, req *oauthmodel.ValidatedTokenRequest) (*oauth2.TokenResponse, error) {
	var (
		resp *oauth2.TokenResponse
		err  error
	)
	if req.GrantType == oauth2.RefreshTokenGrant {
		resp, err = g.processRefresh(ctx, req)
	} else {
		resp, err = g.processGrant(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	resp.Custom = req.CustomResponse

	g.events.Raise(ctx, events.Success, func() *events.Event {
		e := &events.Event{
			Name:      events.TokenIssuedSuccess,
			ClientID:  req.Client.ID,
			GrantType: string(req.GrantType),
			Endpoint:  "token",
			Details:   map[string]any{"scopes": resp.Scope},
		}
		if req.Subject.IsAuthenticated() {
			e.SubjectID = req.Subject.ID
		}
		return e
	})
	return resp, nil
}

func (g *TokenResponseGenerator) processGrant(ctx context.Context, req *oauthmodel.ValidatedTokenRequest) (*oauth2.TokenResponse, error) {
	creation := &token.CreationRequest{
		Subject:      req.Subject,
		Client:       req.Client,
		Resources:    req.Resources,
		Confirmation: req.Confirmation,
	}
	if req.AuthorizationCode != nil {
		creation.Nonce = req.AuthorizationCode.Nonce
	}

	at, handle, err := g.accessToken(ctx, creation)
	if err != nil {
		return nil, err
	}
	resp := &oauth2.TokenResponse{
		AccessToken: handle,
		TokenType:   oauth2.TokenTypeBearer,
		ExpiresIn:   int(at.Lifetime.Seconds()),
		Scope:       req.Resources.ScopeString(),
	}

	if req.Resources.OfflineAccess && req.Subject.IsAuthenticated() {
		now := g.now()
		rt := &grants.RefreshToken{
			ClientID:           req.Client.ID,
			SubjectID:          req.Subject.ID,
			SessionID:          req.Subject.SessionID,
			CreationTime:       now,
			Lifetime:           refreshTokenLifetime(req.Client, now, now),
			Version:            1,
			FamilyID:           uuid.NewString(),
			AccessToken:        *at,
			AuthorizedScopes:   req.Resources.RawScopeValues(),
			ResourceIndicators: requestedIndicators(req),
		}
		rtHandle, err := g.grants.StoreRefreshToken(ctx, rt)
		if err != nil {
			return nil, fmt.Errorf("[TokenResponseGenerator.Process] store refresh token: %w", err)
		}
		if err := g.link(ctx, at, handle, rtHandle); err != nil {
			return nil, err
		}
		resp.RefreshToken = &rtHandle
	}

	if issuesIdentityToken(req) {
		idToken, err := g.identityToken(ctx, creation)
		if err != nil {
			return nil, err
		}
		resp.IdToken = &idToken
	}
	return resp, nil
}

// processRefresh issues a new access token from a refresh token. OneTimeOnly clients get a
// successor refresh token in the same family; ReUse clients keep the handle and only have
// its sliding lifetime extended.
func (g *TokenResponseGenerator) processRefresh(ctx context.Context, req *oauthmodel.ValidatedTokenRequest) (*oauth2.TokenResponse, error) {
	old := req.RefreshToken
	creation := &token.CreationRequest{
		Subject:      req.Subject,
		Client:       req.Client,
		Resources:    req.Resources,
		Confirmation: req.Confirmation,
	}
	at, handle, err := g.accessToken(ctx, creation)
	if err != nil {
		return nil, err
	}
	resp := &oauth2.TokenResponse{
		AccessToken: handle,
		TokenType:   oauth2.TokenTypeBearer,
		ExpiresIn:   int(at.Lifetime.Seconds()),
		Scope:       req.Resources.ScopeString(),
	}

	now := g.now()
	rtHandle := req.RefreshTokenHandle
	if req.Client.RefreshTokenUsage == clients.RefreshTokenOneTimeOnly {
		next := &grants.RefreshToken{
			ClientID:           old.ClientID,
			SubjectID:          old.SubjectID,
			SessionID:          old.SessionID,
			CreationTime:       old.CreationTime,
			Lifetime:           refreshTokenLifetime(req.Client, old.CreationTime, now),
			Version:            old.Version + 1,
			FamilyID:           old.FamilyID,
			AccessToken:        *at,
			AuthorizedScopes:   old.AuthorizedScopes,
			ResourceIndicators: old.ResourceIndicators,
		}
		if rtHandle, err = g.grants.StoreRefreshToken(ctx, next); err != nil {
			return nil, fmt.Errorf("[TokenResponseGenerator.Process] rotate refresh token: %w", err)
		}
	} else {
		old.AccessToken = *at
		old.ReferenceTokenKey = ""
		if req.Client.RefreshTokenExpiration == clients.RefreshTokenSliding {
			old.Lifetime = refreshTokenLifetime(req.Client, old.CreationTime, now)
		}
		if err := g.grants.UpdateRefreshToken(ctx, rtHandle, old); err != nil {
			return nil, fmt.Errorf("[TokenResponseGenerator.Process] update refresh token: %w", err)
		}
	}
	if err := g.link(ctx, at, handle, rtHandle); err != nil {
		return nil, err
	}
	resp.RefreshToken = &rtHandle

	if req.Resources.HasOpenID() && req.Subject.IsAuthenticated() {
		idToken, err := g.identityToken(ctx, creation)
		if err != nil {
			return nil, err
		}
		resp.IdToken = &idToken
	}
	return resp, nil
}

func (g *TokenResponseGenerator) accessToken(ctx context.Context, req *token.CreationRequest) (*grants.Token, string, error) {
	at, err := g.creator.CreateAccessToken(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("[TokenResponseGenerator.Process] access token: %w", err)
	}
	handle, err := g.creator.CreateSecurityToken(ctx, at)
	if err != nil {
		return nil, "", fmt.Errorf("[TokenResponseGenerator.Process] access token: %w", err)
	}
	return at, handle, nil
}

func (g *TokenResponseGenerator) identityToken(ctx context.Context, req *token.CreationRequest) (string, error) {
	it, err := g.creator.CreateIdentityToken(ctx, req)
	if err != nil {
		return "", fmt.Errorf("[TokenResponseGenerator.Process] identity token: %w", err)
	}
	signed, err := g.creator.CreateSecurityToken(ctx, it)
	if err != nil {
		return "", fmt.Errorf("[TokenResponseGenerator.Process] identity token: %w", err)
	}
	return signed, nil
}

// link ties a reference access token to its refresh token so revoking one removes the other.
func (g *TokenResponseGenerator) link(ctx context.Context, at *grants.Token, handle, rtHandle string) error {
	if at.AccessTokenType != clients.AccessTokenTypeReference {
		return nil
	}
	if err := g.grants.LinkTokens(ctx, handle, rtHandle); err != nil {
		return fmt.Errorf("[TokenResponseGenerator.Process] %w", err)
	}
	return nil
}

// refreshTokenLifetime is measured from the original creation time of the token family.
// Sliding tokens extend by the sliding lifetime on every use but never beyond the
// absolute lifetime.
func refreshTokenLifetime(client *clients.Client, created, now time.Time) time.Duration {
	absolute := client.AbsoluteRefreshTokenLifetime
	if client.RefreshTokenExpiration != clients.RefreshTokenSliding {
		return absolute
	}
	lifetime := now.Sub(created) + client.SlidingRefreshTokenLifetime
	if absolute > 0 && lifetime > absolute {
		lifetime = absolute
	}
	return lifetime
}

// issuesIdentityToken is true for interactive grants of openid requests. The password and
// extension grants never return an identity token.
func issuesIdentityToken(req *oauthmodel.ValidatedTokenRequest) bool {
	if !req.Resources.HasOpenID() || !req.Subject.IsAuthenticated() {
		return false
	}
	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant, oauth2.DeviceCodeGrant:
		return true
	}
	return false
}

func requestedIndicators(req *oauthmodel.ValidatedTokenRequest) []string {
	switch {
	case req.AuthorizationCode != nil:
		return req.AuthorizationCode.RequestedResourceIndicators
	case req.DeviceCode != nil:
		return req.DeviceCode.ResourceIndicators
	}
	return req.Raw["resource"]
}
