package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EndSessionRequestValidator validates logout requests at the end-session endpoint.
type EndSessionRequestValidator struct {
	opts    Options
	tokens  *token.Validator
	clients clients.Repo
	logger  zerolog.Logger
}

func NewEndSessionRequestValidator(opts Options, tokens *token.Validator, clientRepo clients.Repo) (*EndSessionRequestValidator, error) {
	if tokens == nil {
		return nil, fmt.Errorf("[NewEndSessionRequestValidator] token validator is required")
	}
	if clientRepo == nil {
		return nil, fmt.Errorf("[NewEndSessionRequestValidator] client repo is required")
	}
	return &EndSessionRequestValidator{opts: opts.withDefaults(), tokens: tokens, clients: clientRepo, logger: log.Logger}, nil
}

// Validate checks a logout request against the current session, which may be nil. An
// id_token_hint for another user than the signed-in one is rejected. A
// post_logout_redirect_uri is kept only when it is registered for the client of a valid
// id_token_hint, otherwise it is dropped together with state.
func (v *EndSessionRequestValidator) Validate(ctx context.Context, params url.Values, session *oauthmodel.Session) (*oauthmodel.ValidatedEndSessionRequest, error) {
	req := &oauthmodel.ValidatedEndSessionRequest{UILocales: params.Get("ui_locales")}
	if session != nil {
		req.Subject = session.Subject()
		req.ClientIDs = session.ClientIDs
	}

	if hint := params.Get("id_token_hint"); hint != "" {
		res, err := v.tokens.ValidateIdentityToken(ctx, hint, "", false)
		if err != nil {
			if _, ok := oauth2.AsError(err); ok {
				return nil, invalidRequest("invalid id_token_hint")
			}
			return nil, fmt.Errorf("[EndSessionRequestValidator.Validate] %w", err)
		}
		sub := res.SubjectID()
		if session != nil && session.SubjectID != sub {
			v.logger.Warn().Str("client_id", res.Client.ID).Msg("id_token_hint subject does not match the current session")
			return nil, invalidRequest("id_token_hint does not match the current session")
		}
		req.Client = res.Client
		req.IDTokenHintClaims = res.Claims
	} else if clientID := params.Get("client_id"); clientID != "" {
		client, err := v.clients.Get(ctx, clientID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			return nil, invalidRequest("unknown client")
		case err != nil:
			return nil, fmt.Errorf("[EndSessionRequestValidator.Validate] %w", err)
		case client.Enabled:
			req.Client = client
		}
	}

	uri := params.Get("post_logout_redirect_uri")
	switch {
	case uri == "":
	case req.IDTokenHintClaims == nil:
		v.logger.Info().Msg("post_logout_redirect_uri without id_token_hint, ignoring it")
	case len(uri) <= v.opts.InputLengths.RedirectURI && req.Client != nil && req.Client.IsPostLogoutRedirectURIValid(uri):
		req.PostLogoutRedirectURI = uri
		req.State = params.Get("state")
	default:
		v.logger.Info().Msg("post_logout_redirect_uri is not registered, ignoring it")
	}
	return req, nil
}

// EndSessionCallbackValidator resolves the clients to notify when a session ends.
type EndSessionCallbackValidator struct {
	opts    Options
	clients clients.Repo
}

func NewEndSessionCallbackValidator(opts Options, clientRepo clients.Repo) (*EndSessionCallbackValidator, error) {
	if clientRepo == nil {
		return nil, fmt.Errorf("[NewEndSessionCallbackValidator] client repo is required")
	}
	return &EndSessionCallbackValidator{opts: opts.withDefaults(), clients: clientRepo}, nil
}

// Validate builds front-channel logout URLs (with iss and sid) and the back-channel
// client list. Unknown or disabled clients are skipped.
func (v *EndSessionCallbackValidator) Validate(ctx context.Context, n *oauthmodel.LogoutNotification) (*oauthmodel.ValidatedEndSessionCallback, error) {
	if n == nil {
		return nil, invalidRequest("no logout to process")
	}
	out := &oauthmodel.ValidatedEndSessionCallback{SubjectID: n.SubjectID, SessionID: n.SessionID}
	for _, id := range n.ClientIDs {
		client, err := v.clients.Get(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("[EndSessionCallbackValidator.Validate] %w", err)
		}
		if !client.Enabled {
			continue
		}
		if client.FrontChannelLogoutURI != "" {
			u, err := url.Parse(client.FrontChannelLogoutURI)
			if err != nil {
				continue
			}
			q := u.Query()
			q.Set("iss", v.opts.Issuer)
			if n.SessionID != "" {
				q.Set("sid", n.SessionID)
			}
			u.RawQuery = q.Encode()
			out.FrontChannelLogoutURLs = append(out.FrontChannelLogoutURLs, u.String())
		}
		if client.BackChannelLogoutURI != "" {
			out.BackChannelClients = append(out.BackChannelClients, client)
		}
	}
	return out, nil
}
