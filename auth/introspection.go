package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IntrospectionRequestValidator answers whether an access token is active for the calling API.
type IntrospectionRequestValidator struct {
	tokens *token.Validator
	events *events.Service
	logger zerolog.Logger
}

type IntrospectionOption func(*IntrospectionRequestValidator)

func WithIntrospectionEvents(e *events.Service) IntrospectionOption {
	return func(v *IntrospectionRequestValidator) {
		v.events = e
	}
}

func WithIntrospectionLogger(l zerolog.Logger) IntrospectionOption {
	return func(v *IntrospectionRequestValidator) {
		v.logger = l
	}
}

func NewIntrospectionRequestValidator(tokens *token.Validator, options ...IntrospectionOption) (*IntrospectionRequestValidator, error) {
	if tokens == nil {
		return nil, fmt.Errorf("[NewIntrospectionRequestValidator] token validator is required")
	}
	v := &IntrospectionRequestValidator{tokens: tokens, logger: log.Logger}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate checks the token on behalf of an authenticated API. A token that is invalid, not
// addressed to the API or carries none of its scopes is reported inactive, never as an error.
func (v *IntrospectionRequestValidator) Validate(ctx context.Context, params url.Values, api *resources.APIResource) (*oauthmodel.ValidatedIntrospectionRequest, error) {
	if api == nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidClient, "api authentication failed")
	}
	raw := params.Get("token")
	if raw == "" {
		return nil, invalidRequest("token is required")
	}
	out := &oauthmodel.ValidatedIntrospectionRequest{
		API:           api,
		Token:         raw,
		TokenTypeHint: params.Get("token_type_hint"),
	}

	res, err := v.tokens.ValidateAccessToken(ctx, raw, "")
	if err != nil {
		if _, ok := oauth2.AsError(err); ok {
			v.inactive(ctx, api, "invalid token")
			return out, nil
		}
		return nil, fmt.Errorf("[IntrospectionRequestValidator.Validate] %w", err)
	}
	if !utils.Contains(res.Audiences(), api.Name) {
		v.inactive(ctx, api, "api is not in the token audience")
		return out, nil
	}
	var scopes []string
	for _, s := range res.Scopes() {
		if name, ok := api.ResolveScope(s); ok && !utils.Contains(scopes, name) {
			scopes = append(scopes, name)
		}
	}
	if len(scopes) == 0 {
		v.inactive(ctx, api, "token carries no scope of the api")
		return out, nil
	}

	out.Active = true
	out.Claims = res.Claims
	out.Scopes = scopes
	v.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{Name: events.TokenIntrospectionSuccess, ClientID: res.Client.ID, SubjectID: res.SubjectID(), Details: map[string]any{"api": api.Name}}
	})
	return out, nil
}

func (v *IntrospectionRequestValidator) inactive(ctx context.Context, api *resources.APIResource, reason string) {
	v.logger.Debug().Str("api", api.Name).Msg(reason)
	v.events.Raise(ctx, events.Failure, func() *events.Event {
		return &events.Event{Name: events.TokenIntrospectionFailure, Message: reason, Details: map[string]any{"api": api.Name}}
	})
}
