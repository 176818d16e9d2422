package auth

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

// RevocationRequestValidator checks RFC 7009 revocation requests.
type RevocationRequestValidator struct{}

func NewRevocationRequestValidator() *RevocationRequestValidator {
	return &RevocationRequestValidator{}
}

// Validate requires a token and accepts an absent, access_token or refresh_token hint.
func (v *RevocationRequestValidator) Validate(_ context.Context, params url.Values, client *clients.Client) (*oauthmodel.ValidatedRevocationRequest, error) {
	raw := params.Get("token")
	if raw == "" {
		return nil, invalidRequest("token is required")
	}
	hint := params.Get("token_type_hint")
	switch hint {
	case "", oauth2.TokenTypeHintAccessToken, oauth2.TokenTypeHintRefreshToken:
	default:
		return nil, oauth2.NewError(oauth2.ErrorUnsupportedTokenType, "unsupported token_type_hint")
	}
	return &oauthmodel.ValidatedRevocationRequest{Client: client, Token: raw, TokenTypeHint: hint}, nil
}
