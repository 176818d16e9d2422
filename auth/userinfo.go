package auth

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/token"
)

// UserInfoRequestValidator validates the bearer token presented at the userinfo endpoint.
type UserInfoRequestValidator struct {
	tokens  *token.Validator
	profile oauthmodel.ProfileService
}

func NewUserInfoRequestValidator(tokens *token.Validator, profile oauthmodel.ProfileService) (*UserInfoRequestValidator, error) {
	if tokens == nil {
		return nil, fmt.Errorf("[NewUserInfoRequestValidator] token validator is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("[NewUserInfoRequestValidator] profile service is required")
	}
	return &UserInfoRequestValidator{tokens: tokens, profile: profile}, nil
}

// Validate requires a token carrying the openid scope, issued to an active user.
func (v *UserInfoRequestValidator) Validate(ctx context.Context, accessToken string) (*oauthmodel.ValidatedUserInfoRequest, error) {
	if accessToken == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidToken, "no access token")
	}
	res, err := v.tokens.ValidateAccessToken(ctx, accessToken, oauth2.ScopeOpenID)
	if err != nil {
		return nil, err
	}
	sub := res.SubjectID()
	if sub == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidToken, "token has no subject")
	}
	active, err := v.profile.IsActive(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("[UserInfoRequestValidator.Validate] %w", err)
	}
	if !active {
		return nil, oauth2.NewError(oauth2.ErrorInvalidToken, "user is not active")
	}
	return &oauthmodel.ValidatedUserInfoRequest{
		Client:      res.Client,
		SubjectID:   sub,
		Scopes:      res.Scopes(),
		TokenClaims: res.Claims,
	}, nil
}
