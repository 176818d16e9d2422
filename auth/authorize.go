package auth

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var supportedPrompts = []string{oauth2.PromptNone, oauth2.PromptLogin, oauth2.PromptConsent, oauth2.PromptSelectAccount}

// AuthorizeRequestValidator validates requests to the authorization endpoint.
type AuthorizeRequestValidator struct {
	clients clients.Repo
	scopes  *resources.ScopeValidator
	tokens  *token.Validator
	opts    Options
	logger  zerolog.Logger
}

type AuthorizeOption func(*AuthorizeRequestValidator)

func WithAuthorizeLogger(l zerolog.Logger) AuthorizeOption {
	return func(v *AuthorizeRequestValidator) {
		v.logger = l
	}
}

func NewAuthorizeRequestValidator(opts Options, clientRepo clients.Repo, scopes *resources.ScopeValidator, tokens *token.Validator, options ...AuthorizeOption) (*AuthorizeRequestValidator, error) {
	if clientRepo == nil {
		return nil, fmt.Errorf("[NewAuthorizeRequestValidator] client repo is required")
	}
	if scopes == nil {
		return nil, fmt.Errorf("[NewAuthorizeRequestValidator] scope validator is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("[NewAuthorizeRequestValidator] token validator is required")
	}
	v := &AuthorizeRequestValidator{clients: clientRepo, scopes: scopes, tokens: tokens, opts: opts.withDefaults(), logger: log.Logger}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate checks an authorize request. Protocol failures are returned as *AuthorizeError;
// any other error is an internal failure.
func (v *AuthorizeRequestValidator) Validate(ctx context.Context, params oauthmodel.AuthorizeParameters, subject *oauthmodel.Subject) (*oauthmodel.ValidatedAuthorizeRequest, error) {
	lengths := v.opts.InputLengths
	req := &oauthmodel.ValidatedAuthorizeRequest{Raw: params}
	req.Subject = subject

	// Until the redirect_uri is known to belong to the client, errors go to the error page.
	pageErr := func(code oauth2.ErrorCode, description string) error {
		v.logger.Info().Str("client_id", params.ClientID).Str("error", string(code)).Msg(description)
		return &AuthorizeError{Err: oauth2.NewError(code, description), ClientID: params.ClientID}
	}

	if params.ClientID == "" || len(params.ClientID) > lengths.ClientID {
		return nil, pageErr(oauth2.ErrorInvalidRequest, "invalid client_id")
	}
	client, err := v.clients.Get(ctx, params.ClientID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, pageErr(oauth2.ErrorUnauthorizedClient, "unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("[AuthorizeRequestValidator.Validate] %w", err)
	}
	if !client.Enabled {
		return nil, pageErr(oauth2.ErrorUnauthorizedClient, "client is disabled")
	}
	req.Client = client

	if params.RedirectURI == "" {
		return nil, pageErr(oauth2.ErrorInvalidRequest, "redirect_uri is required")
	}
	if len(params.RedirectURI) > lengths.RedirectURI {
		return nil, pageErr(oauth2.ErrorInvalidRequest, "redirect_uri too long")
	}
	if !client.IsRedirectURIValid(params.RedirectURI) {
		return nil, pageErr(oauth2.ErrorUnauthorizedClient, "invalid redirect_uri")
	}
	req.RedirectURI = params.RedirectURI

	if len(params.State) > lengths.State {
		return nil, pageErr(oauth2.ErrorInvalidRequest, "state too long")
	}
	req.State = params.State

	// From here on errors are delivered to the client.
	clientErr := func(code oauth2.ErrorCode, description string) error {
		v.logger.Info().Str("client_id", client.ID).Str("error", string(code)).Msg(description)
		mode := req.ResponseMode
		if mode == "" {
			mode = oauth2.QueryResponseMode
		}
		return &AuthorizeError{
			Err:          oauth2.NewError(code, description),
			ClientID:     client.ID,
			RedirectURI:  req.RedirectURI,
			ResponseMode: mode,
			State:        req.State,
		}
	}

	if params.ResponseType == "" {
		return nil, clientErr(oauth2.ErrorInvalidRequest, "response_type is required")
	}
	responseType := oauth2.NormaliseResponseType(params.ResponseType)
	grantType, ok := oauth2.ResponseTypeGrantTypes[responseType]
	if !ok {
		return nil, clientErr(oauth2.ErrorUnsupportedResponseType, "unsupported response_type")
	}
	req.ResponseType = responseType
	req.GrantType = grantType

	if err := v.validateResponseMode(req, params.ResponseMode); err != nil {
		return nil, clientErr(err.Code, err.Description)
	}

	if !client.IsGrantTypeAllowed(grantType) {
		return nil, clientErr(oauth2.ErrorUnauthorizedClient, "response_type not allowed for this client")
	}
	if req.HasResponseType(oauth2.TokenResponseType) && !client.AllowAccessTokensViaBrowser {
		return nil, clientErr(oauth2.ErrorUnauthorizedClient, "client is not allowed to receive access tokens via the browser")
	}

	if err := v.validatePKCE(req, params); err != nil {
		return nil, clientErr(err.Code, err.Description)
	}

	if err := v.validateScopes(ctx, req, params); err != nil {
		if pe, ok := oauth2.AsError(err); ok {
			return nil, clientErr(pe.Code, pe.Description)
		}
		return nil, err
	}

	if err := v.validateOptionalParameters(ctx, req, params); err != nil {
		if pe, ok := oauth2.AsError(err); ok {
			return nil, clientErr(pe.Code, pe.Description)
		}
		return nil, err
	}

	return req, nil
}

func (v *AuthorizeRequestValidator) validateResponseMode(req *oauthmodel.ValidatedAuthorizeRequest, raw string) *oauth2.Error {
	if raw == "" {
		if req.ResponseType == oauth2.ResponseTypesCode {
			req.ResponseMode = oauth2.QueryResponseMode
		} else {
			req.ResponseMode = oauth2.FragmentResponseMode
		}
		return nil
	}
	mode := oauth2.ResponseModeType(raw)
	switch mode {
	case oauth2.QueryResponseMode, oauth2.FragmentResponseMode, oauth2.FormPostResponseMode:
	default:
		return invalidRequest("unsupported response_mode")
	}
	if mode == oauth2.QueryResponseMode && req.ResponseType != oauth2.ResponseTypesCode {
		// Tokens must not travel in the query string.
		req.ResponseMode = oauth2.FragmentResponseMode
		return invalidRequest("invalid response_mode for response_type")
	}
	req.ResponseMode = mode
	return nil
}

func (v *AuthorizeRequestValidator) validatePKCE(req *oauthmodel.ValidatedAuthorizeRequest, params oauthmodel.AuthorizeParameters) *oauth2.Error {
	if !req.HasResponseType(oauth2.CodeResponseType) {
		return nil
	}
	lengths := v.opts.InputLengths
	required := req.Client.RequirePKCE || req.Client.IsPublic()
	if params.CodeChallenge == "" {
		if required {
			return invalidRequest("code_challenge is required")
		}
		if params.CodeChallengeMethod != "" {
			return invalidRequest("code_challenge_method without code_challenge")
		}
		return nil
	}
	if len(params.CodeChallenge) < lengths.CodeChallengeMinLen || len(params.CodeChallenge) > lengths.CodeChallengeMaxLen || !validPKCECharset(params.CodeChallenge) {
		return invalidRequest("invalid code_challenge")
	}
	method := oauth2.CodeMethodType(params.CodeChallengeMethod)
	if method == "" {
		method = oauth2.CodeMethodTypePlain
	}
	switch method {
	case oauth2.CodeMethodTypeS256:
	case oauth2.CodeMethodTypePlain:
		if !req.Client.AllowPlainTextPKCE {
			return invalidRequest("transform algorithm not supported")
		}
	default:
		return invalidRequest("transform algorithm not supported")
	}
	req.CodeChallenge = params.CodeChallenge
	req.CodeChallengeMethod = method
	return nil
}

func (v *AuthorizeRequestValidator) validateScopes(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest, params oauthmodel.AuthorizeParameters) error {
	lengths := v.opts.InputLengths
	if params.Scope == "" {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "scope is required")
	}
	if len(params.Scope) > lengths.Scope {
		return invalidRequest("scope too long")
	}
	if err := checkResourceIndicators(params.Resource, lengths.ResourceIndicator); err != nil {
		return err
	}
	req.RequestedScopes = utils.SplitScopes(params.Scope)
	req.ResourceIndicators = params.Resource
	req.IsOpenIDRequest = utils.Contains(req.RequestedScopes, oauth2.ScopeOpenID)

	if req.HasResponseType(oauth2.IDTokenResponseType) && !req.IsOpenIDRequest {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "openid scope is required for id_token response types")
	}

	res, err := resolveScopes(ctx, v.scopes, req.Client, req.RequestedScopes, req.ResourceIndicators)
	if err != nil {
		return err
	}
	if req.ResponseType == oauth2.ResponseTypesIDToken && res.HasAPIScopes() {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "api scopes require an access token")
	}
	if res.OfflineAccess && !req.HasResponseType(oauth2.CodeResponseType) {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "offline_access requires a code flow")
	}
	req.Resources = res
	return nil
}

func (v *AuthorizeRequestValidator) validateOptionalParameters(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest, params oauthmodel.AuthorizeParameters) error {
	lengths := v.opts.InputLengths

	if req.HasResponseType(oauth2.IDTokenResponseType) && params.Nonce == "" {
		return invalidRequest("nonce is required")
	}
	if len(params.Nonce) > lengths.Nonce {
		return invalidRequest("nonce too long")
	}
	req.Nonce = params.Nonce

	prompts := params.PromptModes()
	for _, p := range prompts {
		if !utils.Contains(supportedPrompts, p) {
			return invalidRequest("unsupported prompt")
		}
	}
	if utils.Contains(prompts, oauth2.PromptNone) && len(prompts) > 1 {
		return invalidRequest("prompt none cannot be combined with other values")
	}
	req.PromptModes = prompts

	age, ok, err := params.MaxAgeSeconds()
	if err != nil {
		return err
	}
	if ok {
		req.MaxAge = &age
	}

	if len(params.LoginHint) > lengths.LoginHint {
		return invalidRequest("login_hint too long")
	}
	req.LoginHint = params.LoginHint
	if len(params.UILocales) > lengths.UILocale {
		return invalidRequest("ui_locales too long")
	}
	req.UILocales = params.UILocales
	if len(params.ACRValues) > lengths.ACRValues {
		return invalidRequest("acr_values too long")
	}
	req.ACRValues = utils.SplitScopes(params.ACRValues)

	if params.IDTokenHint != "" {
		res, err := v.tokens.ValidateIdentityToken(ctx, params.IDTokenHint, req.Client.ID, false)
		if err != nil {
			if _, ok := oauth2.AsError(err); ok {
				return invalidRequest("invalid id_token_hint")
			}
			return fmt.Errorf("[AuthorizeRequestValidator.validateOptionalParameters] %w", err)
		}
		req.IDTokenHintSubject = res.SubjectID()
	}
	return nil
}
