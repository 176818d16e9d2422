package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TokenRequestValidator validates token endpoint requests for every supported grant type.
type TokenRequestValidator struct {
	opts       Options
	grants     *grants.Manager
	tokens     *token.Validator
	scopes     *resources.ScopeValidator
	profile    oauthmodel.ProfileService
	passwords  oauthmodel.PasswordValidator
	extensions *ExtensionGrantRegistry
	events     *events.Service
	nowTime    func() time.Time
	logger     zerolog.Logger
}

type TokenOption func(*TokenRequestValidator)

// WithPasswordValidator enables the resource owner password grant.
func WithPasswordValidator(p oauthmodel.PasswordValidator) TokenOption {
	return func(v *TokenRequestValidator) {
		v.passwords = p
	}
}

func WithExtensionGrants(r *ExtensionGrantRegistry) TokenOption {
	return func(v *TokenRequestValidator) {
		v.extensions = r
	}
}

func WithTokenEvents(e *events.Service) TokenOption {
	return func(v *TokenRequestValidator) {
		v.events = e
	}
}

func WithTokenNowTime(now func() time.Time) TokenOption {
	return func(v *TokenRequestValidator) {
		v.nowTime = now
	}
}

func WithTokenLogger(l zerolog.Logger) TokenOption {
	return func(v *TokenRequestValidator) {
		v.logger = l
	}
}

func NewTokenRequestValidator(opts Options, manager *grants.Manager, tokens *token.Validator, scopes *resources.ScopeValidator, profile oauthmodel.ProfileService, options ...TokenOption) (*TokenRequestValidator, error) {
	if manager == nil {
		return nil, fmt.Errorf("[NewTokenRequestValidator] grant manager is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("[NewTokenRequestValidator] token validator is required")
	}
	if scopes == nil {
		return nil, fmt.Errorf("[NewTokenRequestValidator] scope validator is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("[NewTokenRequestValidator] profile service is required")
	}
	v := &TokenRequestValidator{
		opts:    opts.withDefaults(),
		grants:  manager,
		tokens:  tokens,
		scopes:  scopes,
		profile: profile,
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// GrantTypes lists every grant type the validator accepts, used for discovery.
func (v *TokenRequestValidator) GrantTypes() []string {
	out := []string{
		string(oauth2.AuthorizationCodeGrant),
		string(oauth2.ClientCredentialsGrant),
		string(oauth2.RefreshTokenGrant),
		string(oauth2.DeviceCodeGrant),
	}
	if v.passwords != nil {
		out = append(out, string(oauth2.PasswordGrant))
	}
	out = append(out, v.extensions.GrantTypes()...)
	return out
}

// Validate checks a token request from an authenticated client. Protocol failures are
// *oauth2.Error values; any other error is internal.
func (v *TokenRequestValidator) Validate(ctx context.Context, params oauthmodel.TokenParameters, client *secrets.ClientResult) (*oauthmodel.ValidatedTokenRequest, error) {
	if client == nil || client.Client == nil {
		return nil, fmt.Errorf("[TokenRequestValidator.Validate] client is required")
	}
	req := &oauthmodel.ValidatedTokenRequest{
		GrantType: oauth2.GrantType(params.GrantType),
		Raw:       params.Raw,
	}
	req.Client = client.Client
	req.Confirmation = client.Confirmation

	err := v.validate(ctx, req, params)
	if err != nil {
		v.fail(ctx, req, err)
		return nil, err
	}
	return req, nil
}

func (v *TokenRequestValidator) validate(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	gt := params.GrantType
	if gt == "" {
		return invalidRequest("grant_type is required")
	}
	if len(gt) > v.opts.InputLengths.GrantType {
		return invalidRequest("grant_type too long")
	}
	if err := checkResourceIndicators(params.Resource, v.opts.InputLengths.ResourceIndicator); err != nil {
		return err
	}

	var handler func(context.Context, *oauthmodel.ValidatedTokenRequest, oauthmodel.TokenParameters) error
	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		handler = v.validateAuthorizationCode
	case oauth2.ClientCredentialsGrant:
		handler = v.validateClientCredentials
	case oauth2.RefreshTokenGrant:
		handler = v.validateRefreshToken
	case oauth2.DeviceCodeGrant:
		handler = v.validateDeviceCode
	case oauth2.PasswordGrant:
		if v.passwords == nil {
			return oauth2.NewError(oauth2.ErrorUnsupportedGrantType, "unsupported grant_type")
		}
		handler = v.validatePassword
	default:
		ext, ok := v.extensions.Resolve(gt)
		if !ok {
			return oauth2.NewError(oauth2.ErrorUnsupportedGrantType, "unsupported grant_type")
		}
		handler = func(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
			return v.validateExtension(ctx, ext, req, params)
		}
	}

	if !req.Client.IsGrantTypeAllowed(req.GrantType) {
		return oauth2.NewError(oauth2.ErrorUnauthorizedClient, "grant_type not allowed for this client")
	}
	return handler(ctx, req, params)
}

// validateAuthorizationCode redeems the code first. Any later failure leaves it burned, so a
// code can never be probed twice.
func (v *TokenRequestValidator) validateAuthorizationCode(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	lengths := v.opts.InputLengths
	if params.Code == "" {
		return invalidRequest("code is required")
	}
	if len(params.Code) > lengths.AuthorizationCode {
		return invalidGrant("invalid authorization code")
	}
	code, err := v.grants.RedeemAuthorizationCode(ctx, params.Code)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return invalidGrant("invalid authorization code")
	case errors.Is(err, errors.ErrReplayDetected):
		return invalidGrant("authorization code has already been used")
	case err != nil:
		return fmt.Errorf("[TokenRequestValidator.validateAuthorizationCode] %w", err)
	}

	client := req.Client
	if code.ClientID != client.ID {
		v.logger.Warn().Str("client_id", client.ID).Str("owner", code.ClientID).Msg("authorization code presented by a different client")
		return invalidGrant("invalid authorization code")
	}
	if params.RedirectURI == "" || params.RedirectURI != code.RedirectURI {
		return invalidGrant("redirect_uri does not match")
	}
	if err := v.checkProofKey(client, code, params.CodeVerifier); err != nil {
		return err
	}
	if err := v.checkActive(ctx, code.SubjectID); err != nil {
		return err
	}

	indicators := code.RequestedResourceIndicators
	if len(params.Resource) > 0 {
		for _, r := range params.Resource {
			if !utils.Contains(code.RequestedResourceIndicators, r) {
				return oauth2.NewError(oauth2.ErrorInvalidTarget, "resource was not requested at authorization")
			}
		}
		indicators = params.Resource
	}
	res, err := resolveScopes(ctx, v.scopes, client, code.RequestedScopes, indicators)
	if err != nil {
		return err
	}

	req.AuthorizationCode = code
	req.AuthorizationCodeHandle = params.Code
	req.RequestedScopes = code.RequestedScopes
	req.Resources = res
	req.Subject = &oauthmodel.Subject{ID: code.SubjectID, SessionID: code.SessionID, AuthTime: code.AuthTime, AMR: code.AMR}
	return nil
}

func (v *TokenRequestValidator) checkProofKey(client *clients.Client, code *grants.AuthorizationCode, verifier string) error {
	lengths := v.opts.InputLengths
	if code.CodeChallenge == "" {
		if client.RequirePKCE {
			return invalidGrant("client requires PKCE")
		}
		if verifier != "" {
			return invalidGrant("unexpected code_verifier")
		}
		return nil
	}
	if verifier == "" {
		return invalidGrant("code_verifier is required")
	}
	if len(verifier) < lengths.CodeVerifierMinLen || len(verifier) > lengths.CodeVerifierMaxLen || !validPKCECharset(verifier) {
		return invalidGrant("invalid code_verifier")
	}
	if !verifyCodeChallenge(verifier, code.CodeChallenge, oauth2.CodeMethodType(code.CodeChallengeMethod)) {
		v.logger.Info().Str("client_id", client.ID).Msg("code_verifier does not match the code_challenge")
		return invalidGrant("invalid code_verifier")
	}
	return nil
}

func (v *TokenRequestValidator) validateClientCredentials(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	res, err := v.requestedResources(ctx, req.Client, params, true)
	if err != nil {
		return err
	}
	if res.HasIdentityScopes() {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "identity scopes are not allowed for client credentials")
	}
	if res.OfflineAccess {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "offline_access is not allowed for client credentials")
	}
	if !res.HasAPIScopes() {
		return oauth2.NewError(oauth2.ErrorInvalidScope, "no api scopes requested")
	}
	req.Resources = res
	req.RequestedScopes = res.RawScopeValues()
	return nil
}

// requestedResources validates the scope parameter. Without one, every scope the client is
// allowed is requested; apiOnly narrows that default to API scopes.
func (v *TokenRequestValidator) requestedResources(ctx context.Context, client *clients.Client, params oauthmodel.TokenParameters, apiOnly bool) (*resources.ValidatedResources, error) {
	if len(params.Scope) > v.opts.InputLengths.Scope {
		return nil, invalidRequest("scope too long")
	}
	scopes := utils.SplitScopes(params.Scope)
	explicit := len(scopes) > 0
	if !explicit {
		scopes = client.AllowedScopes
	}
	res, err := resolveScopes(ctx, v.scopes, client, scopes, params.Resource)
	if err != nil || explicit || !apiOnly {
		return res, err
	}
	keep := make([]string, 0, len(res.ParsedScopes))
	for _, p := range res.ParsedScopes {
		for _, s := range res.APIScopes {
			if s.Name == p.Name {
				keep = append(keep, p.RawValue)
				break
			}
		}
	}
	return res.Filter(keep), nil
}

func (v *TokenRequestValidator) validatePassword(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	lengths := v.opts.InputLengths
	if params.Username == "" {
		return invalidRequest("username is required")
	}
	if params.Password == "" {
		return invalidRequest("password is required")
	}
	if len(params.Username) > lengths.UserName || len(params.Password) > lengths.Password {
		return invalidGrant("invalid username or password")
	}
	res, err := v.requestedResources(ctx, req.Client, params, false)
	if err != nil {
		return err
	}

	sub, err := v.passwords.ValidateCredentials(ctx, params.Username, params.Password)
	if errors.Is(err, errors.ErrInvalidCredentials) || errors.Is(err, errors.ErrUserBlocked) {
		v.events.Raise(ctx, events.Failure, func() *events.Event {
			return &events.Event{Name: events.UserLoginFailure, ClientID: req.Client.ID, Message: "invalid resource owner credentials", Details: map[string]any{"username": params.Username}}
		})
		return invalidGrant("invalid username or password")
	}
	if err != nil {
		return fmt.Errorf("[TokenRequestValidator.validatePassword] %w", err)
	}
	if err := v.checkActive(ctx, sub); err != nil {
		return err
	}

	req.UserName = params.Username
	req.Resources = res
	req.RequestedScopes = res.RawScopeValues()
	req.Subject = &oauthmodel.Subject{ID: sub, AuthTime: v.nowTime().UTC(), AMR: []string{"pwd"}, IdP: "local"}
	return nil
}

func (v *TokenRequestValidator) validateRefreshToken(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	if params.RefreshToken == "" {
		return invalidRequest("refresh_token is required")
	}
	if len(params.RefreshToken) > v.opts.InputLengths.RefreshToken {
		return invalidGrant("invalid refresh token")
	}
	client := req.Client
	rt, err := v.tokens.ValidateRefreshToken(ctx, params.RefreshToken, client)
	if err != nil {
		return err
	}
	if err := v.checkActive(ctx, rt.SubjectID); err != nil {
		return err
	}

	scopes := rt.AuthorizedScopes
	if params.Scope != "" {
		requested := utils.SplitScopes(params.Scope)
		for _, s := range requested {
			if !utils.Contains(rt.AuthorizedScopes, s) {
				return oauth2.NewError(oauth2.ErrorInvalidScope, "scope exceeds the original grant")
			}
		}
		scopes = requested
	}
	indicators := rt.ResourceIndicators
	if len(params.Resource) > 0 {
		for _, r := range params.Resource {
			if !utils.Contains(rt.ResourceIndicators, r) {
				return oauth2.NewError(oauth2.ErrorInvalidTarget, "resource exceeds the original grant")
			}
		}
		indicators = params.Resource
	}
	res, err := resolveScopes(ctx, v.scopes, client, scopes, indicators)
	if err != nil {
		return err
	}

	if client.RefreshTokenUsage == clients.RefreshTokenOneTimeOnly {
		// Exactly one concurrent request gets to rotate the token.
		consumed, err := v.grants.ConsumeRefreshToken(ctx, params.RefreshToken)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			return invalidGrant("invalid refresh token")
		case errors.Is(err, errors.ErrReuseDetected):
			return invalidGrant("refresh token has already been used")
		case err != nil:
			return fmt.Errorf("[TokenRequestValidator.validateRefreshToken] %w", err)
		}
		rt = consumed
	}

	req.RefreshToken = rt
	req.RefreshTokenHandle = params.RefreshToken
	req.Resources = res
	req.RequestedScopes = res.RawScopeValues()
	if rt.SubjectID != "" {
		req.Subject = &oauthmodel.Subject{ID: rt.SubjectID, SessionID: rt.SessionID, AuthTime: rt.AccessToken.AuthTime, AMR: rt.AccessToken.AMR}
	}
	return nil
}

func (v *TokenRequestValidator) validateDeviceCode(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	if params.DeviceCode == "" {
		return invalidRequest("device_code is required")
	}
	if len(params.DeviceCode) > v.opts.InputLengths.DeviceCode {
		return invalidGrant("invalid device code")
	}
	client := req.Client
	dc, err := v.grants.FindDeviceCodeByDeviceCode(ctx, params.DeviceCode)
	if errors.Is(err, errors.ErrNotFound) {
		return invalidGrant("invalid device code")
	}
	if err != nil {
		return fmt.Errorf("[TokenRequestValidator.validateDeviceCode] %w", err)
	}
	if dc.ClientID != client.ID {
		return invalidGrant("invalid device code")
	}
	if dc.IsExpired(v.nowTime()) {
		return oauth2.NewError(oauth2.ErrorExpiredToken, "the device code has expired")
	}
	tooFast, err := v.grants.RecordDevicePoll(ctx, params.DeviceCode, dc.Interval)
	if err != nil {
		return fmt.Errorf("[TokenRequestValidator.validateDeviceCode] %w", err)
	}
	if tooFast {
		return oauth2.NewError(oauth2.ErrorSlowDown, "polling too frequently")
	}
	switch dc.State {
	case grants.DeviceCodePending:
		return oauth2.NewError(oauth2.ErrorAuthorizationPending, "authorization pending")
	case grants.DeviceCodeDenied:
		return oauth2.NewError(oauth2.ErrorAccessDenied, "the user denied the request")
	}

	redeemed, err := v.grants.RedeemDeviceCode(ctx, params.DeviceCode)
	if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrInvalidState) {
		return invalidGrant("invalid device code")
	}
	if err != nil {
		return fmt.Errorf("[TokenRequestValidator.validateDeviceCode] %w", err)
	}
	if err := v.checkActive(ctx, redeemed.SubjectID); err != nil {
		return err
	}
	scopes := redeemed.AuthorizedScopes
	if len(scopes) == 0 {
		scopes = redeemed.RequestedScopes
	}
	res, err := resolveScopes(ctx, v.scopes, client, scopes, redeemed.ResourceIndicators)
	if err != nil {
		return err
	}

	req.DeviceCode = redeemed
	req.Resources = res
	req.RequestedScopes = res.RawScopeValues()
	req.Subject = &oauthmodel.Subject{ID: redeemed.SubjectID, SessionID: redeemed.SessionID, AuthTime: redeemed.AuthTime, AMR: redeemed.AMR}
	return nil
}

func (v *TokenRequestValidator) validateExtension(ctx context.Context, ext oauthmodel.ExtensionGrantValidator, req *oauthmodel.ValidatedTokenRequest, params oauthmodel.TokenParameters) error {
	result, err := ext.Validate(ctx, &oauthmodel.ExtensionGrantRequest{Client: req.Client, Raw: params.Raw})
	if err != nil {
		if _, ok := oauth2.AsError(err); ok {
			return err
		}
		return fmt.Errorf("[TokenRequestValidator.validateExtension] %s: %w", ext.GrantType(), err)
	}
	if result == nil {
		return invalidGrant("grant validation failed")
	}
	res, err := v.requestedResources(ctx, req.Client, params, false)
	if err != nil {
		return err
	}
	if result.SubjectID != "" {
		if err := v.checkActive(ctx, result.SubjectID); err != nil {
			return err
		}
		req.Subject = &oauthmodel.Subject{ID: result.SubjectID, AuthTime: v.nowTime().UTC(), AMR: result.AMR}
	}
	req.Resources = res
	req.RequestedScopes = res.RawScopeValues()
	req.CustomResponse = result.CustomResponse
	return nil
}

func (v *TokenRequestValidator) checkActive(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return nil
	}
	active, err := v.profile.IsActive(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("[TokenRequestValidator.checkActive] %w", err)
	}
	if !active {
		return invalidGrant("user is not active")
	}
	return nil
}

func (v *TokenRequestValidator) fail(ctx context.Context, req *oauthmodel.ValidatedTokenRequest, err error) {
	pe, ok := oauth2.AsError(err)
	if !ok {
		v.logger.Err(err).Str("client_id", req.Client.ID).Str("grant_type", string(req.GrantType)).Msg("token request failed")
		return
	}
	switch pe.Code {
	case oauth2.ErrorAuthorizationPending, oauth2.ErrorSlowDown:
		return
	}
	v.logger.Info().Str("client_id", req.Client.ID).Str("grant_type", string(req.GrantType)).Str("error", string(pe.Code)).Msg(pe.Description)
	v.events.Raise(ctx, events.Failure, func() *events.Event {
		return &events.Event{Name: events.TokenIssuedFailure, ClientID: req.Client.ID, GrantType: string(req.GrantType), Message: pe.Error()}
	})
}
