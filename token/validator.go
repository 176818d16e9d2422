package token

import (
	"context"
	"crypto"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxJWTLength and MaxHandleLength bound presented tokens before any parsing.
	MaxJWTLength    = 51200
	MaxHandleLength = 100
)

// ValidationResult describes a valid token.
type ValidationResult struct {
	Claims jwt.MapClaims
	Client *clients.Client
	// Reference is set when the token was a reference token handle.
	Reference *grants.Token
	Raw       string
}

func (r *ValidationResult) SubjectID() string {
	sub, _ := r.Claims["sub"].(string)
	return sub
}

func (r *ValidationResult) Scopes() []string {
	return utils.ClaimStrings(r.Claims["scope"])
}

func (r *ValidationResult) Audiences() []string {
	return utils.ClaimStrings(r.Claims["aud"])
}

// HasScope reports whether the token carries scope, either plainly or qualified as
// "resource:scope" with a resource in the token audience.
func (r *ValidationResult) HasScope(scope string) bool {
	aud := r.Audiences()
	for _, s := range r.Scopes() {
		if s == scope {
			return true
		}
		if resource, name, ok := strings.Cut(s, ":"); ok && name == scope && utils.Contains(aud, resource) {
			return true
		}
	}
	return false
}

// Validator validates presented tokens.
type Validator struct {
	issuer  string
	keys    KeyProvider
	grants  *grants.Manager
	clients clients.Repo
	nowTime func() time.Time
	logger  zerolog.Logger
}

type ValidatorOption func(*Validator)

func WithValidatorNowTime(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.nowTime = now
	}
}

func WithValidatorLogger(l zerolog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = l
	}
}

func NewValidator(issuer string, keys KeyProvider, manager *grants.Manager, clientRepo clients.Repo, opts ...ValidatorOption) (*Validator, error) {
	if issuer == "" || keys == nil || manager == nil || clientRepo == nil {
		return nil, fmt.Errorf("[NewValidator] issuer, key provider, grant manager and client repo are required")
	}
	v := &Validator{issuer: issuer, keys: keys, grants: manager, clients: clientRepo, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func invalidToken(description string) error {
	return oauth2.NewError(oauth2.ErrorInvalidToken, description)
}

// ValidateAccessToken validates a JWT or reference access token. When expectedScope is set
// the token must carry it. Protocol failures are returned as *oauth2.Error.
func (v *Validator) ValidateAccessToken(ctx context.Context, raw, expectedScope string) (*ValidationResult, error) {
	var (
		res *ValidationResult
		err error
	)
	if strings.Count(raw, ".") == 2 {
		res, err = v.validateJWTAccessToken(ctx, raw)
	} else {
		res, err = v.validateReferenceToken(ctx, raw)
	}
	if err != nil {
		return nil, err
	}
	if expectedScope != "" && !res.HasScope(expectedScope) {
		return nil, oauth2.NewError(oauth2.ErrorInsufficientScope, "token does not carry the required scope")
	}
	return res, nil
}

func (v *Validator) validateJWTAccessToken(ctx context.Context, raw string) (*ValidationResult, error) {
	if len(raw) > MaxJWTLength {
		return nil, invalidToken("token too long")
	}
	claims, err := v.parseJWT(ctx, raw)
	if err != nil {
		v.logger.Debug().Err(err).Msg("jwt access token validation failed")
		return nil, invalidToken("invalid token")
	}
	clientID, _ := claims["client_id"].(string)
	client, err := v.enabledClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{Claims: claims, Client: client, Raw: raw}, nil
}

func (v *Validator) validateReferenceToken(ctx context.Context, handle string) (*ValidationResult, error) {
	if handle == "" || len(handle) > MaxHandleLength {
		return nil, invalidToken("invalid token")
	}
	t, err := v.grants.GetReferenceToken(ctx, handle)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, invalidToken("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("[Validator.validateReferenceToken] %w", err)
	}
	if !v.nowTime().Before(t.Expiration()) {
		return nil, invalidToken("token expired")
	}
	client, err := v.enabledClient(ctx, t.ClientID)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{Claims: Claims(t), Client: client, Reference: t, Raw: handle}, nil
}

// parseJWT verifies the signature against the validation key set. A token with a kid is
// checked against that key only; without one every published key is tried.
func (v *Validator) parseJWT(ctx context.Context, raw string) (jwt.MapClaims, error) {
	keys, err := v.keys.ValidationKeys(ctx)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(SupportedAlgorithms),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.nowTime),
	)

	var lastErr error
	for _, kp := range keys {
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if kid, ok := t.Header["kid"].(string); ok && kid != "" && kid != kp.KeyID {
				return nil, errKeyMismatch
			}
			return kp.PublicKey, nil
		})
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.ErrNoSigningKey
	}
	return nil, lastErr
}

var errKeyMismatch = fmt.Errorf("key id does not match")

// ValidateIdentityToken validates an identity token issued by this provider. clientID may be
// empty when the audience is not known up front (id_token_hint). validateLifetime false accepts
// expired tokens.
func (v *Validator) ValidateIdentityToken(ctx context.Context, raw, clientID string, validateLifetime bool) (*ValidationResult, error) {
	if raw == "" || len(raw) > MaxJWTLength {
		return nil, invalidToken("invalid identity token")
	}
	keys, err := v.keys.ValidationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Validator.ValidateIdentityToken] %w", err)
	}
	pubs := make([]crypto.PublicKey, 0, len(keys))
	for _, k := range keys {
		pubs = append(pubs, k.PublicKey)
	}
	verifier := oidc.NewVerifier(v.issuer, &oidc.StaticKeySet{PublicKeys: pubs}, &oidc.Config{
		ClientID:             clientID,
		SkipClientIDCheck:    clientID == "",
		SkipExpiryCheck:      !validateLifetime,
		SupportedSigningAlgs: SupportedAlgorithms,
		Now:                  v.nowTime,
	})
	idt, err := verifier.Verify(ctx, raw)
	if err != nil {
		v.logger.Debug().Err(err).Msg("identity token validation failed")
		return nil, invalidToken("invalid identity token")
	}
	claims := jwt.MapClaims{}
	if err := idt.Claims(&claims); err != nil {
		return nil, invalidToken("invalid identity token")
	}
	if parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{}); err != nil || parsed.Header["typ"] == TypeAccessToken {
		return nil, invalidToken("invalid identity token")
	}
	if clientID == "" {
		if len(idt.Audience) == 0 {
			return nil, invalidToken("identity token has no audience")
		}
		clientID = idt.Audience[0]
	}
	client, err := v.enabledClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{Claims: claims, Client: client, Raw: raw}, nil
}

// ValidateRefreshToken returns the live refresh token for client. Protocol failures are
// invalid_grant; reuse of a rotated token has already revoked the token family.
func (v *Validator) ValidateRefreshToken(ctx context.Context, handle string, client *clients.Client) (*grants.RefreshToken, error) {
	if handle == "" || len(handle) > MaxHandleLength {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid refresh token")
	}
	rt, err := v.grants.GetRefreshToken(ctx, handle)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid refresh token")
	case errors.Is(err, errors.ErrReuseDetected):
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "refresh token has already been used")
	case err != nil:
		return nil, fmt.Errorf("[Validator.ValidateRefreshToken] %w", err)
	}
	if rt.ClientID != client.ID {
		v.logger.Warn().Str("client_id", client.ID).Str("owner", rt.ClientID).Msg("refresh token presented by a different client")
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid refresh token")
	}
	return rt, nil
}

func (v *Validator) enabledClient(ctx context.Context, clientID string) (*clients.Client, error) {
	if clientID == "" {
		return nil, invalidToken("token has no client")
	}
	client, err := v.clients.Get(ctx, clientID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, invalidToken("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("[Validator.enabledClient] %w", err)
	}
	if !client.Enabled {
		return nil, invalidToken("client is disabled")
	}
	return client, nil
}
