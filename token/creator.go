package token

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CreationRequest is the input of identity and access token creation.
type CreationRequest struct {
	// Subject is nil for client-only tokens (client credentials).
	Subject   *oauthmodel.Subject
	Client    *clients.Client
	Resources *resources.ValidatedResources
	Nonce     string
	// Confirmation is the JSON "cnf" claim established at client authentication.
	Confirmation string
	// AccessTokenToHash and AuthorizationCodeToHash produce at_hash and c_hash.
	AccessTokenToHash       string
	AuthorizationCodeToHash string
	// IncludeAllIdentityClaims puts the user claims into the identity token, used when no
	// access token is issued alongside it.
	IncludeAllIdentityClaims bool
}

// Creator builds identity and access tokens and serialises them.
type Creator struct {
	issuer  string
	keys    KeyProvider
	grants  *grants.Manager
	profile oauthmodel.ProfileService
	nowTime func() time.Time
	logger  zerolog.Logger
}

type CreatorOption func(*Creator)

func WithProfileService(p oauthmodel.ProfileService) CreatorOption {
	return func(c *Creator) {
		c.profile = p
	}
}

func WithCreatorNowTime(now func() time.Time) CreatorOption {
	return func(c *Creator) {
		c.nowTime = now
	}
}

func WithCreatorLogger(l zerolog.Logger) CreatorOption {
	return func(c *Creator) {
		c.logger = l
	}
}

func NewCreator(issuer string, keys KeyProvider, manager *grants.Manager, opts ...CreatorOption) (*Creator, error) {
	if issuer == "" {
		return nil, fmt.Errorf("[NewCreator] issuer is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("[NewCreator] key provider is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("[NewCreator] grant manager is required")
	}
	c := &Creator{issuer: issuer, keys: keys, grants: manager, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Creator) now() time.Time {
	return c.nowTime().UTC()
}

// CreateIdentityToken assembles the identity token model for the client.
func (c *Creator) CreateIdentityToken(ctx context.Context, req *CreationRequest) (*grants.Token, error) {
	if !req.Subject.IsAuthenticated() {
		return nil, fmt.Errorf("[Creator.CreateIdentityToken] subject is required")
	}
	kp, err := c.keys.ActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Creator.CreateIdentityToken] %w", err)
	}

	claims := map[string]any{}
	if req.AccessTokenToHash != "" {
		claims["at_hash"] = LeftHalfHash(req.AccessTokenToHash, kp.Algorithm)
	}
	if req.AuthorizationCodeToHash != "" {
		claims["c_hash"] = LeftHalfHash(req.AuthorizationCodeToHash, kp.Algorithm)
	}

	claimTypes := []string{}
	if req.IncludeAllIdentityClaims || req.Client.AlwaysIncludeUserClaimsInIDToken {
		claimTypes = req.Resources.UserClaimTypes()
	}
	if err := c.addUserClaims(ctx, req.Subject.ID, claimTypes, claims); err != nil {
		return nil, err
	}

	return &grants.Token{
		Type:         grants.TokenTypeIdentityToken,
		Issuer:       c.issuer,
		ClientID:     req.Client.ID,
		SubjectID:    req.Subject.ID,
		SessionID:    req.Subject.SessionID,
		Audiences:    []string{req.Client.ID},
		CreationTime: c.now(),
		Lifetime:     req.Client.IdentityTokenLifetime,
		Nonce:        req.Nonce,
		AuthTime:     req.Subject.AuthTime,
		AMR:          req.Subject.AMR,
		Claims:       claims,
	}, nil
}

// CreateAccessToken assembles the access token model. The audience is the set of API
// resources of the validated scopes.
func (c *Creator) CreateAccessToken(ctx context.Context, req *CreationRequest) (*grants.Token, error) {
	t := &grants.Token{
		Type:            grants.TokenTypeAccessToken,
		Issuer:          c.issuer,
		ClientID:        req.Client.ID,
		Audiences:       req.Resources.Audiences(),
		CreationTime:    c.now(),
		Lifetime:        req.Client.AccessTokenLifetime,
		AccessTokenType: req.Client.AccessTokenType,
		Scopes:          req.Resources.RawScopeValues(),
		Confirmation:    req.Confirmation,
		JTI:             uuid.NewString(),
	}
	if req.Subject.IsAuthenticated() {
		t.SubjectID = req.Subject.ID
		t.SessionID = req.Subject.SessionID
		t.AuthTime = req.Subject.AuthTime
		t.AMR = req.Subject.AMR
		claims := map[string]any{}
		if err := c.addUserClaims(ctx, req.Subject.ID, req.Resources.APIUserClaimTypes(), claims); err != nil {
			return nil, err
		}
		if len(claims) > 0 {
			t.Claims = claims
		}
	}
	return t, nil
}

// CreateSecurityToken serialises a token. Reference access tokens are persisted and their
// handle returned; everything else becomes a signed JWT.
func (c *Creator) CreateSecurityToken(ctx context.Context, t *grants.Token) (string, error) {
	if t.Type == grants.TokenTypeAccessToken && t.AccessTokenType == clients.AccessTokenTypeReference {
		handle, err := c.grants.StoreReferenceToken(ctx, t)
		if err != nil {
			return "", fmt.Errorf("[Creator.CreateSecurityToken] %w", err)
		}
		return handle, nil
	}

	kp, err := c.keys.ActiveKey(ctx)
	if err != nil {
		return "", fmt.Errorf("[Creator.CreateSecurityToken] %w", err)
	}
	typ := TypeJWT
	if t.Type == grants.TokenTypeAccessToken {
		typ = TypeAccessToken
	}
	signed, err := sign(kp, Claims(t), typ)
	if err != nil {
		return "", fmt.Errorf("[Creator.CreateSecurityToken] %w", err)
	}
	return signed, nil
}

// CreateLogoutToken creates a back-channel logout token for client.
func (c *Creator) CreateLogoutToken(ctx context.Context, client *clients.Client, subjectID, sessionID string) (string, error) {
	kp, err := c.keys.ActiveKey(ctx)
	if err != nil {
		return "", fmt.Errorf("[Creator.CreateLogoutToken] %w", err)
	}
	now := c.now()
	claims := jwt.MapClaims{
		"iss":    c.issuer,
		"aud":    client.ID,
		"iat":    now.Unix(),
		"exp":    now.Add(5 * time.Minute).Unix(),
		"jti":    uuid.NewString(),
		"events": map[string]any{"http://schemas.openid.net/event/backchannel-logout": map[string]any{}},
	}
	if subjectID != "" {
		claims["sub"] = subjectID
	}
	if sessionID != "" {
		claims["sid"] = sessionID
	}
	signed, err := sign(kp, claims, TypeLogoutToken)
	if err != nil {
		return "", fmt.Errorf("[Creator.CreateLogoutToken] %w", err)
	}
	return signed, nil
}

func (c *Creator) addUserClaims(ctx context.Context, subjectID string, claimTypes []string, into map[string]any) error {
	if c.profile == nil || len(claimTypes) == 0 {
		return nil
	}
	userClaims, err := c.profile.GetClaims(ctx, subjectID, claimTypes)
	if err != nil {
		return fmt.Errorf("[Creator.addUserClaims] %w", err)
	}
	for _, cl := range userClaims {
		if _, protocol := protocolClaims[cl.Type]; protocol {
			continue
		}
		into[cl.Type] = cl.Value
	}
	return nil
}

// protocolClaims cannot be overridden by user claims.
var protocolClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "jti": {},
	"client_id": {}, "scope": {}, "nonce": {}, "auth_time": {}, "amr": {}, "sid": {},
	"cnf": {}, "at_hash": {}, "c_hash": {},
}

// Claims converts a token model into its JWT claim set. aud is a single string for one
// audience and an array for several; scope follows the same rule.
func Claims(t *grants.Token) jwt.MapClaims {
	claims := jwt.MapClaims{}
	for k, v := range t.Claims {
		claims[k] = v
	}
	claims["iss"] = t.Issuer
	claims["iat"] = t.CreationTime.Unix()
	claims["exp"] = t.Expiration().Unix()
	if t.SubjectID != "" {
		claims["sub"] = t.SubjectID
	}
	if !t.AuthTime.IsZero() {
		claims["auth_time"] = t.AuthTime.Unix()
	}
	if len(t.AMR) > 0 {
		claims["amr"] = t.AMR
	}
	if t.SessionID != "" {
		claims["sid"] = t.SessionID
	}

	switch len(t.Audiences) {
	case 0:
	case 1:
		claims["aud"] = t.Audiences[0]
	default:
		claims["aud"] = t.Audiences
	}

	if t.Type == grants.TokenTypeIdentityToken {
		if t.Nonce != "" {
			claims["nonce"] = t.Nonce
		}
		return claims
	}

	claims["nbf"] = t.CreationTime.Unix()
	claims["client_id"] = t.ClientID
	if t.JTI != "" {
		claims["jti"] = t.JTI
	}
	if len(t.Scopes) > 0 {
		if len(t.Audiences) > 1 {
			claims["scope"] = t.Scopes
		} else {
			claims["scope"] = strings.Join(t.Scopes, " ")
		}
	}
	if t.Confirmation != "" {
		var cnf map[string]any
		if err := json.Unmarshal([]byte(t.Confirmation), &cnf); err == nil {
			claims["cnf"] = cnf
		}
	}
	return claims
}

// LeftHalfHash computes at_hash / c_hash: the left half of the hash of value, using the hash
// size of the signing algorithm.
func LeftHalfHash(value, algorithm string) string {
	var sum []byte
	switch algorithm {
	case RS384, ES384:
		h := sha512.Sum384([]byte(value))
		sum = h[:]
	case RS512, ES512:
		h := sha512.Sum512([]byte(value))
		sum = h[:]
	default:
		h := sha256.Sum256([]byte(value))
		sum = h[:]
	}
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
