package secrets

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ SecretValidator = (*PrivateKeyJWTValidator)(nil)

var assertionAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// ReplayCache remembers assertion ids until they expire. Add reports false when the id was
// already seen.
type ReplayCache interface {
	Add(ctx context.Context, id string, until time.Time) (bool, error)
}

// PrivateKeyJWTValidator validates client assertions signed with a key registered as a JWK secret.
type PrivateKeyJWTValidator struct {
	audiences []string
	replay    ReplayCache
	nowTime   func() time.Time
	logger    zerolog.Logger
}

type PrivateKeyJWTOption func(*PrivateKeyJWTValidator)

func WithReplayCache(c ReplayCache) PrivateKeyJWTOption {
	return func(v *PrivateKeyJWTValidator) {
		v.replay = c
	}
}

func WithAssertionNowTime(now func() time.Time) PrivateKeyJWTOption {
	return func(v *PrivateKeyJWTValidator) {
		v.nowTime = now
	}
}

func WithAssertionLogger(l zerolog.Logger) PrivateKeyJWTOption {
	return func(v *PrivateKeyJWTValidator) {
		v.logger = l
	}
}

// NewPrivateKeyJWTValidator accepts assertions addressed to any of audiences, normally the
// issuer and the token endpoint URL.
func NewPrivateKeyJWTValidator(audiences []string, opts ...PrivateKeyJWTOption) (*PrivateKeyJWTValidator, error) {
	if len(audiences) == 0 {
		return nil, fmt.Errorf("[NewPrivateKeyJWTValidator] at least one audience is required")
	}
	v := &PrivateKeyJWTValidator{audiences: audiences, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *PrivateKeyJWTValidator) Validate(ctx context.Context, secrets []clients.Secret, creds *Credentials) (*Result, error) {
	if creds.Type != CredentialJWTBearer || creds.Assertion == "" {
		return nil, errors.ErrInvalidCredentials
	}
	keys := jsonWebKeys(secrets)
	if len(keys) == 0 {
		return nil, errors.ErrInvalidCredentials
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(assertionAlgorithms),
		jwt.WithIssuer(creds.ClientID),
		jwt.WithSubject(creds.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.nowTime),
	)
	var claims jwt.RegisteredClaims
	var lastErr error
	for _, key := range keys {
		claims = jwt.RegisteredClaims{}
		_, lastErr = parser.ParseWithClaims(creds.Assertion, &claims, func(t *jwt.Token) (any, error) {
			if kid, ok := t.Header["kid"].(string); ok && key.KeyID != "" && kid != key.KeyID {
				return nil, errKeyMismatch
			}
			return key.Key, nil
		})
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		v.logger.Debug().Err(lastErr).Str("client_id", creds.ClientID).Msg("client assertion rejected")
		return nil, errors.ErrInvalidCredentials
	}
	if !slices.ContainsFunc(v.audiences, func(a string) bool { return slices.Contains(claims.Audience, a) }) {
		v.logger.Debug().Str("client_id", creds.ClientID).Strs("aud", claims.Audience).Msg("client assertion audience mismatch")
		return nil, errors.ErrInvalidCredentials
	}
	if claims.ID == "" {
		return nil, errors.ErrInvalidCredentials
	}
	if v.replay != nil {
		fresh, err := v.replay.Add(ctx, creds.ClientID+"|"+claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return nil, fmt.Errorf("[PrivateKeyJWTValidator.Validate] replay cache: %w", err)
		}
		if !fresh {
			v.logger.Warn().Str("client_id", creds.ClientID).Str("jti", claims.ID).Msg("client assertion replay detected")
			return nil, errors.ErrInvalidCredentials
		}
	}
	return &Result{Confirmation: certificateConfirmation(creds.Certificate)}, nil
}

var errKeyMismatch = fmt.Errorf("key id does not match")

type verificationKey struct {
	KeyID string
	Key   crypto.PublicKey
}

// jsonWebKeys decodes the public JWK secrets. Malformed entries are skipped.
func jsonWebKeys(secrets []clients.Secret) []verificationKey {
	var out []verificationKey
	for _, s := range secrets {
		if s.Type != clients.SecretTypeJSONWebKey {
			continue
		}
		var jwk jose.JSONWebKey
		if err := json.Unmarshal([]byte(s.Value), &jwk); err != nil || !jwk.Valid() {
			continue
		}
		pub := jwk.Public()
		if pub.Key == nil {
			continue
		}
		out = append(out, verificationKey{KeyID: jwk.KeyID, Key: pub.Key})
	}
	return out
}

// unverifiedSubject reads the "sub" of an assertion without verifying it, used only to find
// the client whose keys verify it.
func unverifiedSubject(assertion string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("assertion has no subject")
	}
	return claims.Subject, nil
}
