package secrets

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

// Result is a successful secret validation. Confirmation is the JSON "cnf" claim value
// for proof-of-possession tokens, empty when the credential is not bindable.
type Result struct {
	Confirmation string
}

// SecretValidator checks presented credentials against a set of registered secrets. It returns
// errors.ErrInvalidCredentials when the credentials do not match (or it does not handle
// their type), and any other error for internal failures.
type SecretValidator interface {
	Validate(ctx context.Context, secrets []clients.Secret, creds *Credentials) (*Result, error)
}

var (
	_ SecretValidator = (*HashedSharedSecretValidator)(nil)
	_ SecretValidator = (*X509ThumbprintValidator)(nil)
	_ SecretValidator = (*X509NameValidator)(nil)
)

// HashSecret returns the stored form of a shared secret, base64(SHA-256(secret)).
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashedSharedSecretValidator compares a shared secret with SHA-256 or bcrypt hashes.
type HashedSharedSecretValidator struct{}

func (HashedSharedSecretValidator) Validate(_ context.Context, secrets []clients.Secret, creds *Credentials) (*Result, error) {
	if creds.Type != CredentialSharedSecret || creds.Secret == "" {
		return nil, errors.ErrInvalidCredentials
	}
	presented := HashSecret(creds.Secret)
	matched := false
	for _, s := range secrets {
		if s.Type != clients.SecretTypeSharedSecret {
			continue
		}
		if strings.HasPrefix(s.Value, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(s.Value), []byte(creds.Secret)) == nil {
				matched = true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.Value)) == 1 {
			matched = true
		}
	}
	if !matched {
		return nil, errors.ErrInvalidCredentials
	}
	return &Result{Confirmation: certificateConfirmation(creds.Certificate)}, nil
}

// CertificateThumbprint is the base64url SHA-256 thumbprint used in the "x5t#S256" claim.
func CertificateThumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func certificateConfirmation(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	b, err := json.Marshal(map[string]string{"x5t#S256": CertificateThumbprint(cert)})
	if err != nil {
		return ""
	}
	return string(b)
}

// X509ThumbprintValidator matches the client certificate against registered SHA-256
// thumbprints, hex or base64url encoded.
type X509ThumbprintValidator struct{}

func (X509ThumbprintValidator) Validate(_ context.Context, secrets []clients.Secret, creds *Credentials) (*Result, error) {
	if creds.Type != CredentialX509 || creds.Certificate == nil {
		return nil, errors.ErrInvalidCredentials
	}
	sum := sha256.Sum256(creds.Certificate.Raw)
	hexPrint := hex.EncodeToString(sum[:])
	b64Print := base64.RawURLEncoding.EncodeToString(sum[:])
	for _, s := range secrets {
		if s.Type != clients.SecretTypeX509Thumbprint {
			continue
		}
		v := strings.TrimSpace(s.Value)
		if strings.EqualFold(strings.ReplaceAll(v, ":", ""), hexPrint) || v == b64Print {
			return &Result{Confirmation: certificateConfirmation(creds.Certificate)}, nil
		}
	}
	return nil, errors.ErrInvalidCredentials
}

// X509NameValidator matches the client certificate subject distinguished name.
type X509NameValidator struct{}

func (X509NameValidator) Validate(_ context.Context, secrets []clients.Secret, creds *Credentials) (*Result, error) {
	if creds.Type != CredentialX509 || creds.Certificate == nil {
		return nil, errors.ErrInvalidCredentials
	}
	subject := creds.Certificate.Subject.String()
	for _, s := range secrets {
		if s.Type == clients.SecretTypeX509Name && s.Value == subject {
			return &Result{Confirmation: certificateConfirmation(creds.Certificate)}, nil
		}
	}
	return nil, errors.ErrInvalidCredentials
}
