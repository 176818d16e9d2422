package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
)

// Signing algorithms supported for issued tokens.
const (
	RS256 = "RS256"
	RS384 = "RS384"
	RS512 = "RS512"
	ES256 = "ES256"
	ES384 = "ES384"
	ES512 = "ES512"
)

// SupportedAlgorithms is advertised in discovery and accepted on validation.
var SupportedAlgorithms = []string{RS256, RS384, RS512, ES256, ES384, ES512}

// KeyPair represents a public/private key pair for signing tokens
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Algorithm  string
}

// NewKeyPair wraps a private key. An empty algorithm is derived from the key type and an
// empty key id from the RFC 7638 thumbprint of the public key.
func NewKeyPair(priv crypto.Signer, algorithm, keyID string) (*KeyPair, error) {
	if algorithm == "" {
		alg, err := algorithmForKey(priv.Public())
		if err != nil {
			return nil, err
		}
		algorithm = alg
	}
	kp := &KeyPair{KeyID: keyID, PrivateKey: priv, PublicKey: priv.Public(), Algorithm: algorithm}
	if _, err := kp.SigningMethod(); err != nil {
		return nil, err
	}
	if kp.KeyID == "" {
		kid, err := Thumbprint(kp.PublicKey)
		if err != nil {
			return nil, err
		}
		kp.KeyID = kid
	}
	return kp, nil
}

// GenerateKeyPair creates a key suitable for algorithm.
func GenerateKeyPair(algorithm string) (*KeyPair, error) {
	var (
		priv crypto.Signer
		err  error
	)
	switch algorithm {
	case RS256:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	case RS384:
		priv, err = rsa.GenerateKey(rand.Reader, 3072)
	case RS512:
		priv, err = rsa.GenerateKey(rand.Reader, 4096)
	case ES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ES384:
		priv, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case ES512:
		priv, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("[GenerateKeyPair] unsupported algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("[GenerateKeyPair] failed to generate %s key: %w", algorithm, err)
	}
	return NewKeyPair(priv, algorithm, "")
}

// SigningMethod returns the JWT signing method for the key pair. An algorithm that does not
// fit the key type is an error, never a silent downgrade.
func (kp *KeyPair) SigningMethod() (jwt.SigningMethod, error) {
	method := jwt.GetSigningMethod(kp.Algorithm)
	switch pub := kp.PublicKey.(type) {
	case *rsa.PublicKey:
		if _, ok := method.(*jwt.SigningMethodRSA); ok {
			return method, nil
		}
	case *ecdsa.PublicKey:
		if m, ok := method.(*jwt.SigningMethodECDSA); ok && m.CurveBits == pub.Curve.Params().BitSize {
			return method, nil
		}
	}
	return nil, fmt.Errorf("[KeyPair.SigningMethod] %s with %T: %w", kp.Algorithm, kp.PublicKey, errors.ErrAlgKeyMismatch)
}

func algorithmForKey(pub crypto.PublicKey) (string, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return RS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return ES256, nil
		case elliptic.P384():
			return ES384, nil
		case elliptic.P521():
			return ES512, nil
		}
	}
	return "", fmt.Errorf("[algorithmForKey] unsupported key type %T: %w", pub, errors.ErrAlgKeyMismatch)
}

// Thumbprint returns the base64url SHA-256 JWK thumbprint of a public key.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	tp, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("[Thumbprint] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// JWK converts the key pair's public key to a JSON Web Key.
func (kp *KeyPair) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.PublicKey,
		KeyID:     kp.KeyID,
		Algorithm: kp.Algorithm,
		Use:       "sig",
	}
}

// ExportPrivateKeyPEM exports the private key as PKCS#8 PEM.
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ExportPublicKeyPEM exports the public key as PEM
func (kp *KeyPair) ExportPublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// LoadKeyPairFromPEM loads a PKCS#8, PKCS#1 or SEC 1 private key.
func LoadKeyPairFromPEM(pemData []byte, algorithm, keyID string) (*KeyPair, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("[LoadKeyPairFromPEM] failed to decode PEM block")
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("[LoadKeyPairFromPEM] failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("[LoadKeyPairFromPEM] unsupported key type %T", key)
	}
	return NewKeyPair(signer, algorithm, keyID)
}
