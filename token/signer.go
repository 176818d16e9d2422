package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JOSE "typ" header values.
const (
	TypeJWT         = "JWT"
	TypeAccessToken = "at+jwt"
	TypeLogoutToken = "logout+jwt"
)

// sign creates a signed JWT from claims with the key pair's algorithm and key id.
func sign(kp *KeyPair, claims jwt.MapClaims, typ string) (string, error) {
	method, err := kp.SigningMethod()
	if err != nil {
		return "", err
	}
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = kp.KeyID
	t.Header["typ"] = typ

	signed, err := t.SignedString(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signed, nil
}
