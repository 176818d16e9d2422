package auth

import (
	"crypto/subtle"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	xoauth2 "golang.org/x/oauth2"
)

// verifyCodeChallenge compares a PKCE verifier with the stored challenge in constant time.
func verifyCodeChallenge(verifier, challenge string, method oauth2.CodeMethodType) bool {
	var computed string
	switch method {
	case oauth2.CodeMethodTypeS256:
		computed = xoauth2.S256ChallengeFromVerifier(verifier)
	case oauth2.CodeMethodTypePlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// validPKCECharset reports whether s only uses the unreserved characters RFC 7636 allows.
func validPKCECharset(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return false
		}
	}
	return true
}
