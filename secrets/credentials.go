package secrets

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
)

const (
	MaxClientIDLength  = 100
	MaxSecretLength    = 100
	MaxAssertionLength = 51200
)

// CredentialType describes the kind of credential a client presented.
type CredentialType string

const (
	CredentialNone         CredentialType = "none"
	CredentialSharedSecret CredentialType = "shared_secret"
	CredentialJWTBearer    CredentialType = "jwt_bearer"
	CredentialX509         CredentialType = "x509"
)

// Credentials are the parsed client credentials of a single request.
type Credentials struct {
	ClientID string
	Type     CredentialType
	// Method is the token_endpoint_auth_method the credentials were presented with.
	Method    string
	Secret    string
	Assertion string
	// Certificate is the TLS client certificate, if any. It is attached whatever the method
	// so tokens can be bound to it.
	Certificate *x509.Certificate
}

// Request is the raw credential material of an inbound request.
type Request struct {
	Authorization    string
	Form             url.Values
	PeerCertificates []*x509.Certificate
}

// FromHTTPRequest extracts the credential material of r. Only body parameters are considered.
func FromHTTPRequest(r *http.Request) (Request, error) {
	if err := r.ParseForm(); err != nil {
		return Request{}, fmt.Errorf("[secrets.FromHTTPRequest] %w", err)
	}
	req := Request{
		Authorization: r.Header.Get("Authorization"),
		Form:          r.PostForm,
	}
	if r.TLS != nil {
		req.PeerCertificates = r.TLS.PeerCertificates
	}
	return req, nil
}

func (r Request) certificate() *x509.Certificate {
	if len(r.PeerCertificates) == 0 {
		return nil
	}
	return r.PeerCertificates[0]
}
