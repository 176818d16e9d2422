package secrets

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

// Parser extracts one kind of client credential. found is false when the request does not
// carry that kind of credential at all.
type Parser interface {
	Method() string
	Parse(req Request) (creds *Credentials, found bool, err error)
}

// Parsers runs every registered parser. Exactly one may find credentials.
type Parsers struct {
	parsers []Parser
}

func NewParsers(parsers ...Parser) *Parsers {
	return &Parsers{parsers: parsers}
}

// DefaultParsers accepts client_secret_basic, client_secret_post, private_key_jwt,
// tls_client_auth and public clients.
func DefaultParsers() *Parsers {
	return NewParsers(BasicAuthParser{}, PostBodyParser{}, ClientAssertionParser{}, MutualTLSParser{}, PublicClientParser{})
}

// Methods lists the authentication methods of the registered parsers, used for discovery.
func (p *Parsers) Methods() []string {
	out := make([]string, 0, len(p.parsers))
	for _, parser := range p.parsers {
		out = append(out, parser.Method())
	}
	return out
}

// Parse returns nil credentials when no client identified itself.
func (p *Parsers) Parse(req Request) (*Credentials, error) {
	var found *Credentials
	for _, parser := range p.parsers {
		creds, ok, err := parser.Parse(req)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if found != nil {
			return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "multiple client authentication methods used")
		}
		found = creds
	}
	if found != nil && found.Certificate == nil {
		found.Certificate = req.certificate()
	}
	return found, nil
}

func invalidClientParam(description string) error {
	return oauth2.NewError(oauth2.ErrorInvalidClient, description)
}

func checkClientID(id string) error {
	if id == "" || len(id) > MaxClientIDLength {
		return invalidClientParam("invalid client_id")
	}
	return nil
}

// BasicAuthParser reads client_secret_basic credentials. Both parts are form encoded before
// base64 encoding.
type BasicAuthParser struct{}

func (BasicAuthParser) Method() string { return oauth2.AuthMethodClientSecretBasic }

func (BasicAuthParser) Parse(req Request) (*Credentials, bool, error) {
	scheme, value, ok := strings.Cut(req.Authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return nil, false, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, true, invalidClientParam("malformed basic authorization header")
	}
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, true, invalidClientParam("malformed basic authorization header")
	}
	id, err := url.QueryUnescape(rawID)
	if err != nil {
		return nil, true, invalidClientParam("malformed client_id")
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return nil, true, invalidClientParam("malformed client_secret")
	}
	if err := checkClientID(id); err != nil {
		return nil, true, err
	}
	if len(secret) > MaxSecretLength {
		return nil, true, invalidClientParam("client_secret too long")
	}
	if formID := req.Form.Get("client_id"); formID != "" && formID != id {
		return nil, true, oauth2.NewError(oauth2.ErrorInvalidRequest, "client_id does not match the authorization header")
	}
	return &Credentials{ClientID: id, Type: CredentialSharedSecret, Method: oauth2.AuthMethodClientSecretBasic, Secret: secret}, true, nil
}

// PostBodyParser reads client_secret_post credentials.
type PostBodyParser struct{}

func (PostBodyParser) Method() string { return oauth2.AuthMethodClientSecretPost }

func (PostBodyParser) Parse(req Request) (*Credentials, bool, error) {
	if !req.Form.Has("client_secret") {
		return nil, false, nil
	}
	secret := req.Form.Get("client_secret")
	id := req.Form.Get("client_id")
	if strings.HasPrefix(strings.ToLower(req.Authorization), "basic ") {
		// Reported as a conflict by the basic parser.
		return &Credentials{ClientID: id}, true, nil
	}
	if err := checkClientID(id); err != nil {
		return nil, true, err
	}
	if len(secret) > MaxSecretLength {
		return nil, true, invalidClientParam("client_secret too long")
	}
	return &Credentials{ClientID: id, Type: CredentialSharedSecret, Method: oauth2.AuthMethodClientSecretPost, Secret: secret}, true, nil
}

// ClientAssertionParser reads private_key_jwt assertions. The client id is taken from the
// form when present and is checked against the assertion's subject by the validator.
type ClientAssertionParser struct{}

func (ClientAssertionParser) Method() string { return oauth2.AuthMethodPrivateKeyJWT }

func (ClientAssertionParser) Parse(req Request) (*Credentials, bool, error) {
	assertionType := req.Form.Get("client_assertion_type")
	assertion := req.Form.Get("client_assertion")
	if assertionType == "" && assertion == "" {
		return nil, false, nil
	}
	if assertionType != oauth2.ClientAssertionTypeJWTBearer {
		return nil, true, invalidClientParam("unsupported client_assertion_type")
	}
	if assertion == "" || len(assertion) > MaxAssertionLength {
		return nil, true, invalidClientParam("invalid client_assertion")
	}
	id := req.Form.Get("client_id")
	if id == "" {
		sub, err := unverifiedSubject(assertion)
		if err != nil {
			return nil, true, invalidClientParam("invalid client_assertion")
		}
		id = sub
	}
	if err := checkClientID(id); err != nil {
		return nil, true, err
	}
	return &Credentials{ClientID: id, Type: CredentialJWTBearer, Method: oauth2.AuthMethodPrivateKeyJWT, Assertion: assertion}, true, nil
}

// MutualTLSParser identifies a client by its TLS certificate when no other credential is sent.
type MutualTLSParser struct{}

func (MutualTLSParser) Method() string { return oauth2.AuthMethodTLSClientAuth }

func (MutualTLSParser) Parse(req Request) (*Credentials, bool, error) {
	cert := req.certificate()
	if cert == nil || hasOtherCredential(req) {
		return nil, false, nil
	}
	id := req.Form.Get("client_id")
	if err := checkClientID(id); err != nil {
		return nil, true, err
	}
	return &Credentials{ClientID: id, Type: CredentialX509, Method: oauth2.AuthMethodTLSClientAuth, Certificate: cert}, true, nil
}

// PublicClientParser identifies clients that only send client_id.
type PublicClientParser struct{}

func (PublicClientParser) Method() string { return oauth2.AuthMethodNone }

func (PublicClientParser) Parse(req Request) (*Credentials, bool, error) {
	if req.certificate() != nil || hasOtherCredential(req) || !req.Form.Has("client_id") {
		return nil, false, nil
	}
	id := req.Form.Get("client_id")
	if err := checkClientID(id); err != nil {
		return nil, true, err
	}
	return &Credentials{ClientID: id, Type: CredentialNone, Method: oauth2.AuthMethodNone}, true, nil
}

func hasOtherCredential(req Request) bool {
	return req.Authorization != "" ||
		req.Form.Has("client_secret") ||
		req.Form.Has("client_assertion") ||
		req.Form.Has("client_assertion_type")
}
