package secrets

import "fmt"

// Registry holds named secret validators in registration order.
type Registry struct {
	names      []string
	validators map[string]SecretValidator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]SecretValidator)}
}

// DefaultRegistry registers the shared secret and X509 validators and, when a private key
// JWT validator is given, client assertions.
func DefaultRegistry(assertions *PrivateKeyJWTValidator) *Registry {
	r := NewRegistry()
	_ = r.Register("shared_secret", HashedSharedSecretValidator{})
	_ = r.Register("x509_thumbprint", X509ThumbprintValidator{})
	_ = r.Register("x509_name", X509NameValidator{})
	if assertions != nil {
		_ = r.Register("private_key_jwt", assertions)
	}
	return r
}

func (r *Registry) Register(name string, v SecretValidator) error {
	if v == nil {
		return fmt.Errorf("[Registry.Register] validator is required")
	}
	if _, exists := r.validators[name]; exists {
		return fmt.Errorf("[Registry.Register] validator %q already registered", name)
	}
	r.names = append(r.names, name)
	r.validators[name] = v
	return nil
}

func (r *Registry) Resolve(name string) (SecretValidator, bool) {
	v, ok := r.validators[name]
	return v, ok
}

// All returns the validators in registration order.
func (r *Registry) All() []SecretValidator {
	out := make([]SecretValidator, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.validators[n])
	}
	return out
}
