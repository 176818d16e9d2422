package auth

import (
	"fmt"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

var builtinGrantTypes = []oauth2.GrantType{
	oauth2.AuthorizationCodeGrant,
	oauth2.ClientCredentialsGrant,
	oauth2.RefreshTokenGrant,
	oauth2.PasswordGrant,
	oauth2.DeviceCodeGrant,
}

// ExtensionGrantRegistry maps custom grant type strings to their validators.
type ExtensionGrantRegistry struct {
	validators map[string]oauthmodel.ExtensionGrantValidator
	order      []string
}

func NewExtensionGrantRegistry(validators ...oauthmodel.ExtensionGrantValidator) (*ExtensionGrantRegistry, error) {
	r := &ExtensionGrantRegistry{validators: make(map[string]oauthmodel.ExtensionGrantValidator)}
	for _, v := range validators {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *ExtensionGrantRegistry) Register(v oauthmodel.ExtensionGrantValidator) error {
	gt := v.GrantType()
	if gt == "" {
		return fmt.Errorf("[ExtensionGrantRegistry.Register] grant type is required")
	}
	for _, b := range builtinGrantTypes {
		if string(b) == gt {
			return fmt.Errorf("[ExtensionGrantRegistry.Register] %q is a built in grant type", gt)
		}
	}
	if _, exists := r.validators[gt]; exists {
		return fmt.Errorf("[ExtensionGrantRegistry.Register] %q already registered", gt)
	}
	r.validators[gt] = v
	r.order = append(r.order, gt)
	return nil
}

func (r *ExtensionGrantRegistry) Resolve(grantType string) (oauthmodel.ExtensionGrantValidator, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.validators[grantType]
	return v, ok
}

// GrantTypes lists the registered grant types in registration order.
func (r *ExtensionGrantRegistry) GrantTypes() []string {
	if r == nil {
		return nil
	}
	return append([]string{}, r.order...)
}
