package resources

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/clients"
)

// IdentityResource is a named bundle of user claim types requested through a scope, e.g. "profile".
type IdentityResource struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	UserClaims  []string `json:"userClaims,omitempty" yaml:"userClaims,omitempty"`
}

// APIScope is a scope that can be granted for one or more API resources.
type APIScope struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	UserClaims  []string `json:"userClaims,omitempty" yaml:"userClaims,omitempty"`
}

// APIResource is a named audience. Its secrets authenticate it at the introspection endpoint.
type APIResource struct {
	Name        string           `json:"name" yaml:"name"`
	DisplayName string           `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Scopes      []string         `json:"scopes" yaml:"scopes"`
	Secrets     []clients.Secret `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	UserClaims  []string         `json:"userClaims,omitempty" yaml:"userClaims,omitempty"`
	// RequireResourceIndicator keeps the resource out of the audience unless it was
	// explicitly requested with a resource indicator.
	RequireResourceIndicator bool `json:"requireResourceIndicator,omitempty" yaml:"requireResourceIndicator,omitempty"`
}

func (r *APIResource) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ResolveScope maps a granted scope token to one of the API's scope names. Both the plain
// name and the "resource:scope" form qualified with this API's name resolve.
func (r *APIResource) ResolveScope(raw string) (string, bool) {
	if r.HasScope(raw) {
		return raw, true
	}
	resourceName, scopeName, ok := strings.Cut(raw, ":")
	if ok && resourceName == r.Name && r.HasScope(scopeName) {
		return scopeName, true
	}
	return "", false
}

// Resources is the full configured resource set, used for discovery.
type Resources struct {
	IdentityResources []*IdentityResource
	APIResources      []*APIResource
	APIScopes         []*APIScope
}

// Repo looks up resource configuration. Unknown names are simply absent from the results.
type Repo interface {
	FindIdentityResourcesByScopeName(ctx context.Context, names []string) ([]*IdentityResource, error)
	FindAPIScopesByName(ctx context.Context, names []string) ([]*APIScope, error)
	FindAPIResourcesByScopeName(ctx context.Context, names []string) ([]*APIResource, error)
	FindAPIResourcesByName(ctx context.Context, names []string) ([]*APIResource, error)
	GetAllResources(ctx context.Context) (*Resources, error)
}
