package resources

import (
	"sort"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

// ParsedScope is one requested scope token. Resource is set when the token was qualified
// as "resource:scope".
type ParsedScope struct {
	RawValue string `json:"raw"`
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
}

// ScopeError reports why a single requested scope was rejected.
type ScopeError struct {
	Scope  string
	Reason string
	// Target marks errors caused by a resource indicator rather than a scope.
	Target bool
}

func (e ScopeError) Error() string {
	return e.Scope + ": " + e.Reason
}

// ValidatedResources is the outcome of a successful scope validation.
type ValidatedResources struct {
	ParsedScopes      []ParsedScope
	IdentityResources []*IdentityResource
	APIScopes         []*APIScope
	APIResources      []*APIResource
	OfflineAccess     bool
}

// RawScopeValues returns the requested scope tokens in request order.
func (v *ValidatedResources) RawScopeValues() []string {
	if v == nil {
		return nil
	}
	out := make([]string, 0, len(v.ParsedScopes))
	for _, p := range v.ParsedScopes {
		out = append(out, p.RawValue)
	}
	return out
}

func (v *ValidatedResources) ScopeString() string {
	return strings.Join(v.RawScopeValues(), " ")
}

// ScopeNames returns the resolved scope names, qualifications removed.
func (v *ValidatedResources) ScopeNames() []string {
	if v == nil {
		return nil
	}
	out := make([]string, 0, len(v.ParsedScopes))
	for _, p := range v.ParsedScopes {
		out = append(out, p.Name)
	}
	return out
}

// Audiences returns the API resource names in stable (sorted) order.
func (v *ValidatedResources) Audiences() []string {
	if v == nil {
		return nil
	}
	out := make([]string, 0, len(v.APIResources))
	for _, r := range v.APIResources {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

func (v *ValidatedResources) HasOpenID() bool {
	if v == nil {
		return false
	}
	for _, ir := range v.IdentityResources {
		if ir.Name == oauth2.ScopeOpenID {
			return true
		}
	}
	return false
}

func (v *ValidatedResources) HasIdentityScopes() bool {
	return v != nil && len(v.IdentityResources) > 0
}

func (v *ValidatedResources) HasAPIScopes() bool {
	return v != nil && len(v.APIScopes) > 0
}

func (v *ValidatedResources) IsEmpty() bool {
	return v == nil || len(v.ParsedScopes) == 0
}

// UserClaimTypes lists the user claim types requested through identity resources.
func (v *ValidatedResources) UserClaimTypes() []string {
	if v == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, ir := range v.IdentityResources {
		for _, c := range ir.UserClaims {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	return out
}

// APIUserClaimTypes lists the user claim types requested through API scopes and resources.
func (v *ValidatedResources) APIUserClaimTypes() []string {
	if v == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(claims []string) {
		for _, c := range claims {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	for _, s := range v.APIScopes {
		add(s.UserClaims)
	}
	for _, r := range v.APIResources {
		add(r.UserClaims)
	}
	return out
}

// Filter keeps only the parsed scopes whose raw value is in keep. Resources that lose all
// of their scopes drop out of the audience.
func (v *ValidatedResources) Filter(keep []string) *ValidatedResources {
	if v == nil {
		return nil
	}
	allowed := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		allowed[k] = struct{}{}
	}
	out := &ValidatedResources{}
	names := make(map[string]struct{})
	for _, p := range v.ParsedScopes {
		if _, ok := allowed[p.RawValue]; !ok {
			continue
		}
		out.ParsedScopes = append(out.ParsedScopes, p)
		names[p.Name] = struct{}{}
		if p.Name == oauth2.ScopeOfflineAccess {
			out.OfflineAccess = true
		}
	}
	for _, ir := range v.IdentityResources {
		if _, ok := names[ir.Name]; ok {
			out.IdentityResources = append(out.IdentityResources, ir)
		}
	}
	for _, s := range v.APIScopes {
		if _, ok := names[s.Name]; ok {
			out.APIScopes = append(out.APIScopes, s)
		}
	}
	for _, r := range v.APIResources {
		for _, s := range out.APIScopes {
			if r.HasScope(s.Name) {
				out.APIResources = append(out.APIResources, r)
				break
			}
		}
	}
	return out
}

// ScopesForAPI returns the granted scope names that belong to the named API resource.
func (v *ValidatedResources) ScopesForAPI(api *APIResource) []string {
	if v == nil || api == nil {
		return nil
	}
	var out []string
	for _, s := range v.APIScopes {
		if api.HasScope(s.Name) {
			out = append(out, s.Name)
		}
	}
	return out
}
