package resources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ScopeRequest is the input to ParseAndValidate.
type ScopeRequest struct {
	Client             *clients.Client
	Scopes             []string
	ResourceIndicators []string
}

// ScopeValidator resolves requested scopes against configured resources and a client's
// allowed scopes.
type ScopeValidator struct {
	repo   Repo
	logger zerolog.Logger
}

type ScopeValidatorOption func(*ScopeValidator)

func WithLogger(l zerolog.Logger) ScopeValidatorOption {
	return func(v *ScopeValidator) {
		v.logger = l
	}
}

func NewScopeValidator(repo Repo, opts ...ScopeValidatorOption) (*ScopeValidator, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewScopeValidator] resource repo is required")
	}
	v := &ScopeValidator{repo: repo, logger: log.Logger}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ParseAndValidate resolves every requested scope or reports why it cannot be granted.
// The result is all or nothing: when any ScopeError is returned the resources are nil.
// The returned error is reserved for repository failures.
func (v *ScopeValidator) ParseAndValidate(ctx context.Context, req ScopeRequest) (*ValidatedResources, []ScopeError, error) {
	if req.Client == nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.ParseAndValidate] client is required")
	}

	var scopeErrs []ScopeError
	result := &ValidatedResources{}

	parsed := make([]ParsedScope, 0, len(req.Scopes))
	names := make([]string, 0, len(req.Scopes))
	seen := make(map[string]struct{})
	for _, raw := range req.Scopes {
		if _, dup := seen[raw]; dup || raw == "" {
			continue
		}
		seen[raw] = struct{}{}
		parsed = append(parsed, ParsedScope{RawValue: raw, Name: raw})
		names = append(names, raw)
	}

	identities, err := v.repo.FindIdentityResourcesByScopeName(ctx, names)
	if err != nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.ParseAndValidate] identity resources: %w", err)
	}
	apiScopes, err := v.repo.FindAPIScopesByName(ctx, names)
	if err != nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.ParseAndValidate] api scopes: %w", err)
	}
	identityByName := make(map[string]*IdentityResource, len(identities))
	for _, ir := range identities {
		identityByName[ir.Name] = ir
	}
	scopeByName := make(map[string]*APIScope, len(apiScopes))
	for _, s := range apiScopes {
		scopeByName[s.Name] = s
	}

	indicated, targetErrs, err := v.indicatedResources(ctx, req.ResourceIndicators)
	if err != nil {
		return nil, nil, err
	}
	scopeErrs = append(scopeErrs, targetErrs...)

	audience := make(map[string]*APIResource)
	for i := range parsed {
		p := &parsed[i]

		if p.RawValue == oauth2.ScopeOfflineAccess {
			if !req.Client.AllowOfflineAccess {
				scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "offline access is not allowed for this client"})
				continue
			}
			result.OfflineAccess = true
			continue
		}

		if ir, ok := identityByName[p.RawValue]; ok {
			switch {
			case !ir.Enabled:
				scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "scope is disabled"})
			case !req.Client.HasScope(ir.Name):
				scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "scope is not allowed for this client"})
			default:
				result.IdentityResources = append(result.IdentityResources, ir)
			}
			continue
		}

		scope, qualifiedResource, err := v.resolveAPIScope(ctx, p.RawValue, scopeByName)
		if err != nil {
			return nil, nil, err
		}
		if scope == nil {
			scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "unknown scope"})
			continue
		}
		if !scope.Enabled {
			scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "scope is disabled"})
			continue
		}
		if !req.Client.HasScope(scope.Name) {
			scopeErrs = append(scopeErrs, ScopeError{Scope: p.RawValue, Reason: "scope is not allowed for this client"})
			continue
		}
		p.Name = scope.Name
		result.APIScopes = append(result.APIScopes, scope)

		apis, err := v.audienceFor(ctx, scope.Name, qualifiedResource, indicated)
		if err != nil {
			return nil, nil, err
		}
		if qualifiedResource != nil {
			p.Resource = qualifiedResource.Name
		}
		for _, api := range apis {
			audience[api.Name] = api
		}
	}

	for name := range indicated {
		if _, ok := audience[name]; !ok {
			scopeErrs = append(scopeErrs, ScopeError{Scope: name, Reason: "no requested scope belongs to the indicated resource", Target: true})
		}
	}

	if len(scopeErrs) > 0 {
		v.logger.Debug().Str("client_id", req.Client.ID).Interface("errors", scopeErrs).Msg("scope validation failed")
		return nil, scopeErrs, nil
	}

	result.ParsedScopes = parsed
	for _, api := range audience {
		result.APIResources = append(result.APIResources, api)
	}
	sort.Slice(result.APIResources, func(i, j int) bool {
		return result.APIResources[i].Name < result.APIResources[j].Name
	})
	return result, nil, nil
}

// resolveAPIScope finds the scope by exact name first, then as a "resource:scope" qualification.
func (v *ScopeValidator) resolveAPIScope(ctx context.Context, raw string, byName map[string]*APIScope) (*APIScope, *APIResource, error) {
	if s, ok := byName[raw]; ok {
		return s, nil, nil
	}
	resourceName, scopeName, ok := strings.Cut(raw, ":")
	if !ok || resourceName == "" || scopeName == "" {
		return nil, nil, nil
	}
	apis, err := v.repo.FindAPIResourcesByName(ctx, []string{resourceName})
	if err != nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.resolveAPIScope] api resources: %w", err)
	}
	if len(apis) == 0 || !apis[0].Enabled || !apis[0].HasScope(scopeName) {
		return nil, nil, nil
	}
	scopes, err := v.repo.FindAPIScopesByName(ctx, []string{scopeName})
	if err != nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.resolveAPIScope] api scopes: %w", err)
	}
	if len(scopes) == 0 {
		return nil, nil, nil
	}
	return scopes[0], apis[0], nil
}

// audienceFor computes the smallest set of API resources a scope grants access to.
func (v *ScopeValidator) audienceFor(ctx context.Context, scope string, qualified *APIResource, indicated map[string]*APIResource) ([]*APIResource, error) {
	if qualified != nil {
		if len(indicated) > 0 {
			if _, ok := indicated[qualified.Name]; !ok {
				return nil, nil
			}
		}
		return []*APIResource{qualified}, nil
	}

	candidates, err := v.repo.FindAPIResourcesByScopeName(ctx, []string{scope})
	if err != nil {
		return nil, fmt.Errorf("[ScopeValidator.audienceFor] api resources: %w", err)
	}
	out := make([]*APIResource, 0, len(candidates))
	for _, api := range candidates {
		if !api.Enabled {
			continue
		}
		if len(indicated) > 0 {
			if _, ok := indicated[api.Name]; !ok {
				continue
			}
		} else if api.RequireResourceIndicator {
			continue
		}
		out = append(out, api)
	}
	return out, nil
}

func (v *ScopeValidator) indicatedResources(ctx context.Context, indicators []string) (map[string]*APIResource, []ScopeError, error) {
	if len(indicators) == 0 {
		return nil, nil, nil
	}
	apis, err := v.repo.FindAPIResourcesByName(ctx, indicators)
	if err != nil {
		return nil, nil, fmt.Errorf("[ScopeValidator.indicatedResources] api resources: %w", err)
	}
	found := make(map[string]*APIResource, len(apis))
	for _, api := range apis {
		if api.Enabled {
			found[api.Name] = api
		}
	}
	var errs []ScopeError
	for _, ind := range indicators {
		if _, ok := found[ind]; !ok {
			errs = append(errs, ScopeError{Scope: ind, Reason: "invalid resource indicator", Target: true})
		}
	}
	return found, errs, nil
}
