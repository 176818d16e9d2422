package repofake

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-oidc-provider/resources"
)

var _ resources.Repo = (*FakeResourceRepo)(nil)

// FakeResourceRepo holds resource configuration in memory.
type FakeResourceRepo struct {
	identity map[string]resources.IdentityResource
	apis     map[string]resources.APIResource
	scopes   map[string]resources.APIScope
	lock     sync.RWMutex
}

func NewFakeResourceRepo() *FakeResourceRepo {
	return &FakeResourceRepo{
		identity: make(map[string]resources.IdentityResource),
		apis:     make(map[string]resources.APIResource),
		scopes:   make(map[string]resources.APIScope),
	}
}

func (r *FakeResourceRepo) AddIdentityResource(ir resources.IdentityResource) *FakeResourceRepo {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.identity[ir.Name] = ir
	return r
}

func (r *FakeResourceRepo) AddAPIResource(api resources.APIResource) *FakeResourceRepo {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apis[api.Name] = api
	return r
}

func (r *FakeResourceRepo) AddAPIScope(scope resources.APIScope) *FakeResourceRepo {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.scopes[scope.Name] = scope
	return r
}

func (r *FakeResourceRepo) FindIdentityResourcesByScopeName(_ context.Context, names []string) ([]*resources.IdentityResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*resources.IdentityResource, 0)
	for _, n := range names {
		if ir, ok := r.identity[n]; ok {
			out = append(out, &ir)
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) FindAPIScopesByName(_ context.Context, names []string) ([]*resources.APIScope, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*resources.APIScope, 0)
	for _, n := range names {
		if s, ok := r.scopes[n]; ok {
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) FindAPIResourcesByScopeName(_ context.Context, names []string) ([]*resources.APIResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*resources.APIResource, 0)
	for _, api := range r.apis {
		for _, n := range names {
			if api.HasScope(n) {
				a := api
				out = append(out, &a)
				break
			}
		}
	}
	sortAPIs(out)
	return out, nil
}

func (r *FakeResourceRepo) FindAPIResourcesByName(_ context.Context, names []string) ([]*resources.APIResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*resources.APIResource, 0)
	for _, n := range names {
		if api, ok := r.apis[n]; ok {
			out = append(out, &api)
		}
	}
	sortAPIs(out)
	return out, nil
}

func (r *FakeResourceRepo) GetAllResources(_ context.Context) (*resources.Resources, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	all := &resources.Resources{}
	for _, ir := range r.identity {
		v := ir
		all.IdentityResources = append(all.IdentityResources, &v)
	}
	for _, api := range r.apis {
		v := api
		all.APIResources = append(all.APIResources, &v)
	}
	for _, s := range r.scopes {
		v := s
		all.APIScopes = append(all.APIScopes, &v)
	}
	sort.Slice(all.IdentityResources, func(i, j int) bool { return all.IdentityResources[i].Name < all.IdentityResources[j].Name })
	sort.Slice(all.APIScopes, func(i, j int) bool { return all.APIScopes[i].Name < all.APIScopes[j].Name })
	sortAPIs(all.APIResources)
	return all, nil
}

func sortAPIs(apis []*resources.APIResource) {
	sort.Slice(apis, func(i, j int) bool { return apis[i].Name < apis[j].Name })
}
