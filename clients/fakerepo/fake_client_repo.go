package fakeclientrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
)

var _ clients.Repo = (*FakeClientRepo)(nil)

// FakeClientRepo is an in-memory client store. Values are copied in and out so callers
// cannot mutate stored configuration.
type FakeClientRepo struct {
	clients map[string]clients.Client
	lock    sync.RWMutex
}

func NewFakeClientRepo(seed ...*clients.Client) *FakeClientRepo {
	r := &FakeClientRepo{
		clients: make(map[string]clients.Client),
	}
	for _, c := range seed {
		r.clients[c.ID] = *c
	}
	return r
}

func (r *FakeClientRepo) Upsert(_ context.Context, client *clients.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("[FakeClientRepo.Upsert] client id is required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clients[client.ID] = *client
	return nil
}

func (r *FakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *FakeClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &client, nil
}

func (r *FakeClientRepo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*clients.Client, 0, len(r.clients))
	for _, v := range r.clients {
		c := v
		list = append(list, &c)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})

	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}
