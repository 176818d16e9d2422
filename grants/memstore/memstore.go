package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
)

var _ grants.Store = (*Store)(nil)

// Store is an in-memory grant store. A single mutex makes Take an atomic get-and-delete.
type Store struct {
	grants  map[string]grants.PersistedGrant
	lock    sync.RWMutex
	nowTime func() time.Time
}

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		grants:  make(map[string]grants.PersistedGrant),
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) (*grants.PersistedGrant, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	g, ok := s.grants[key]
	if !ok || g.Expired(s.nowTime()) {
		return nil, errors.ErrNotFound
	}
	return clone(g), nil
}

func (s *Store) Set(_ context.Context, grant *grants.PersistedGrant) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.grants[grant.Key] = *clone(*grant)
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.grants, key)
	return nil
}

func (s *Store) Take(_ context.Context, key string) (*grants.PersistedGrant, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	g, ok := s.grants[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	delete(s.grants, key)
	if g.Expired(s.nowTime()) {
		return nil, errors.ErrNotFound
	}
	return &g, nil
}

func (s *Store) GetAll(_ context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	now := s.nowTime()
	out := make([]*grants.PersistedGrant, 0)
	for _, g := range s.grants {
		if filter.Matches(&g) && !g.Expired(now) {
			out = append(out, clone(g))
		}
	}
	return out, nil
}

func (s *Store) RemoveAll(_ context.Context, filter grants.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for k, g := range s.grants {
		if filter.Matches(&g) {
			delete(s.grants, k)
			n++
		}
	}
	return n, nil
}

// RemoveExpired collects candidates under the read lock and deletes them under the write
// lock, skipping any that a concurrent caller already removed.
func (s *Store) RemoveExpired(_ context.Context, batchSize int) (int, error) {
	now := s.nowTime()
	s.lock.RLock()
	expired := make([]string, 0, batchSize)
	for k, g := range s.grants {
		if len(expired) >= batchSize {
			break
		}
		if g.Expired(now) {
			expired = append(expired, k)
		}
	}
	s.lock.RUnlock()

	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, k := range expired {
		if g, ok := s.grants[k]; ok && g.Expired(now) {
			delete(s.grants, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.grants)
}

func clone(g grants.PersistedGrant) *grants.PersistedGrant {
	if g.Data != nil {
		g.Data = append([]byte(nil), g.Data...)
	}
	return &g
}
