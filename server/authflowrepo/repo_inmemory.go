package authflowrepo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
)

type entry struct {
	state     AuthFlowState
	expiresAt time.Time
}

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.RWMutex
	states  map[string]entry
	ttl     time.Duration
	nowTime func() time.Time
}

type Option func(*InMemoryRepo)

func WithTTL(ttl time.Duration) Option {
	return func(r *InMemoryRepo) {
		r.ttl = ttl
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(r *InMemoryRepo) {
		r.nowTime = now
	}
}

func NewInMemoryRepo(opts ...Option) *InMemoryRepo {
	r := &InMemoryRepo{
		states:  make(map[string]entry),
		ttl:     DefaultTTL,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write stores a copy of state under a new random id. Expired entries are pruned on write.
func (r *InMemoryRepo) Write(_ context.Context, state *AuthFlowState) (string, error) {
	if state == nil {
		return "", fmt.Errorf("[InMemoryRepo.Write] state is required")
	}
	id := uuid.NewString()
	now := r.nowTime()

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.states {
		if now.After(e.expiresAt) {
			delete(r.states, k)
		}
	}
	s := *state
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	r.states[id] = entry{state: s, expiresAt: now.Add(r.ttl)}
	return id, nil
}

func (r *InMemoryRepo) Read(_ context.Context, id string) (*AuthFlowState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.states[id]
	if !ok || r.nowTime().After(e.expiresAt) {
		return nil, errors.ErrNotFound
	}
	s := e.state
	return &s, nil
}

func (r *InMemoryRepo) Clear(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
	return nil
}
