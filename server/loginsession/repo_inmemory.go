package loginsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

type record struct {
	session   oauthmodel.Session
	expiresAt time.Time
}

// InMemoryLoginSessionRepo is an in-memory implementation of Repo
type InMemoryLoginSessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]record
	nowTime  func() time.Time
}

func NewInMemoryLoginSessionRepo(now func() time.Time) *InMemoryLoginSessionRepo {
	if now == nil {
		now = time.Now
	}
	return &InMemoryLoginSessionRepo{sessions: make(map[string]record), nowTime: now}
}

// Upsert creates or updates a login session
func (r *InMemoryLoginSessionRepo) Upsert(_ context.Context, cookieID string, session *oauthmodel.Session, ttl time.Duration) error {
	if cookieID == "" {
		return fmt.Errorf("[InMemoryLoginSessionRepo.Upsert] cookie id is required")
	}
	if session == nil {
		return fmt.Errorf("[InMemoryLoginSessionRepo.Upsert] session is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := *session
	s.ClientIDs = append([]string(nil), session.ClientIDs...)
	r.sessions[cookieID] = record{session: s, expiresAt: r.nowTime().Add(ttl)}
	return nil
}

func (r *InMemoryLoginSessionRepo) Get(_ context.Context, cookieID string) (*oauthmodel.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[cookieID]
	if !ok || r.nowTime().After(rec.expiresAt) {
		return nil, errors.ErrNotFound
	}
	s := rec.session
	s.ClientIDs = append([]string(nil), rec.session.ClientIDs...)
	return &s, nil
}

// Delete removes a login session
func (r *InMemoryLoginSessionRepo) Delete(_ context.Context, cookieID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cookieID)
	return nil
}
