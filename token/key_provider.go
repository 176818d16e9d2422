package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
)

// KeyProvider exposes the signing key and the keys tokens may be validated with.
type KeyProvider interface {
	ActiveKey(ctx context.Context) (*KeyPair, error)
	// ValidationKeys includes the active key and any rotated keys not yet retired.
	ValidationKeys(ctx context.Context) ([]*KeyPair, error)
}

var _ KeyProvider = (*InMemoryKeyProvider)(nil)

// InMemoryKeyProvider holds keys in memory. Rotation publishes a new active key while the
// previous keys stay valid for validation until retired.
type InMemoryKeyProvider struct {
	lock   sync.RWMutex
	active *KeyPair
	keys   []*KeyPair
}

func NewInMemoryKeyProvider(active *KeyPair, previous ...*KeyPair) (*InMemoryKeyProvider, error) {
	if active == nil {
		return nil, fmt.Errorf("[NewInMemoryKeyProvider] active key is required")
	}
	p := &InMemoryKeyProvider{active: active, keys: []*KeyPair{active}}
	for _, k := range previous {
		if k != nil && k.KeyID != active.KeyID {
			p.keys = append(p.keys, k)
		}
	}
	return p, nil
}

func (p *InMemoryKeyProvider) ActiveKey(_ context.Context) (*KeyPair, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if p.active == nil {
		return nil, errors.ErrNoSigningKey
	}
	return p.active, nil
}

func (p *InMemoryKeyProvider) ValidationKeys(_ context.Context) ([]*KeyPair, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	out := make([]*KeyPair, len(p.keys))
	copy(out, p.keys)
	return out, nil
}

// Rotate makes next the signing key.
func (p *InMemoryKeyProvider) Rotate(next *KeyPair) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.active = next
	keys := []*KeyPair{next}
	for _, k := range p.keys {
		if k.KeyID != next.KeyID {
			keys = append(keys, k)
		}
	}
	p.keys = keys
}

// Retire removes a rotated key from the validation set. The active key cannot be retired.
func (p *InMemoryKeyProvider) Retire(keyID string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.active != nil && p.active.KeyID == keyID {
		return fmt.Errorf("[InMemoryKeyProvider.Retire] cannot retire the active key %s", keyID)
	}
	keys := p.keys[:0:0]
	for _, k := range p.keys {
		if k.KeyID != keyID {
			keys = append(keys, k)
		}
	}
	p.keys = keys
	return nil
}

// JWKS builds the public key set published at the jwks endpoint.
func JWKS(ctx context.Context, provider KeyProvider) (*jose.JSONWebKeySet, error) {
	keys, err := provider.ValidationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("[JWKS] %w", err)
	}
	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, k.JWK())
	}
	return set, nil
}
