package grants

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
)

// AssertionReplayCache remembers client assertion ids in the grant store until they expire.
type AssertionReplayCache struct {
	m *Manager
}

func (m *Manager) AssertionReplayCache() *AssertionReplayCache {
	return &AssertionReplayCache{m: m}
}

// Add reports false when id is already remembered. Concurrent first uses of one id may both
// succeed on stores without conditional writes.
func (c *AssertionReplayCache) Add(ctx context.Context, id string, until time.Time) (bool, error) {
	key := HashKey(id, KindClientAssertion)
	_, err := c.m.store.Get(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return false, err
	}
	now := c.m.now()
	if !until.After(now) {
		until = now.Add(time.Minute)
	}
	err = c.m.store.Set(ctx, &PersistedGrant{
		Key:          key,
		Kind:         KindClientAssertion,
		CreationTime: now,
		Expiration:   utils.TimePtrUTC(until),
		Data:         []byte("{}"),
	})
	return err == nil, err
}
