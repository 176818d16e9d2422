package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithNowTime(func() time.Time { return now }))
	ctx := context.Background()
	exp := now.Add(time.Minute)
	g := &grants.PersistedGrant{Key: "k1", Kind: grants.KindAuthorizationCode, SubjectID: "alice", ClientID: "web", CreationTime: now, Expiration: &exp, Data: []byte("{}")}

	require.NoError(t, s.Set(ctx, g))

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		if diff := cmp.Diff(g, got); diff != "" {
			t.Fatalf("grant mismatch (-want +got):\n%s", diff)
		}
		got.Data[0] = 'x'
		again, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "{}", string(again.Data))
	})

	t.Run("take is exclusive", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "k1"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
		require.Zero(t, s.Len())
	})

	t.Run("expired grants are never returned", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, g))
		now = now.Add(time.Minute)
		_, err := s.Get(ctx, "k1")
		require.ErrorIs(t, err, errors.ErrNotFound)
		all, err := s.GetAll(ctx, grants.Filter{ClientID: "web"})
		require.NoError(t, err)
		require.Empty(t, all)

		n, err := s.RemoveExpired(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Zero(t, s.Len())
	})
}
