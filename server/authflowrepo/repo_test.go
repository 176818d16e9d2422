package authflowrepo_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testClientID = "web"

type testFixture struct {
	now   time.Time
	mr    *miniredis.Miniredis
	repos map[string]authflowrepo.Repo
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.mr = miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f.repos = map[string]authflowrepo.Repo{
		"memory": authflowrepo.NewInMemoryRepo(
			authflowrepo.WithTTL(time.Minute),
			authflowrepo.WithNowTime(func() time.Time { return f.now }),
		),
		"redis": authflowrepo.NewRedisRepo(client, "test", time.Minute),
	}
	return f
}

// advance moves both clocks past the given duration.
func (f *testFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.mr.FastForward(d)
}

func TestRepo_WriteReadClear(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	for name, repo := range f.repos {
		t.Run(name, func(t *testing.T) {
			state := &authflowrepo.AuthFlowState{
				Kind:      authflowrepo.KindAuthorize,
				Authorize: url.Values{"client_id": {testClientID}, "scope": {"openid profile"}},
				ClientID:  testClientID,
			}
			id, err := repo.Write(ctx, state)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := repo.Read(ctx, id)
			require.NoError(t, err)
			require.Equal(t, authflowrepo.KindAuthorize, got.Kind)
			require.Equal(t, "openid profile", got.Authorize.Get("scope"))
			require.Equal(t, testClientID, got.ClientID)
			require.False(t, got.CreatedAt.IsZero())

			require.NoError(t, repo.Clear(ctx, id))
			_, err = repo.Read(ctx, id)
			require.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestRepo_ErrorAndLogoutState(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	for name, repo := range f.repos {
		t.Run(name, func(t *testing.T) {
			id, err := repo.Write(ctx, &authflowrepo.AuthFlowState{
				Kind:  authflowrepo.KindError,
				Error: oauth2.NewError(oauth2.ErrorInvalidRequest, "bad redirect_uri"),
			})
			require.NoError(t, err)
			got, err := repo.Read(ctx, id)
			require.NoError(t, err)
			require.Equal(t, oauth2.ErrorInvalidRequest, got.Error.Code)
			require.Equal(t, "bad redirect_uri", got.Error.Description)

			id, err = repo.Write(ctx, &authflowrepo.AuthFlowState{
				Kind:                  authflowrepo.KindLogout,
				Logout:                &oauthmodel.LogoutNotification{SubjectID: "alice", SessionID: "sid-1", ClientIDs: []string{"a", "b"}},
				PostLogoutRedirectURI: "https://app.example.com/",
			})
			require.NoError(t, err)
			got, err = repo.Read(ctx, id)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, got.Logout.ClientIDs)
			require.Equal(t, "https://app.example.com/", got.PostLogoutRedirectURI)
		})
	}
}

func TestRepo_Expiry(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	ids := make(map[string]string)
	for name, repo := range f.repos {
		id, err := repo.Write(ctx, &authflowrepo.AuthFlowState{Kind: authflowrepo.KindError, Error: oauth2.NewError(oauth2.ErrorServerError, "")})
		require.NoError(t, err)
		ids[name] = id
	}
	f.advance(2 * time.Minute)

	for name, repo := range f.repos {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Read(ctx, ids[name])
			require.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestRepo_UnknownID(t *testing.T) {
	f := setupTestFixture(t)
	for name, repo := range f.repos {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Read(context.Background(), "missing")
			require.ErrorIs(t, err, errors.ErrNotFound)
			require.NoError(t, repo.Clear(context.Background(), "missing"))
		})
	}
}

func TestInMemoryRepo_WriteCopiesState(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo()
	state := &authflowrepo.AuthFlowState{Kind: authflowrepo.KindAuthorize, ClientID: testClientID}
	id, err := repo.Write(context.Background(), state)
	require.NoError(t, err)

	state.ClientID = "changed"
	got, err := repo.Read(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, testClientID, got.ClientID)
}

func TestRedisRepo_KeyLayout(t *testing.T) {
	f := setupTestFixture(t)
	id, err := f.repos["redis"].Write(context.Background(), &authflowrepo.AuthFlowState{Kind: authflowrepo.KindAuthorize})
	require.NoError(t, err)
	require.True(t, f.mr.Exists("test:interaction:"+id))
	require.Equal(t, time.Minute, f.mr.TTL("test:interaction:"+id))
}
