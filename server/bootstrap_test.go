package server_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	fakeclientrepo "github.com/jrsteele09/go-oidc-provider/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-provider/internal/config"
	"github.com/jrsteele09/go-oidc-provider/resources/repofake"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/jrsteele09/go-oidc-provider/server"
	"github.com/jrsteele09/go-oidc-provider/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-provider/users/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSeedIssuer = "https://id.example.com"

const testSeedYAML = `
clients:
  - id: web
    name: Web
    enabled: true
    requireClientSecret: true
    allowedGrantTypes: [authorization_code]
    allowedScopes: [openid, profile]
    redirectURIs: [https://web.example.com/cb]
    accessTokenLifetime: 10m
    plainSecrets: [web-secret]
identityResources:
  - name: openid
    enabled: true
    required: true
    userClaims: [sub]
apiScopes:
  - name: orders
    enabled: true
apiResources:
  - name: orders-api
    enabled: true
    scopes: [orders]
    plainSecrets: [api-secret]
users:
  - id: u1
    username: bob
    email: bob@example.com
    verified: true
    password: Secret123
`

func TestLoadSeed(t *testing.T) {
	t.Run("empty path gives the demo seed", func(t *testing.T) {
		seed, err := server.LoadSeed("", testSeedIssuer, zerolog.Nop())
		require.NoError(t, err)
		require.Len(t, seed.Clients, 3)
		require.Equal(t, server.DemoSPAClientID, seed.Clients[0].ID)
	})

	t.Run("missing file gives the demo seed", func(t *testing.T) {
		seed, err := server.LoadSeed(filepath.Join(t.TempDir(), "nope.yaml"), testSeedIssuer, zerolog.Nop())
		require.NoError(t, err)
		require.Len(t, seed.Users, 1)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seed.yaml")
		require.NoError(t, os.WriteFile(path, []byte("clients: {"), 0o600))
		_, err := server.LoadSeed(path, testSeedIssuer, zerolog.Nop())
		require.Error(t, err)
	})
}

func TestSeed_Apply(t *testing.T) {
	t.Setenv("ISSUER", testSeedIssuer)
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := config.Parse()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeedYAML), 0o600))
	seed, err := server.LoadSeed(path, testSeedIssuer, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	clientRepo := fakeclientrepo.NewFakeClientRepo()
	resourceRepo := repofake.NewFakeResourceRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	require.NoError(t, seed.Apply(ctx, cfg, server.SeedTargets{Clients: clientRepo, Resources: resourceRepo, Users: userRepo}, zerolog.Nop()))

	t.Run("client secrets are hashed and defaults applied", func(t *testing.T) {
		c, err := clientRepo.Get(ctx, "web")
		require.NoError(t, err)
		require.Len(t, c.Secrets, 1)
		require.Equal(t, secrets.HashSecret("web-secret"), c.Secrets[0].Value)
		require.Equal(t, 10*time.Minute, c.AccessTokenLifetime)
		require.Equal(t, cfg.GetIdentityTokenLifetime(), c.IdentityTokenLifetime)
	})

	t.Run("api resources", func(t *testing.T) {
		apis, err := resourceRepo.FindAPIResourcesByName(ctx, []string{"orders-api"})
		require.NoError(t, err)
		require.Len(t, apis, 1)
		require.Equal(t, secrets.HashSecret("api-secret"), apis[0].Secrets[0].Value)
	})

	t.Run("user passwords are bcrypt hashed", func(t *testing.T) {
		u, err := userRepo.GetByUsername(ctx, "bob")
		require.NoError(t, err)
		require.NotEqual(t, "Secret123", u.PasswordHash)
		require.True(t, users.CheckPasswordHash("Secret123", u.PasswordHash))
	})

	t.Run("client without id", func(t *testing.T) {
		bad := &server.Seed{Clients: []server.SeedClient{{}}}
		require.Error(t, bad.Apply(ctx, cfg, server.SeedTargets{Clients: clientRepo, Resources: resourceRepo, Users: userRepo}, zerolog.Nop()))
	})
}
