package server

import (
	"context"
	"fmt"
	"os"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/config"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
	resourcerepo "github.com/jrsteele09/go-oidc-provider/resources/repofake"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/jrsteele09/go-oidc-provider/users"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DemoSPAClientID     = "demo-spa"
	DemoServiceClientID = "demo-service"
	DemoDeviceClientID  = "demo-device"
	DemoAPIName         = "demo-api"
	DemoUsername        = "alice"
)

// SeedClient is a client as written in a seed file. PlainSecrets are hashed when loaded.
type SeedClient struct {
	clients.Client `yaml:",inline"`
	PlainSecrets   []string `yaml:"plainSecrets,omitempty"`
}

// SeedAPIResource is an API resource as written in a seed file.
type SeedAPIResource struct {
	resources.APIResource `yaml:",inline"`
	PlainSecrets          []string `yaml:"plainSecrets,omitempty"`
}

// SeedUser is a user as written in a seed file. Password is hashed with bcrypt when loaded.
type SeedUser struct {
	users.User `yaml:",inline"`
	Password   string `yaml:"password,omitempty"`
}

// Seed is the configuration loaded into the in-memory client, resource and user stores.
type Seed struct {
	Clients           []SeedClient                 `yaml:"clients"`
	IdentityResources []resources.IdentityResource `yaml:"identityResources"`
	APIScopes         []resources.APIScope         `yaml:"apiScopes"`
	APIResources      []SeedAPIResource            `yaml:"apiResources"`
	Users             []SeedUser                   `yaml:"users"`
}

// SeedTargets are the stores a seed is applied to.
type SeedTargets struct {
	Clients   clients.Repo
	Resources *resourcerepo.FakeResourceRepo
	Users     users.UserRepo
}

// LoadSeed reads a YAML seed file. A missing file yields the demo seed.
func LoadSeed(path string, issuer string, logger zerolog.Logger) (*Seed, error) {
	if path == "" {
		return DemoSeed(issuer), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warn().Str("file", path).Msg("seed file not found, using the demo configuration")
		return DemoSeed(issuer), nil
	}
	if err != nil {
		return nil, fmt.Errorf("[LoadSeed] %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("[LoadSeed] %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes the seed into the stores. Clients get the configured default lifetimes.
func (s *Seed) Apply(ctx context.Context, cfg config.Config, t SeedTargets, logger zerolog.Logger) error {
	lifetimes := clients.Lifetimes{
		AccessToken:          cfg.GetAccessTokenLifetime(),
		IdentityToken:        cfg.GetIdentityTokenLifetime(),
		AuthorizationCode:    cfg.GetAuthorizationCodeLifetime(),
		DeviceCode:           cfg.GetDeviceCodeLifetime(),
		AbsoluteRefreshToken: cfg.GetAbsoluteRefreshTokenLifetime(),
		SlidingRefreshToken:  cfg.GetSlidingRefreshTokenLifetime(),
		PollingInterval:      cfg.GetDevicePollingInterval(),
	}
	for i := range s.Clients {
		c := s.Clients[i].Client
		if c.ID == "" {
			return fmt.Errorf("[Seed.Apply] client %d has no id", i)
		}
		for _, plain := range s.Clients[i].PlainSecrets {
			c.Secrets = append(c.Secrets, clients.Secret{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret(plain)})
		}
		clients.ApplyDefaults(&c, lifetimes)
		if err := t.Clients.Upsert(ctx, &c); err != nil {
			return fmt.Errorf("[Seed.Apply] client %s: %w", c.ID, err)
		}
	}

	for _, ir := range s.IdentityResources {
		t.Resources.AddIdentityResource(ir)
	}
	for _, sc := range s.APIScopes {
		t.Resources.AddAPIScope(sc)
	}
	for _, api := range s.APIResources {
		r := api.APIResource
		for _, plain := range api.PlainSecrets {
			r.Secrets = append(r.Secrets, clients.Secret{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret(plain)})
		}
		t.Resources.AddAPIResource(r)
	}

	for i := range s.Users {
		u := s.Users[i].User
		if u.ID == "" {
			return fmt.Errorf("[Seed.Apply] user %d has no id", i)
		}
		if s.Users[i].Password != "" {
			hash, err := users.HashPassword(s.Users[i].Password)
			if err != nil {
				return fmt.Errorf("[Seed.Apply] user %s: %w", u.ID, err)
			}
			u.PasswordHash = hash
		}
		if err := t.Users.Upsert(ctx, &u); err != nil {
			return fmt.Errorf("[Seed.Apply] user %s: %w", u.ID, err)
		}
	}

	logger.Info().
		Int("clients", len(s.Clients)).
		Int("identity_resources", len(s.IdentityResources)).
		Int("api_scopes", len(s.APIScopes)).
		Int("api_resources", len(s.APIResources)).
		Int("users", len(s.Users)).
		Msg("seed applied")
	return nil
}

// DemoSeed is a small working configuration: a browser client, a service client, a device
// client, one API and one user.
func DemoSeed(issuer string) *Seed {
	return &Seed{
		Clients: []SeedClient{
			{Client: clients.Client{
				ID:                     DemoSPAClientID,
				Name:                   "Demo SPA",
				Enabled:                true,
				AllowedGrantTypes:      []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
				AllowedScopes:          []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, oauth2.ScopeEmail, oauth2.ScopeOfflineAccess, "read"},
				RedirectURIs:           []string{"http://localhost:3000/callback"},
				PostLogoutRedirectURIs: []string{"http://localhost:3000/"},
				RequirePKCE:            true,
				RequireConsent:         true,
				AllowRememberConsent:   true,
				AllowOfflineAccess:     true,
			}},
			{
				Client: clients.Client{
					ID:                  DemoServiceClientID,
					Name:                "Demo Service",
					Enabled:             true,
					RequireClientSecret: true,
					AllowedGrantTypes:   []oauth2.GrantType{oauth2.ClientCredentialsGrant},
					AllowedScopes:       []string{"read", "write"},
				},
				PlainSecrets: []string{"demo-service-secret"},
			},
			{Client: clients.Client{
				ID:                 DemoDeviceClientID,
				Name:               "Demo Device",
				Enabled:            true,
				AllowedGrantTypes:  []oauth2.GrantType{oauth2.DeviceCodeGrant},
				AllowedScopes:      []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, "read"},
				AllowOfflineAccess: true,
			}},
		},
		IdentityResources: []resources.IdentityResource{
			{Name: oauth2.ScopeOpenID, DisplayName: "Your user identifier", Enabled: true, Required: true, UserClaims: []string{"sub"}},
			{Name: oauth2.ScopeProfile, DisplayName: "Your profile", Enabled: true, UserClaims: []string{"name", "given_name", "family_name", "preferred_username"}},
			{Name: oauth2.ScopeEmail, DisplayName: "Your email address", Enabled: true, UserClaims: []string{"email", "email_verified"}},
		},
		APIScopes: []resources.APIScope{
			{Name: "read", DisplayName: "Read access", Enabled: true},
			{Name: "write", DisplayName: "Write access", Enabled: true},
		},
		APIResources: []SeedAPIResource{
			{
				APIResource: resources.APIResource{
					Name:        DemoAPIName,
					DisplayName: "Demo API",
					Enabled:     true,
					Scopes:      []string{"read", "write"},
				},
				PlainSecrets: []string{"demo-api-secret"},
			},
		},
		Users: []SeedUser{
			{
				User: users.User{
					ID:        "a1b2c3",
					Email:     DemoUsername + "@example.com",
					Username:  DemoUsername,
					FirstName: "Alice",
					LastName:  "Smith",
					Verified:  true,
					Roles:     []users.RoleType{users.RoleUser},
					Claims:    map[string]string{"website": issuer},
				},
				Password: "Password1",
			},
		},
	}
}
