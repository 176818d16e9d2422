package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-provider/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/grants/memstore"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/resources/repofake"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/jrsteele09/go-oidc-provider/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-provider/users/repofake"
	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"
)

const (
	testIssuer      = "https://idp.example.com"
	testRedirectURI = "https://web.example.com/callback"
	testLogoutURI   = "https://web.example.com/signed-out"
	testPassword    = "Sup3rSecret"

	webClientID    = "web-client"
	m2mClientID    = "m2m-client"
	deviceClientID = "device-client"
	ropcClientID   = "ropc-client"

	aliceID = "alice"
	bobID   = "bob"
)

type testFixture struct {
	now        time.Time
	opts       auth.Options
	manager    *grants.Manager
	clients    *fakeclientrepo.FakeClientRepo
	resources  *repofake.FakeResourceRepo
	users      *fakeuserrepo.FakeUserRepo
	profile    *users.ProfileService
	scopes     *resources.ScopeValidator
	keys       *token.InMemoryKeyProvider
	creator    *token.Creator
	validator  *token.Validator
	authorize  *auth.AuthorizeRequestValidator
	tokenReq   *auth.TokenRequestValidator
	interact   *auth.InteractionEvaluator
	introspect *auth.IntrospectionRequestValidator
	device     *auth.DeviceAuthorizationRequestValidator
	approval   *auth.DeviceApprovalValidator
	endSession *auth.EndSessionRequestValidator
	callback   *auth.EndSessionCallbackValidator
	userInfo   *auth.UserInfoRequestValidator
}

func (f *testFixture) clock() time.Time { return f.now }

func (f *testFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), opts: auth.DefaultOptions(testIssuer)}
	var err error

	f.manager, err = grants.NewManager(memstore.New(memstore.WithNowTime(f.clock)), grants.WithNowTime(f.clock))
	require.NoError(t, err)

	f.resources = repofake.NewFakeResourceRepo().
		AddIdentityResource(resources.IdentityResource{Name: oauth2.ScopeOpenID, Enabled: true, Required: true, UserClaims: []string{"sub"}}).
		AddIdentityResource(resources.IdentityResource{Name: oauth2.ScopeProfile, Enabled: true, UserClaims: []string{"name", "preferred_username"}}).
		AddAPIScope(resources.APIScope{Name: "api1", Enabled: true}).
		AddAPIScope(resources.APIScope{Name: "api2.read", Enabled: true}).
		AddAPIResource(resources.APIResource{Name: "api1", Enabled: true, Scopes: []string{"api1"}}).
		AddAPIResource(resources.APIResource{Name: "api2", Enabled: true, Scopes: []string{"api2.read"}})
	f.scopes, err = resources.NewScopeValidator(f.resources)
	require.NoError(t, err)

	hash, err := users.HashPassword(testPassword)
	require.NoError(t, err)
	f.users = fakeuserrepo.NewFakeUserRepo(
		&users.User{ID: aliceID, Username: "alice", Email: "alice@example.com", PasswordHash: hash, FirstName: "Alice", LastName: "Smith", Verified: true},
		&users.User{ID: bobID, Username: "bob", Email: "bob@example.com", PasswordHash: hash, Blocked: true},
	)
	f.profile, err = users.NewProfileService(f.users, users.WithNowTime(f.clock))
	require.NoError(t, err)

	f.clients = fakeclientrepo.NewFakeClientRepo(testClients()...)

	kp, err := token.GenerateKeyPair(token.ES256)
	require.NoError(t, err)
	f.keys, err = token.NewInMemoryKeyProvider(kp)
	require.NoError(t, err)
	f.creator, err = token.NewCreator(testIssuer, f.keys, f.manager, token.WithCreatorNowTime(f.clock), token.WithProfileService(f.profile))
	require.NoError(t, err)
	f.validator, err = token.NewValidator(testIssuer, f.keys, f.manager, f.clients, token.WithValidatorNowTime(f.clock))
	require.NoError(t, err)

	f.authorize, err = auth.NewAuthorizeRequestValidator(f.opts, f.clients, f.scopes, f.validator)
	require.NoError(t, err)
	f.tokenReq, err = auth.NewTokenRequestValidator(f.opts, f.manager, f.validator, f.scopes, f.profile,
		auth.WithPasswordValidator(f.profile), auth.WithTokenNowTime(f.clock))
	require.NoError(t, err)
	f.interact, err = auth.NewInteractionEvaluator(f.opts, f.manager, f.profile, auth.WithInteractionNowTime(f.clock))
	require.NoError(t, err)
	f.introspect, err = auth.NewIntrospectionRequestValidator(f.validator)
	require.NoError(t, err)
	f.device, err = auth.NewDeviceAuthorizationRequestValidator(f.opts, f.scopes, nil)
	require.NoError(t, err)
	f.approval, err = auth.NewDeviceApprovalValidator(f.opts, f.manager, f.clients, f.scopes, auth.WithDeviceApprovalNowTime(f.clock))
	require.NoError(t, err)
	f.endSession, err = auth.NewEndSessionRequestValidator(f.opts, f.validator, f.clients)
	require.NoError(t, err)
	f.callback, err = auth.NewEndSessionCallbackValidator(f.opts, f.clients)
	require.NoError(t, err)
	f.userInfo, err = auth.NewUserInfoRequestValidator(f.validator, f.profile)
	require.NoError(t, err)
	return f
}

func testClients() []*clients.Client {
	secret := []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret("secret")}}
	out := []*clients.Client{
		{
			ID:                     webClientID,
			Enabled:                true,
			Secrets:                secret,
			RequireClientSecret:    true,
			AllowedGrantTypes:      []oauth2.GrantType{oauth2.AuthorizationCodeGrant, oauth2.RefreshTokenGrant},
			AllowedScopes:          []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, "api1", "api2.read"},
			RedirectURIs:           []string{testRedirectURI},
			PostLogoutRedirectURIs: []string{testLogoutURI},
			FrontChannelLogoutURI:  "https://web.example.com/frontchannel",
			BackChannelLogoutURI:   "https://web.example.com/backchannel",
			RequirePKCE:            true,
			RequireConsent:         true,
			AllowRememberConsent:   true,
			AllowOfflineAccess:     true,
			RefreshTokenUsage:      clients.RefreshTokenOneTimeOnly,
		},
		{
			ID:                  m2mClientID,
			Enabled:             true,
			Secrets:             secret,
			RequireClientSecret: true,
			AllowedGrantTypes:   []oauth2.GrantType{oauth2.ClientCredentialsGrant},
			AllowedScopes:       []string{"api1", "api2.read"},
		},
		{
			ID:                deviceClientID,
			Enabled:           true,
			AllowedGrantTypes: []oauth2.GrantType{oauth2.DeviceCodeGrant},
			AllowedScopes:     []string{oauth2.ScopeOpenID, "api1"},
			PollingInterval:   5 * time.Second,
		},
		{
			ID:                  ropcClientID,
			Enabled:             true,
			Secrets:             secret,
			RequireClientSecret: true,
			AllowedGrantTypes:   []oauth2.GrantType{oauth2.PasswordGrant},
			AllowedScopes:       []string{oauth2.ScopeOpenID, "api1"},
		},
	}
	for _, c := range out {
		clients.ApplyDefaults(c, clients.Lifetimes{
			AccessToken:          time.Hour,
			IdentityToken:        5 * time.Minute,
			AuthorizationCode:    5 * time.Minute,
			DeviceCode:           5 * time.Minute,
			AbsoluteRefreshToken: 30 * 24 * time.Hour,
			SlidingRefreshToken:  15 * 24 * time.Hour,
			PollingInterval:      5 * time.Second,
		})
	}
	return out
}

func (f *testFixture) client(t *testing.T, id string) *secrets.ClientResult {
	t.Helper()
	c, err := f.clients.Get(context.Background(), id)
	require.NoError(t, err)
	return &secrets.ClientResult{Client: c}
}

func (f *testFixture) alice() *oauthmodel.Subject {
	return &oauthmodel.Subject{ID: aliceID, SessionID: "session-1", AuthTime: f.now, AMR: []string{"pwd"}, IdP: "local"}
}

// storeCode persists an authorization code for the web client bound to verifier.
func (f *testFixture) storeCode(t *testing.T, verifier string, scopes ...string) string {
	t.Helper()
	handle, err := f.manager.StoreAuthorizationCode(context.Background(), &grants.AuthorizationCode{
		ClientID:            webClientID,
		SubjectID:           aliceID,
		SessionID:           "session-1",
		Lifetime:            5 * time.Minute,
		RedirectURI:         testRedirectURI,
		RequestedScopes:     scopes,
		CodeChallenge:       xoauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: string(oauth2.CodeMethodTypeS256),
		IsOpenID:            true,
		AuthTime:            f.now,
		AMR:                 []string{"pwd"},
	})
	require.NoError(t, err)
	return handle
}

// issueAccessToken creates a serialized access token for the given client and scopes.
func (f *testFixture) issueAccessToken(t *testing.T, clientID string, subject *oauthmodel.Subject, scopes ...string) string {
	t.Helper()
	ctx := context.Background()
	c := f.client(t, clientID).Client
	res, errs, err := f.scopes.ParseAndValidate(ctx, resources.ScopeRequest{Client: c, Scopes: scopes})
	require.NoError(t, err)
	require.Empty(t, errs)
	at, err := f.creator.CreateAccessToken(ctx, &token.CreationRequest{Subject: subject, Client: c, Resources: res})
	require.NoError(t, err)
	raw, err := f.creator.CreateSecurityToken(ctx, at)
	require.NoError(t, err)
	return raw
}

func (f *testFixture) issueIdentityToken(t *testing.T, subject *oauthmodel.Subject) string {
	t.Helper()
	ctx := context.Background()
	c := f.client(t, webClientID).Client
	res, errs, err := f.scopes.ParseAndValidate(ctx, resources.ScopeRequest{Client: c, Scopes: []string{oauth2.ScopeOpenID}})
	require.NoError(t, err)
	require.Empty(t, errs)
	idt, err := f.creator.CreateIdentityToken(ctx, &token.CreationRequest{Subject: subject, Client: c, Resources: res})
	require.NoError(t, err)
	raw, err := f.creator.CreateSecurityToken(ctx, idt)
	require.NoError(t, err)
	return raw
}
