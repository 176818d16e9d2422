package responses_test

import (
	"context"
	"net/url"
	"sync"
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
	"github.com/jrsteele09/go-oidc-provider/responses"
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
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	webClientID    = "web-client"
	refClientID    = "reference-client"
	m2mClientID    = "m2m-client"
	deviceClientID = "device-client"

	aliceID = "alice"
)

type testFixture struct {
	now       time.Time
	manager   *grants.Manager
	clients   *fakeclientrepo.FakeClientRepo
	resources *repofake.FakeResourceRepo
	profile   *users.ProfileService
	scopes    *resources.ScopeValidator
	keys      *token.InMemoryKeyProvider
	creator   *token.Creator
	validator *token.Validator
	tokenReq  *auth.TokenRequestValidator
	notifier  *recordingNotifier

	tokenGen      *responses.TokenResponseGenerator
	authorizeGen  *responses.AuthorizeResponseGenerator
	introspectGen *responses.IntrospectionResponseGenerator
	revocationGen *responses.RevocationResponseGenerator
	deviceGen     *responses.DeviceAuthorizationResponseGenerator
	userInfoGen   *responses.UserInfoResponseGenerator
	endSessionGen *responses.EndSessionResponseGenerator
	discoveryGen  *responses.DiscoveryResponseGenerator
}

func (f *testFixture) clock() time.Time { return f.now }

func (f *testFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// recordingNotifier captures back channel logout notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []*oauthmodel.LogoutNotification
}

func (n *recordingNotifier) NotifyLogout(_ context.Context, ln *oauthmodel.LogoutNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ln)
	return nil
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), notifier: &recordingNotifier{}}
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

	hash, err := users.HashPassword("Sup3rSecret")
	require.NoError(t, err)
	userRepo := fakeuserrepo.NewFakeUserRepo(
		&users.User{ID: aliceID, Username: "alice", Email: "alice@example.com", PasswordHash: hash, FirstName: "Alice", LastName: "Smith", Verified: true},
	)
	f.profile, err = users.NewProfileService(userRepo, users.WithNowTime(f.clock))
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
	f.tokenReq, err = auth.NewTokenRequestValidator(auth.DefaultOptions(testIssuer), f.manager, f.validator, f.scopes, f.profile,
		auth.WithTokenNowTime(f.clock))
	require.NoError(t, err)

	f.tokenGen, err = responses.NewTokenResponseGenerator(f.creator, f.manager, responses.WithTokenResponseNowTime(f.clock))
	require.NoError(t, err)
	f.authorizeGen, err = responses.NewAuthorizeResponseGenerator(f.creator, f.manager, responses.WithAuthorizeResponseNowTime(f.clock))
	require.NoError(t, err)
	f.introspectGen = responses.NewIntrospectionResponseGenerator()
	f.revocationGen, err = responses.NewRevocationResponseGenerator(f.manager)
	require.NoError(t, err)
	f.deviceGen, err = responses.NewDeviceAuthorizationResponseGenerator(f.manager, testIssuer+responses.PathDeviceVerification)
	require.NoError(t, err)
	f.userInfoGen, err = responses.NewUserInfoResponseGenerator(f.resources, f.profile)
	require.NoError(t, err)
	f.endSessionGen = responses.NewEndSessionResponseGenerator(responses.WithLogoutNotifier(f.notifier))
	f.discoveryGen, err = responses.NewDiscoveryResponseGenerator(f.resources, f.keys)
	require.NoError(t, err)
	return f
}

func testClients() []*clients.Client {
	secret := []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: secrets.HashSecret("secret")}}
	out := []*clients.Client{
		{
			ID:                  webClientID,
			Enabled:             true,
			Secrets:             secret,
			RequireClientSecret: true,
			AllowedGrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant, oauth2.HybridGrant, oauth2.RefreshTokenGrant},
			AllowedScopes:       []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, "api1", "api2.read"},
			RedirectURIs:        []string{testRedirectURI},
			AllowOfflineAccess:  true,
			RefreshTokenUsage:   clients.RefreshTokenOneTimeOnly,
		},
		{
			ID:                           refClientID,
			Enabled:                      true,
			Secrets:                      secret,
			RequireClientSecret:          true,
			AllowedGrantTypes:            []oauth2.GrantType{oauth2.AuthorizationCodeGrant, oauth2.RefreshTokenGrant},
			AllowedScopes:                []string{oauth2.ScopeOpenID, "api1"},
			RedirectURIs:                 []string{testRedirectURI},
			AllowOfflineAccess:           true,
			AccessTokenType:              clients.AccessTokenTypeReference,
			RefreshTokenUsage:            clients.RefreshTokenReUse,
			RefreshTokenExpiration:       clients.RefreshTokenSliding,
			SlidingRefreshTokenLifetime:  time.Hour,
			AbsoluteRefreshTokenLifetime: 3 * time.Hour,
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
			ID:                    deviceClientID,
			Enabled:               true,
			AllowedGrantTypes:     []oauth2.GrantType{oauth2.DeviceCodeGrant},
			AllowedScopes:         []string{oauth2.ScopeOpenID, "api1"},
			FrontChannelLogoutURI: "https://tv.example.com/frontchannel",
			BackChannelLogoutURI:  "https://tv.example.com/backchannel",
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

func (f *testFixture) client(t *testing.T, id string) *clients.Client {
	t.Helper()
	c, err := f.clients.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *testFixture) alice() *oauthmodel.Subject {
	return &oauthmodel.Subject{ID: aliceID, SessionID: "session-1", AuthTime: f.now, AMR: []string{"pwd"}, IdP: "local"}
}

func (f *testFixture) resolve(t *testing.T, clientID string, scopes ...string) *resources.ValidatedResources {
	t.Helper()
	res, errs, err := f.scopes.ParseAndValidate(context.Background(), resources.ScopeRequest{Client: f.client(t, clientID), Scopes: scopes})
	require.NoError(t, err)
	require.Empty(t, errs)
	return res
}

// authorizeRequest is a consented code flow request for alice.
func (f *testFixture) authorizeRequest(t *testing.T, clientID, responseType string, scopes ...string) *oauthmodel.ValidatedAuthorizeRequest {
	t.Helper()
	mode := oauth2.FragmentResponseMode
	if responseType == oauth2.ResponseTypesCode {
		mode = oauth2.QueryResponseMode
	}
	return &oauthmodel.ValidatedAuthorizeRequest{
		ValidatedRequest: oauthmodel.ValidatedRequest{
			Client:  f.client(t, clientID),
			Subject: f.alice(),
		},
		ResponseType:        responseType,
		GrantType:           oauth2.ResponseTypeGrantTypes[responseType],
		ResponseMode:        mode,
		RedirectURI:         testRedirectURI,
		State:               "xyz",
		Nonce:               "n-0S6_WzA2Mj",
		RequestedScopes:     scopes,
		Resources:           f.resolve(t, clientID, scopes...),
		CodeChallenge:       xoauth2.S256ChallengeFromVerifier(testVerifier),
		CodeChallengeMethod: oauth2.CodeMethodTypeS256,
		IsOpenIDRequest:     true,
	}
}

// token runs a token request through validation and response generation.
func (f *testFixture) token(t *testing.T, clientID string, form url.Values) (*oauth2.TokenResponse, error) {
	t.Helper()
	ctx := context.Background()
	req, err := f.tokenReq.Validate(ctx, oauthmodel.TokenParametersFromValues(form), &secrets.ClientResult{Client: f.client(t, clientID)})
	if err != nil {
		return nil, err
	}
	return f.tokenGen.Process(ctx, req)
}

// codeTokens runs the code flow for clientID and returns the token response.
func (f *testFixture) codeTokens(t *testing.T, clientID string, scopes ...string) *oauth2.TokenResponse {
	t.Helper()
	resp, err := f.authorizeGen.Create(context.Background(), f.authorizeRequest(t, clientID, oauth2.ResponseTypesCode, scopes...), false)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Code)

	tr, err := f.token(t, clientID, url.Values{
		"grant_type":    {string(oauth2.AuthorizationCodeGrant)},
		"code":          {resp.Code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {testVerifier},
	})
	require.NoError(t, err)
	return tr
}

func refreshForm(handle string) url.Values {
	return url.Values{"grant_type": {string(oauth2.RefreshTokenGrant)}, "refresh_token": {handle}}
}
