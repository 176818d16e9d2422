package responses_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/responses"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/stretchr/testify/require"
)

func (f *testFixture) api(t *testing.T, name string) *resources.APIResource {
	t.Helper()
	found, err := f.resources.FindAPIResourcesByName(context.Background(), []string{name})
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func TestIntrospectionResponse_Process(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	v, err := auth.NewIntrospectionRequestValidator(f.validator)
	require.NoError(t, err)

	tr := f.codeTokens(t, webClientID, oauth2.ScopeOpenID, "api1", "api2.read")

	t.Run("active token lists only the caller's scopes", func(t *testing.T) {
		req, err := v.Validate(ctx, url.Values{"token": {tr.AccessToken}}, f.api(t, "api2"))
		require.NoError(t, err)
		resp, err := f.introspectGen.Process(ctx, req)
		require.NoError(t, err)

		require.True(t, resp.Active)
		require.Equal(t, "api2.read", resp.Scope)
		require.Equal(t, webClientID, resp.ClientID)
		require.Equal(t, aliceID, resp.Subject)
		require.Equal(t, testIssuer, resp.Issuer)
		require.ElementsMatch(t, []string{"api1", "api2"}, resp.Audience)
		require.Equal(t, f.now.Add(time.Hour).Unix(), resp.Exp)
		require.Equal(t, "session-1", resp.SessionID)
		require.Contains(t, resp.Extra, "auth_time")
		require.NotContains(t, resp.Extra, "scope")
	})

	t.Run("inactive token discloses nothing", func(t *testing.T) {
		req, err := v.Validate(ctx, url.Values{"token": {"garbage"}}, f.api(t, "api1"))
		require.NoError(t, err)
		resp, err := f.introspectGen.Process(ctx, req)
		require.NoError(t, err)
		b, err := resp.MarshalJSON()
		require.NoError(t, err)
		require.JSONEq(t, `{"active":false}`, string(b))
	})
}

func TestIntrospectionResponse_QualifiedScopes(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	v, err := auth.NewIntrospectionRequestValidator(f.validator)
	require.NoError(t, err)

	tests := []struct {
		name      string
		scope     string
		api       string
		wantAud   []string
		wantScope string
	}{
		{name: "single audience", scope: "api1:api1", api: "api1", wantAud: []string{"api1"}, wantScope: "api1"},
		{name: "multiple audiences", scope: "api1:api1 api2.read", api: "api1", wantAud: []string{"api1", "api2"}, wantScope: "api1"},
		{name: "multiple audiences other api", scope: "api1:api1 api2.read", api: "api2", wantAud: []string{"api1", "api2"}, wantScope: "api2.read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := f.token(t, m2mClientID, url.Values{"grant_type": {string(oauth2.ClientCredentialsGrant)}, "scope": {tt.scope}})
			require.NoError(t, err)

			req, err := v.Validate(ctx, url.Values{"token": {tr.AccessToken}}, f.api(t, tt.api))
			require.NoError(t, err)
			resp, err := f.introspectGen.Process(ctx, req)
			require.NoError(t, err)
			require.True(t, resp.Active)
			require.ElementsMatch(t, tt.wantAud, resp.Audience)
			require.Equal(t, tt.wantScope, resp.Scope)
			require.Equal(t, m2mClientID, resp.ClientID)

			_, err = f.validator.ValidateAccessToken(ctx, tr.AccessToken, tt.wantScope)
			require.NoError(t, err)
		})
	}
}

func TestRevocationResponse_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh token found despite an access token hint", func(t *testing.T) {
		f := setupTestFixture(t)
		tr := f.codeTokens(t, webClientID, oauth2.ScopeOpenID, "api1", oauth2.ScopeOfflineAccess)
		err := f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{
			Client:        f.client(t, webClientID),
			Token:         *tr.RefreshToken,
			TokenTypeHint: oauth2.TokenTypeHintAccessToken,
		})
		require.NoError(t, err)
		_, err = f.manager.FindRefreshToken(ctx, *tr.RefreshToken)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("another client's token is left alone", func(t *testing.T) {
		f := setupTestFixture(t)
		tr := f.codeTokens(t, webClientID, oauth2.ScopeOpenID, "api1", oauth2.ScopeOfflineAccess)
		err := f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{Client: f.client(t, refClientID), Token: *tr.RefreshToken})
		require.NoError(t, err)
		_, err = f.manager.FindRefreshToken(ctx, *tr.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("reference token revocation removes the linked refresh token", func(t *testing.T) {
		f := setupTestFixture(t)
		tr := f.codeTokens(t, refClientID, oauth2.ScopeOpenID, "api1", oauth2.ScopeOfflineAccess)
		err := f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{
			Client:        f.client(t, refClientID),
			Token:         tr.AccessToken,
			TokenTypeHint: oauth2.TokenTypeHintAccessToken,
		})
		require.NoError(t, err)

		_, err = f.validator.ValidateAccessToken(ctx, tr.AccessToken, "")
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidToken, ""))
		_, err = f.manager.FindRefreshToken(ctx, *tr.RefreshToken)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("refresh token revocation removes reference tokens", func(t *testing.T) {
		f := setupTestFixture(t)
		tr := f.codeTokens(t, refClientID, oauth2.ScopeOpenID, "api1", oauth2.ScopeOfflineAccess)
		err := f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{Client: f.client(t, refClientID), Token: *tr.RefreshToken})
		require.NoError(t, err)
		_, err = f.validator.ValidateAccessToken(ctx, tr.AccessToken, "")
		require.Error(t, err)
	})

	t.Run("jwt and unknown tokens are accepted silently", func(t *testing.T) {
		f := setupTestFixture(t)
		tr := f.codeTokens(t, webClientID, oauth2.ScopeOpenID, "api1")
		client := f.client(t, webClientID)
		require.NoError(t, f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{Client: client, Token: tr.AccessToken}))
		require.NoError(t, f.revocationGen.Process(ctx, &oauthmodel.ValidatedRevocationRequest{Client: client, Token: "unknown"}))
	})
}

func TestDeviceAuthorizationResponse_Process(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	client := f.client(t, deviceClientID)

	resp, err := f.deviceGen.Process(ctx, &oauthmodel.ValidatedDeviceAuthorizationRequest{
		ValidatedRequest: oauthmodel.ValidatedRequest{Client: client},
		Resources:        f.resolve(t, deviceClientID, oauth2.ScopeOpenID, "api1"),
		IsOpenIDRequest:  true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.DeviceCode)
	require.Len(t, resp.UserCode, 9)
	require.Equal(t, testIssuer+responses.PathDeviceVerification, resp.VerificationURI)
	require.Equal(t, testIssuer+responses.PathDeviceVerification+"?userCode="+resp.UserCode, resp.VerificationURIComplete)
	require.Equal(t, 300, resp.ExpiresIn)
	require.Equal(t, 5, resp.Interval)

	dc, err := f.manager.FindDeviceCodeByUserCode(ctx, resp.UserCode)
	require.NoError(t, err)
	require.Equal(t, grants.DeviceCodePending, dc.State)

	subject := f.alice()
	require.NoError(t, f.manager.ApproveDeviceCode(ctx, resp.UserCode, grants.DeviceApproval{
		SubjectID:        subject.ID,
		SessionID:        subject.SessionID,
		AuthTime:         subject.AuthTime,
		AMR:              subject.AMR,
		AuthorizedScopes: []string{oauth2.ScopeOpenID, "api1"},
	}))

	tr, err := f.token(t, deviceClientID, url.Values{
		"grant_type":  {string(oauth2.DeviceCodeGrant)},
		"device_code": {resp.DeviceCode},
	})
	require.NoError(t, err)
	require.NotNil(t, tr.IdToken)
	require.Nil(t, tr.RefreshToken)
	require.Equal(t, "openid api1", tr.Scope)
}

func TestUserInfoResponse_Process(t *testing.T) {
	f := setupTestFixture(t)
	claims, err := f.userInfoGen.Process(context.Background(), &oauthmodel.ValidatedUserInfoRequest{
		Client:    f.client(t, webClientID),
		SubjectID: aliceID,
		Scopes:    []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, "api1"},
	})
	require.NoError(t, err)
	require.Equal(t, aliceID, claims["sub"])
	require.Equal(t, "Alice Smith", claims["name"])
	require.NotContains(t, claims, "email")

	claims, err = f.userInfoGen.Process(context.Background(), &oauthmodel.ValidatedUserInfoRequest{SubjectID: aliceID, Scopes: []string{oauth2.ScopeOpenID}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sub": aliceID}, claims)
}

func TestEndSessionResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("redirect carries state and the session is reported", func(t *testing.T) {
		f := setupTestFixture(t)
		res, err := f.endSessionGen.Process(ctx, &oauthmodel.ValidatedEndSessionRequest{
			ValidatedRequest:      oauthmodel.ValidatedRequest{Client: f.client(t, webClientID), Subject: f.alice()},
			PostLogoutRedirectURI: testLogoutURI,
			State:                 "bye",
			ClientIDs:             []string{webClientID, deviceClientID},
		})
		require.NoError(t, err)
		require.Equal(t, testLogoutURI+"?state=bye", res.RedirectURI)
		require.Equal(t, &oauthmodel.LogoutNotification{
			SubjectID: aliceID,
			SessionID: "session-1",
			ClientIDs: []string{webClientID, deviceClientID},
		}, res.Notification)
	})

	t.Run("anonymous logout has nothing to notify", func(t *testing.T) {
		f := setupTestFixture(t)
		res, err := f.endSessionGen.Process(ctx, &oauthmodel.ValidatedEndSessionRequest{})
		require.NoError(t, err)
		require.Empty(t, res.RedirectURI)
		require.Nil(t, res.Notification)
	})

	t.Run("callback notifies back channel clients", func(t *testing.T) {
		f := setupTestFixture(t)
		frontChannel := []string{"https://tv.example.com/frontchannel?sid=session-1"}
		res := f.endSessionGen.ProcessCallback(ctx, &oauthmodel.ValidatedEndSessionCallback{
			SubjectID:              aliceID,
			SessionID:              "session-1",
			FrontChannelLogoutURLs: frontChannel,
			BackChannelClients:     []*clients.Client{f.client(t, deviceClientID)},
		})
		require.Equal(t, frontChannel, res.FrontChannelLogoutURLs)
		require.Len(t, f.notifier.sent, 1)
		require.Equal(t, []string{deviceClientID}, f.notifier.sent[0].ClientIDs)
	})
}

func TestDiscoveryResponse_Create(t *testing.T) {
	f := setupTestFixture(t)
	doc, err := f.discoveryGen.Create(context.Background(), responses.DiscoveryInput{
		Issuer:      testIssuer,
		GrantTypes:  f.tokenReq.GrantTypes(),
		AuthMethods: []string{oauth2.AuthMethodClientSecretBasic, oauth2.AuthMethodClientSecretPost},
	})
	require.NoError(t, err)

	require.Equal(t, testIssuer, doc["issuer"])
	require.Equal(t, testIssuer+"/connect/token", doc["token_endpoint"])
	require.Equal(t, testIssuer+"/.well-known/openid-configuration/jwks", doc["jwks_uri"])
	require.Equal(t, []string{token.ES256}, doc["id_token_signing_alg_values_supported"])
	require.ElementsMatch(t, []string{oauth2.ScopeOpenID, oauth2.ScopeProfile, "api1", "api2.read", oauth2.ScopeOfflineAccess}, doc["scopes_supported"])
	require.Equal(t, []string{"name", "preferred_username", "sub"}, doc["claims_supported"])
	require.Contains(t, doc["grant_types_supported"], string(oauth2.DeviceCodeGrant))
}
