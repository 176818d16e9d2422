package auth_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/stretchr/testify/require"
)

func (f *testFixture) api(t *testing.T, name string) *resources.APIResource {
	t.Helper()
	apis, err := f.resources.FindAPIResourcesByName(context.Background(), []string{name})
	require.NoError(t, err)
	require.Len(t, apis, 1)
	return apis[0]
}

func TestIntrospectionRequestValidator(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	api1Token := f.issueAccessToken(t, m2mClientID, nil, "api1")
	bothToken := f.issueAccessToken(t, m2mClientID, nil, "api1", "api2.read")

	t.Run("active for the audience", func(t *testing.T) {
		res, err := f.introspect.Validate(ctx, url.Values{"token": {api1Token}}, f.api(t, "api1"))
		require.NoError(t, err)
		require.True(t, res.Active)
		require.Equal(t, []string{"api1"}, res.Scopes)
	})

	t.Run("inactive for another api", func(t *testing.T) {
		res, err := f.introspect.Validate(ctx, url.Values{"token": {api1Token}}, f.api(t, "api2"))
		require.NoError(t, err)
		require.False(t, res.Active)
		require.Nil(t, res.Claims)
	})

	t.Run("only the caller's scopes are visible", func(t *testing.T) {
		res, err := f.introspect.Validate(ctx, url.Values{"token": {bothToken}}, f.api(t, "api2"))
		require.NoError(t, err)
		require.True(t, res.Active)
		require.Equal(t, []string{"api2.read"}, res.Scopes)
	})

	t.Run("garbage token is inactive", func(t *testing.T) {
		res, err := f.introspect.Validate(ctx, url.Values{"token": {"garbage"}}, f.api(t, "api1"))
		require.NoError(t, err)
		require.False(t, res.Active)
	})

	t.Run("expired token is inactive", func(t *testing.T) {
		f.advance(2 * time.Hour)
		defer f.advance(-2 * time.Hour)
		res, err := f.introspect.Validate(ctx, url.Values{"token": {api1Token}}, f.api(t, "api1"))
		require.NoError(t, err)
		require.False(t, res.Active)
	})

	t.Run("token is required", func(t *testing.T) {
		_, err := f.introspect.Validate(ctx, url.Values{}, f.api(t, "api1"))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})
}

func TestQualifiedScopeTokens(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	single := f.issueAccessToken(t, m2mClientID, nil, "api1:api1")
	multi := f.issueAccessToken(t, m2mClientID, nil, "api1:api1", "api2.read")

	t.Run("introspection at the qualifying api", func(t *testing.T) {
		for _, raw := range []string{single, multi} {
			res, err := f.introspect.Validate(ctx, url.Values{"token": {raw}}, f.api(t, "api1"))
			require.NoError(t, err)
			require.True(t, res.Active)
			require.Equal(t, []string{"api1"}, res.Scopes)
		}
	})

	t.Run("introspection at the other api", func(t *testing.T) {
		res, err := f.introspect.Validate(ctx, url.Values{"token": {single}}, f.api(t, "api2"))
		require.NoError(t, err)
		require.False(t, res.Active)

		res, err = f.introspect.Validate(ctx, url.Values{"token": {multi}}, f.api(t, "api2"))
		require.NoError(t, err)
		require.True(t, res.Active)
		require.Equal(t, []string{"api2.read"}, res.Scopes)
	})

	t.Run("expected scope", func(t *testing.T) {
		for _, raw := range []string{single, multi} {
			_, err := f.validator.ValidateAccessToken(ctx, raw, "api1")
			require.NoError(t, err)
			_, err = f.validator.ValidateAccessToken(ctx, raw, "api1:api1")
			require.NoError(t, err)
		}
		_, err := f.validator.ValidateAccessToken(ctx, multi, "api2.read")
		require.NoError(t, err)
		_, err = f.validator.ValidateAccessToken(ctx, single, "api2.read")
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInsufficientScope, ""))
	})
}

func TestRevocationRequestValidator(t *testing.T) {
	v := auth.NewRevocationRequestValidator()
	ctx := context.Background()

	req, err := v.Validate(ctx, url.Values{"token": {"abc"}, "token_type_hint": {"refresh_token"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "refresh_token", req.TokenTypeHint)

	_, err = v.Validate(ctx, url.Values{}, nil)
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))

	_, err = v.Validate(ctx, url.Values{"token": {"abc"}, "token_type_hint": {"id_token"}}, nil)
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorUnsupportedTokenType, ""))
}

func TestDeviceValidators(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("scopes default to the client's allowed scopes", func(t *testing.T) {
		req, err := f.device.Validate(ctx, url.Values{}, f.client(t, deviceClientID))
		require.NoError(t, err)
		require.Equal(t, []string{"openid", "api1"}, req.RequestedScopes)
		require.True(t, req.IsOpenIDRequest)
	})

	t.Run("client without the device grant", func(t *testing.T) {
		_, err := f.device.Validate(ctx, url.Values{"scope": {"api1"}}, f.client(t, m2mClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorUnauthorizedClient, ""))
	})

	t.Run("user code lifecycle", func(t *testing.T) {
		_, userCode, err := f.manager.StoreDeviceAuthorization(ctx, &grants.DeviceCode{
			ClientID:        deviceClientID,
			Lifetime:        5 * time.Minute,
			Interval:        5 * time.Second,
			RequestedScopes: []string{"openid", "api1"},
		})
		require.NoError(t, err)

		pending, err := f.approval.Validate(ctx, userCode)
		require.NoError(t, err)
		require.Equal(t, deviceClientID, pending.Client.ID)
		require.Equal(t, []string{"api1"}, pending.Resources.Audiences())

		err = f.approval.Approve(ctx, userCode, nil, []string{"api1"})
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorLoginRequired, ""))

		require.NoError(t, f.approval.Approve(ctx, userCode, f.alice(), []string{"api1"}))
		err = f.approval.Approve(ctx, userCode, f.alice(), []string{"api1"})
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})

	t.Run("unknown user code", func(t *testing.T) {
		_, err := f.approval.Validate(ctx, "000000000")
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})
}

func TestEndSessionRequestValidator(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session := &oauthmodel.Session{SubjectID: aliceID, SessionID: "session-1", AuthTime: f.now, ClientIDs: []string{webClientID}}

	t.Run("registered post logout uri is kept with state", func(t *testing.T) {
		params := url.Values{
			"id_token_hint":            {f.issueIdentityToken(t, f.alice())},
			"post_logout_redirect_uri": {testLogoutURI},
			"state":                    {"abc"},
		}
		req, err := f.endSession.Validate(ctx, params, session)
		require.NoError(t, err)
		require.Equal(t, testLogoutURI, req.PostLogoutRedirectURI)
		require.Equal(t, "abc", req.State)
		require.Equal(t, []string{webClientID}, req.ClientIDs)
		require.Equal(t, aliceID, req.Subject.ID)
	})

	t.Run("unregistered post logout uri is dropped", func(t *testing.T) {
		params := url.Values{
			"id_token_hint":            {f.issueIdentityToken(t, f.alice())},
			"post_logout_redirect_uri": {"https://attacker.example.com"},
			"state":                    {"abc"},
		}
		req, err := f.endSession.Validate(ctx, params, session)
		require.NoError(t, err)
		require.Empty(t, req.PostLogoutRedirectURI)
		require.Empty(t, req.State)
	})

	t.Run("client id without hint means no redirect", func(t *testing.T) {
		params := url.Values{
			"client_id":                {webClientID},
			"post_logout_redirect_uri": {testLogoutURI},
			"state":                    {"abc"},
		}
		req, err := f.endSession.Validate(ctx, params, session)
		require.NoError(t, err)
		require.Equal(t, webClientID, req.Client.ID)
		require.Empty(t, req.PostLogoutRedirectURI)
		require.Empty(t, req.State)
	})

	t.Run("no client means no redirect", func(t *testing.T) {
		req, err := f.endSession.Validate(ctx, url.Values{"post_logout_redirect_uri": {testLogoutURI}}, session)
		require.NoError(t, err)
		require.Empty(t, req.PostLogoutRedirectURI)
	})

	t.Run("expired hint is still accepted", func(t *testing.T) {
		hint := f.issueIdentityToken(t, f.alice())
		f.advance(time.Hour)
		defer f.advance(-time.Hour)
		_, err := f.endSession.Validate(ctx, url.Values{"id_token_hint": {hint}}, session)
		require.NoError(t, err)
	})

	t.Run("hint for another user is rejected", func(t *testing.T) {
		hint := f.issueIdentityToken(t, &oauthmodel.Subject{ID: "mallory", AuthTime: f.now})
		_, err := f.endSession.Validate(ctx, url.Values{"id_token_hint": {hint}}, session)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})

	t.Run("callback lists the clients to notify", func(t *testing.T) {
		cb, err := f.callback.Validate(ctx, &oauthmodel.LogoutNotification{
			SubjectID: aliceID,
			SessionID: "session-1",
			ClientIDs: []string{webClientID, m2mClientID, "gone"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"https://web.example.com/frontchannel?iss=https%3A%2F%2Fidp.example.com&sid=session-1"}, cb.FrontChannelLogoutURLs)
		require.Len(t, cb.BackChannelClients, 1)
		require.Equal(t, webClientID, cb.BackChannelClients[0].ID)
	})
}

func TestUserInfoRequestValidator(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		raw := f.issueAccessToken(t, webClientID, f.alice(), "openid", "profile")
		req, err := f.userInfo.Validate(ctx, raw)
		require.NoError(t, err)
		require.Equal(t, aliceID, req.SubjectID)
		require.ElementsMatch(t, []string{"openid", "profile"}, req.Scopes)
	})

	t.Run("token without openid", func(t *testing.T) {
		raw := f.issueAccessToken(t, m2mClientID, nil, "api1")
		_, err := f.userInfo.Validate(ctx, raw)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInsufficientScope, ""))
	})

	t.Run("inactive user", func(t *testing.T) {
		raw := f.issueAccessToken(t, webClientID, &oauthmodel.Subject{ID: bobID, AuthTime: f.now}, "openid")
		_, err := f.userInfo.Validate(ctx, raw)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidToken, ""))
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := f.userInfo.Validate(ctx, "")
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidToken, ""))
	})
}
