package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/stretchr/testify/require"
)

func codeParams(code, verifier string) oauthmodel.TokenParameters {
	return oauthmodel.TokenParameters{
		GrantType:    string(oauth2.AuthorizationCodeGrant),
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	}
}

func TestTokenRequestValidator_General(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("missing grant_type", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, oauthmodel.TokenParameters{}, f.client(t, m2mClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidRequest, ""))
	})

	t.Run("unknown grant_type", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, oauthmodel.TokenParameters{GrantType: "urn:example:unknown"}, f.client(t, m2mClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorUnsupportedGrantType, ""))
	})

	t.Run("grant type not allowed for the client", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, oauthmodel.TokenParameters{GrantType: string(oauth2.ClientCredentialsGrant)}, f.client(t, webClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorUnauthorizedClient, ""))
	})
}

func TestTokenRequestValidator_ClientCredentials(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	params := func(scope string) oauthmodel.TokenParameters {
		return oauthmodel.TokenParameters{GrantType: string(oauth2.ClientCredentialsGrant), Scope: scope}
	}

	t.Run("explicit scope", func(t *testing.T) {
		req, err := f.tokenReq.Validate(ctx, params("api1"), f.client(t, m2mClientID))
		require.NoError(t, err)
		require.Nil(t, req.Subject)
		require.Equal(t, []string{"api1"}, req.Resources.Audiences())
	})

	t.Run("defaults to every allowed api scope", func(t *testing.T) {
		req, err := f.tokenReq.Validate(ctx, params(""), f.client(t, m2mClientID))
		require.NoError(t, err)
		require.Equal(t, []string{"api1", "api2"}, req.Resources.Audiences())
	})

	t.Run("scope outside the client's allowed scopes", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, params("openid"), f.client(t, m2mClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidScope, ""))
	})

	t.Run("resource indicator narrows the audience", func(t *testing.T) {
		p := params("api1 api2.read")
		p.Resource = []string{"api2"}
		req, err := f.tokenReq.Validate(ctx, p, f.client(t, m2mClientID))
		require.NoError(t, err)
		require.Equal(t, []string{"api2"}, req.Resources.Audiences())
	})

	t.Run("unknown resource indicator", func(t *testing.T) {
		p := params("api1")
		p.Resource = []string{"api9"}
		_, err := f.tokenReq.Validate(ctx, p, f.client(t, m2mClientID))
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidTarget, ""))
	})
}

func TestTokenRequestValidator_AuthorizationCode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	web := f.client(t, webClientID)

	t.Run("redeems once", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid", "api1")
		req, err := f.tokenReq.Validate(ctx, codeParams(code, testVerifier), web)
		require.NoError(t, err)
		require.Equal(t, aliceID, req.Subject.ID)
		require.Equal(t, []string{"pwd"}, req.Subject.AMR)
		require.Equal(t, code, req.AuthorizationCodeHandle)
		require.True(t, req.Resources.HasOpenID())

		_, err = f.tokenReq.Validate(ctx, codeParams(code, testVerifier), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("wrong verifier burns the code", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid")
		_, err := f.tokenReq.Validate(ctx, codeParams(code, "wrong-verifier-wrong-verifier-wrong-verifier"), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))

		_, err = f.tokenReq.Validate(ctx, codeParams(code, testVerifier), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("missing verifier", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid")
		_, err := f.tokenReq.Validate(ctx, codeParams(code, ""), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("redirect_uri mismatch", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid")
		p := codeParams(code, testVerifier)
		p.RedirectURI = "https://web.example.com/other"
		_, err := f.tokenReq.Validate(ctx, p, web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("code issued to another client", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid")
		other := f.client(t, webClientID)
		other.Client.ID = "impostor"
		other.Client.AllowedGrantTypes = web.Client.AllowedGrantTypes
		_, err := f.tokenReq.Validate(ctx, codeParams(code, testVerifier), other)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("resource must have been requested at authorization", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid", "api1", "api2.read")
		p := codeParams(code, testVerifier)
		p.Resource = []string{"api2"}
		_, err := f.tokenReq.Validate(ctx, p, web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidTarget, ""))
	})

	t.Run("concurrent redemption succeeds exactly once", func(t *testing.T) {
		code := f.storeCode(t, testVerifier, "openid", "api1")
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			failures  atomic.Int32
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.tokenReq.Validate(ctx, codeParams(code, testVerifier), web)
				if err == nil {
					successes.Add(1)
					return
				}
				if pe, ok := oauth2.AsError(err); ok && pe.Code == oauth2.ErrorInvalidGrant {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), successes.Load())
		require.Equal(t, int32(9), failures.Load())
	})
}

func TestTokenRequestValidator_Password(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	ropc := f.client(t, ropcClientID)
	params := func(user, password string) oauthmodel.TokenParameters {
		return oauthmodel.TokenParameters{GrantType: string(oauth2.PasswordGrant), Username: user, Password: password, Scope: "openid api1"}
	}

	t.Run("valid credentials", func(t *testing.T) {
		req, err := f.tokenReq.Validate(ctx, params("alice", testPassword), ropc)
		require.NoError(t, err)
		require.Equal(t, aliceID, req.Subject.ID)
		require.Equal(t, []string{"pwd"}, req.Subject.AMR)
		require.Equal(t, "alice", req.UserName)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, params("alice", "nope"), ropc)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("blocked user", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, params("bob", testPassword), ropc)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("disabled without a password validator", func(t *testing.T) {
		v, err := auth.NewTokenRequestValidator(f.opts, f.manager, f.validator, f.scopes, f.profile)
		require.NoError(t, err)
		_, err = v.Validate(ctx, params("alice", testPassword), ropc)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorUnsupportedGrantType, ""))
	})
}

func TestTokenRequestValidator_RefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	web := f.client(t, webClientID)

	store := func(t *testing.T) string {
		t.Helper()
		handle, err := f.manager.StoreRefreshToken(ctx, &grants.RefreshToken{
			ClientID:         webClientID,
			SubjectID:        aliceID,
			SessionID:        "session-1",
			Lifetime:         24 * time.Hour,
			AuthorizedScopes: []string{"openid", "api1", "offline_access"},
			AccessToken:      grants.Token{ClientID: webClientID, SubjectID: aliceID, AuthTime: f.now, AMR: []string{"pwd"}},
		})
		require.NoError(t, err)
		return handle
	}
	params := func(handle, scope string) oauthmodel.TokenParameters {
		return oauthmodel.TokenParameters{GrantType: string(oauth2.RefreshTokenGrant), RefreshToken: handle, Scope: scope}
	}

	t.Run("one time token is consumed", func(t *testing.T) {
		handle := store(t)
		req, err := f.tokenReq.Validate(ctx, params(handle, ""), web)
		require.NoError(t, err)
		require.Equal(t, aliceID, req.Subject.ID)
		require.Equal(t, handle, req.RefreshTokenHandle)
		require.True(t, req.Resources.OfflineAccess)

		_, err = f.tokenReq.Validate(ctx, params(handle, ""), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("scope can be narrowed but not widened", func(t *testing.T) {
		req, err := f.tokenReq.Validate(ctx, params(store(t), "openid"), web)
		require.NoError(t, err)
		require.Equal(t, []string{"openid"}, req.RequestedScopes)

		_, err = f.tokenReq.Validate(ctx, params(store(t), "openid api2.read"), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidScope, ""))
	})

	t.Run("unknown handle", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, params("unknown", ""), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("blocked user", func(t *testing.T) {
		handle := store(t)
		require.NoError(t, f.users.SetBlocked(ctx, aliceID, true))
		defer func() { require.NoError(t, f.users.SetBlocked(ctx, aliceID, false)) }()
		_, err := f.tokenReq.Validate(ctx, params(handle, ""), web)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})
}

func TestTokenRequestValidator_DeviceCode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	device := f.client(t, deviceClientID)

	start := func(t *testing.T) (string, string) {
		t.Helper()
		deviceCode, userCode, err := f.manager.StoreDeviceAuthorization(ctx, &grants.DeviceCode{
			ClientID:        deviceClientID,
			Lifetime:        5 * time.Minute,
			Interval:        5 * time.Second,
			RequestedScopes: []string{"openid", "api1"},
			IsOpenID:        true,
		})
		require.NoError(t, err)
		return deviceCode, userCode
	}
	params := func(deviceCode string) oauthmodel.TokenParameters {
		return oauthmodel.TokenParameters{GrantType: string(oauth2.DeviceCodeGrant), DeviceCode: deviceCode}
	}

	t.Run("pending, slow down, approved, redeemed once", func(t *testing.T) {
		deviceCode, userCode := start(t)

		_, err := f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorAuthorizationPending, ""))

		_, err = f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorSlowDown, ""))

		require.NoError(t, f.approval.Approve(ctx, userCode, f.alice(), []string{"api1"}))
		f.advance(6 * time.Second)

		req, err := f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.NoError(t, err)
		require.Equal(t, aliceID, req.Subject.ID)
		require.ElementsMatch(t, []string{"openid", "api1"}, req.RequestedScopes)

		f.advance(6 * time.Second)
		_, err = f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})

	t.Run("denied", func(t *testing.T) {
		deviceCode, userCode := start(t)
		require.NoError(t, f.approval.Deny(ctx, userCode, f.alice()))
		_, err := f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorAccessDenied, ""))
	})

	t.Run("expired", func(t *testing.T) {
		deviceCode, _ := start(t)
		f.advance(6 * time.Minute)
		_, err := f.tokenReq.Validate(ctx, params(deviceCode), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorExpiredToken, ""))
	})

	t.Run("unknown device code", func(t *testing.T) {
		_, err := f.tokenReq.Validate(ctx, params("unknown"), device)
		require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))
	})
}

type delegationGrant struct{}

func (delegationGrant) GrantType() string { return "delegation" }

func (delegationGrant) Validate(_ context.Context, req *oauthmodel.ExtensionGrantRequest) (*oauthmodel.ExtensionGrantResult, error) {
	if req.Raw.Get("token") != "upstream" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "invalid upstream token")
	}
	return &oauthmodel.ExtensionGrantResult{SubjectID: aliceID, AMR: []string{"delegation"}, CustomResponse: map[string]any{"upstream": true}}, nil
}

func TestTokenRequestValidator_ExtensionGrant(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	registry, err := auth.NewExtensionGrantRegistry(delegationGrant{})
	require.NoError(t, err)
	v, err := auth.NewTokenRequestValidator(f.opts, f.manager, f.validator, f.scopes, f.profile, auth.WithExtensionGrants(registry))
	require.NoError(t, err)

	client := f.client(t, m2mClientID)
	client.Client.AllowedGrantTypes = append(client.Client.AllowedGrantTypes, "delegation")

	p := oauthmodel.TokenParametersFromValues(map[string][]string{"grant_type": {"delegation"}, "token": {"upstream"}, "scope": {"api1"}})
	req, err := v.Validate(ctx, p, client)
	require.NoError(t, err)
	require.Equal(t, aliceID, req.Subject.ID)
	require.Equal(t, map[string]any{"upstream": true}, req.CustomResponse)

	p = oauthmodel.TokenParametersFromValues(map[string][]string{"grant_type": {"delegation"}, "token": {"forged"}})
	_, err = v.Validate(ctx, p, client)
	require.ErrorIs(t, err, oauth2.NewError(oauth2.ErrorInvalidGrant, ""))

	require.Contains(t, v.GrantTypes(), "delegation")
}
