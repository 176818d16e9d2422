package oauthmodel

import (
	"net/url"
)

// TokenParameters holds the form body of a token request.
type TokenParameters struct {
	// GrantType selects the grant: authorization_code, client_credentials, password,
	// refresh_token, the device code URN or a registered extension grant.
	GrantType string

	// Code is the authorization code received from the authorization endpoint.
	// Required: Yes (only for authorization_code grant)
	// Usage: Exchanged once for tokens, then becomes invalid
	Code string

	// RedirectURI must equal the redirect_uri of the authorize request that issued Code.
	RedirectURI string

	// CodeVerifier is the PKCE code verifier that matches the code_challenge.
	// Validation: Server compares SHA256(code_verifier) with stored code_challenge
	CodeVerifier string

	// RefreshToken is used to obtain new access tokens without re-authentication.
	// Behavior: Rotated for one time only clients, the old handle becomes invalid
	RefreshToken string

	// Scope optionally narrows the scopes of a refresh or client credentials request.
	Scope string

	// Username and Password are the resource owner credentials (password grant).
	// Security: Never log or expose Password
	Username string
	Password string

	// DeviceCode is the device_code returned by the device authorization endpoint.
	DeviceCode string

	Resource []string

	// Raw keeps every form field for extension grants.
	Raw url.Values
}

func TokenParametersFromValues(v url.Values) TokenParameters {
	return TokenParameters{
		GrantType:    v.Get("grant_type"),
		Code:         v.Get("code"),
		RedirectURI:  v.Get("redirect_uri"),
		CodeVerifier: v.Get("code_verifier"),
		RefreshToken: v.Get("refresh_token"),
		Scope:        v.Get("scope"),
		Username:     v.Get("username"),
		Password:     v.Get("password"),
		DeviceCode:   v.Get("device_code"),
		Resource:     v["resource"],
		Raw:          v,
	}
}
