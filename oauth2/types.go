package oauth2

import (
	"sort"
	"strings"
)

// ResponseType represents a single OAuth 2.0 / OIDC response type value.
// The response_type parameter is a space delimited combination of these values.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Used in: Authorization Code Flow and the code part of the hybrid flow
	// Returns an authorization code that must be exchanged for tokens at the token endpoint.
	// Example: /connect/authorize?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"

	// IDTokenResponseType returns an identity token directly from the authorization endpoint.
	// Used in: Implicit and hybrid flows
	// Requires: nonce parameter and the openid scope
	IDTokenResponseType ResponseType = "id_token"

	// TokenResponseType returns an access token directly from the authorization endpoint.
	// Used in: Implicit and hybrid flows
	// Security: The token travels in the front channel, query response mode is not allowed
	TokenResponseType ResponseType = "token"
)

// Supported response_type combinations, normalised with values sorted alphabetically.
const (
	ResponseTypesCode             = "code"
	ResponseTypesIDToken          = "id_token"
	ResponseTypesIDTokenToken     = "id_token token"
	ResponseTypesCodeIDToken      = "code id_token"
	ResponseTypesCodeToken        = "code token"
	ResponseTypesCodeIDTokenToken = "code id_token token"
)

// NormaliseResponseType sorts the space delimited values so "token id_token" equals "id_token token".
func NormaliseResponseType(raw string) string {
	parts := strings.Fields(raw)
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// ResponseTypeGrantTypes maps each supported response_type to the grant type a client
// must be allowed to use it.
var ResponseTypeGrantTypes = map[string]GrantType{
	ResponseTypesCode:             AuthorizationCodeGrant,
	ResponseTypesIDToken:          ImplicitGrant,
	ResponseTypesIDTokenToken:     ImplicitGrant,
	ResponseTypesCodeIDToken:      HybridGrant,
	ResponseTypesCodeToken:        HybridGrant,
	ResponseTypesCodeIDTokenToken: HybridGrant,
}

// ResponseModeType denotes how the authorization response parameters are returned to the client.
// Determines the mechanism used to send the auth code/tokens/error back to the redirect_uri.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Used in: Standard Authorization Code Flow
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	// Security: Parameters visible in browser history and server logs
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Used in: Implicit and hybrid flows
	// Example: https://client.example.com/callback#id_token=...&state=xyz
	// Security: Fragment not sent to server, only accessible via JavaScript
	FragmentResponseMode ResponseModeType = "fragment"

	// FormPostResponseMode returns parameters via HTTP POST with auto-submitting HTML form.
	// Used in: Enhanced security scenarios, prevents exposure in URL
	// Security: Parameters not in URL, safer for browser history
	FormPostResponseMode ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to prevent authorization code interception attacks (especially for public clients).
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	// Server validates: SHA256(provided code_verifier) == stored code_challenge
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain means no hashing, code_verifier sent directly.
	// Server validates: provided code_verifier == stored code_challenge
	// Security: Weaker than S256, clients must opt in to allow it
	CodeMethodTypePlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint,
// or the flow a client is allowed to use at the authorization endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, redirect_uri, code_verifier (if PKCE)
	// Returns: access_token, id_token (openid), refresh_token (offline_access)
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Token request includes: client credentials, scope
	// Returns: access_token (no refresh_token or id_token)
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Returns: new access_token, id_token and, for one time refresh tokens, a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"

	// PasswordGrant is the resource owner password credentials grant.
	// Token request includes: username, password, scope
	PasswordGrant GrantType = "password"

	// DeviceCodeGrant polls for the outcome of a device authorization.
	// Token request includes: device_code
	// Returns: authorization_pending / slow_down / expired_token until approved
	DeviceCodeGrant GrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// ImplicitGrant is only valid at the authorization endpoint (id_token / id_token token).
	ImplicitGrant GrantType = "implicit"

	// HybridGrant is only valid at the authorization endpoint (code combined with tokens).
	HybridGrant GrantType = "hybrid"
)

// TokenTypeHint values accepted by the revocation and introspection endpoints.
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// Prompt values accepted at the authorization endpoint.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Standard scopes
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

const (
	TokenTypeBearer = "Bearer"
	// TokenTypeAccessTokenURN is returned as issued_token_type style metadata.
	TokenTypeAccessTokenURN = "urn:ietf:params:oauth:token-type:access_token"
)

// Client authentication methods advertised in discovery.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodTLSClientAuth     = "tls_client_auth"
	AuthMethodSelfSignedTLS     = "self_signed_tls_client_auth"
	AuthMethodNone              = "none"

	ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)
