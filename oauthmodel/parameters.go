package oauthmodel

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

// AuthorizeParameters holds the raw parameters of an authorize request.
// They are received as query parameters (GET) or form fields (POST) at /connect/authorize.
type AuthorizeParameters struct {
	// ClientID identifies the application requesting authorization.
	// Required: Yes
	// Validated against: clients.Client.ID, the client must be enabled
	ClientID string

	// ResponseType specifies what the authorization endpoint should return.
	// Required: Yes
	// Supported values: "code", "id_token", "id_token token", "code id_token", "code token",
	// "code id_token token". Values are space separated and order independent.
	ResponseType string

	// RedirectURI is where the authorization response will be sent.
	// Required: Yes, there is no default even when the client registered a single URI
	// Security: Must exactly match a pre-registered URI to prevent open redirects
	RedirectURI string

	// ResponseMode controls how the response is returned (query/fragment/form_post).
	// Required: No, defaults to "query" for code and "fragment" otherwise
	ResponseMode string

	// Scope is the space separated list of requested scopes.
	// Example: "openid profile api1"
	Scope string

	// State is echoed back to the client unmodified.
	// Security: CSRF protection on the client side
	State string

	// Nonce is copied into the identity token.
	// Required: Yes whenever an id_token is returned from the authorize endpoint
	Nonce string

	// CodeChallenge is the PKCE challenge derived from code_verifier.
	// Length: 43 to 128 characters
	CodeChallenge string

	// CodeChallengeMethod is "plain" or "S256". Defaults to "plain" when a challenge is sent
	// without a method.
	CodeChallengeMethod string

	// Prompt is a space separated list of "none", "login", "consent" and "select_account".
	Prompt string

	// MaxAge is the allowable elapsed time in seconds since the user last authenticated.
	MaxAge string

	LoginHint   string
	IDTokenHint string
	UILocales   string
	ACRValues   string

	// Resource lists the resource indicators, the API resources the token is meant for.
	Resource []string
}

// AuthorizeParametersFromValues reads authorize parameters from a query string or form.
func AuthorizeParametersFromValues(v url.Values) AuthorizeParameters {
	return AuthorizeParameters{
		ClientID:            v.Get("client_id"),
		ResponseType:        v.Get("response_type"),
		RedirectURI:         v.Get("redirect_uri"),
		ResponseMode:        v.Get("response_mode"),
		Scope:               v.Get("scope"),
		State:               v.Get("state"),
		Nonce:               v.Get("nonce"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
		Prompt:              v.Get("prompt"),
		MaxAge:              v.Get("max_age"),
		LoginHint:           v.Get("login_hint"),
		IDTokenHint:         v.Get("id_token_hint"),
		UILocales:           v.Get("ui_locales"),
		ACRValues:           v.Get("acr_values"),
		Resource:            v["resource"],
	}
}

// Values converts the parameters back into their wire form, used to resume an authorize
// request after login or consent.
func (p AuthorizeParameters) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("client_id", p.ClientID)
	set("response_type", p.ResponseType)
	set("redirect_uri", p.RedirectURI)
	set("response_mode", p.ResponseMode)
	set("scope", p.Scope)
	set("state", p.State)
	set("nonce", p.Nonce)
	set("code_challenge", p.CodeChallenge)
	set("code_challenge_method", p.CodeChallengeMethod)
	set("prompt", p.Prompt)
	set("max_age", p.MaxAge)
	set("login_hint", p.LoginHint)
	set("id_token_hint", p.IDTokenHint)
	set("ui_locales", p.UILocales)
	set("acr_values", p.ACRValues)
	for _, r := range p.Resource {
		v.Add("resource", r)
	}
	return v
}

// PromptModes splits the prompt parameter.
func (p AuthorizeParameters) PromptModes() []string {
	return strings.Fields(p.Prompt)
}

// MaxAgeSeconds parses max_age. ok is false when the parameter is absent; err is set when it
// is present but not a non-negative integer.
func (p AuthorizeParameters) MaxAgeSeconds() (age int, ok bool, err error) {
	if p.MaxAge == "" {
		return 0, false, nil
	}
	age, err = strconv.Atoi(p.MaxAge)
	if err != nil || age < 0 {
		return 0, true, oauth2.NewError(oauth2.ErrorInvalidRequest, "invalid max_age")
	}
	return age, true, nil
}
