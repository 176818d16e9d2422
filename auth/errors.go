package auth

import (
	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

// AuthorizeError is a failed authorize request. When RedirectURI is empty there is no safe
// place to send the client and the error must be shown on a local error page.
type AuthorizeError struct {
	Err          *oauth2.Error
	ClientID     string
	RedirectURI  string
	ResponseMode oauth2.ResponseModeType
	State        string
}

func (e *AuthorizeError) Error() string {
	return e.Err.Error()
}

func (e *AuthorizeError) Unwrap() error {
	return e.Err
}

// IsClientFacing reports whether the error is delivered to the client's redirect_uri.
func (e *AuthorizeError) IsClientFacing() bool {
	return e.RedirectURI != ""
}

// Response converts a client facing error into the redirect parameters.
func (e *AuthorizeError) Response() *oauth2.AuthorizeResponse {
	return &oauth2.AuthorizeResponse{
		RedirectURI:  e.RedirectURI,
		ResponseMode: e.ResponseMode,
		State:        e.State,
		Error:        e.Err,
	}
}

func invalidRequest(description string) *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidRequest, description)
}

func invalidGrant(description string) *oauth2.Error {
	return oauth2.NewError(oauth2.ErrorInvalidGrant, description)
}
