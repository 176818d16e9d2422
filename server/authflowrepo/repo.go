package authflowrepo

import (
	"context"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

// DefaultTTL bounds how long interaction state survives between two browser requests.
const DefaultTTL = 10 * time.Minute

type Kind string

const (
	// KindAuthorize holds an authorize request waiting for login or consent.
	KindAuthorize Kind = "authorize"
	// KindError holds an error shown on the local error page.
	KindError Kind = "error"
	// KindLogout holds the sessions to notify once the user is signed out.
	KindLogout Kind = "logout"
)

// AuthFlowState is the state handed from one request of a browser interaction to the next.
type AuthFlowState struct {
	Kind Kind `json:"kind"`

	// Authorize is the raw authorize request to resume after login or consent.
	Authorize url.Values `json:"authorize,omitempty"`

	Error       *oauth2.Error `json:"error,omitempty"`
	ClientID    string        `json:"clientId,omitempty"`
	RedirectURI string        `json:"redirectUri,omitempty"`

	Logout                *oauthmodel.LogoutNotification `json:"logout,omitempty"`
	PostLogoutRedirectURI string                         `json:"postLogoutRedirectUri,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Repo is the interaction store. Read returns errors.ErrNotFound for unknown or expired ids.
type Repo interface {
	Write(ctx context.Context, state *AuthFlowState) (string, error)
	Read(ctx context.Context, id string) (*AuthFlowState, error)
	Clear(ctx context.Context, id string) error
}
