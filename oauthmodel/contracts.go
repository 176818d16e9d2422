package oauthmodel

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/clients"
)

// Claim is a single user claim.
type Claim struct {
	Type  string
	Value any
}

// ProfileService supplies user claims and account state.
type ProfileService interface {
	// GetClaims returns the claims of subjectID restricted to claimTypes.
	GetClaims(ctx context.Context, subjectID string, claimTypes []string) ([]Claim, error)
	// IsActive reports whether the user may still be issued tokens.
	IsActive(ctx context.Context, subjectID string) (bool, error)
}

// PasswordValidator verifies resource owner credentials for the password grant and returns
// the subject id.
type PasswordValidator interface {
	ValidateCredentials(ctx context.Context, username, password string) (string, error)
}

// ExtensionGrantRequest is what an extension grant validator receives.
type ExtensionGrantRequest struct {
	Client *clients.Client
	Raw    url.Values
}

// ExtensionGrantResult is either a subject (or client-only) grant or a protocol error.
type ExtensionGrantResult struct {
	SubjectID string
	AMR       []string
	// CustomResponse values are added to the token response.
	CustomResponse map[string]any
}

// ExtensionGrantValidator handles a custom grant type.
type ExtensionGrantValidator interface {
	GrantType() string
	Validate(ctx context.Context, req *ExtensionGrantRequest) (*ExtensionGrantResult, error)
}

// LogoutNotification describes the clients to notify about an ended session.
type LogoutNotification struct {
	SubjectID string
	SessionID string
	ClientIDs []string
}

// LogoutNotifier delivers back-channel logout notifications.
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context, n *LogoutNotification) error
}
