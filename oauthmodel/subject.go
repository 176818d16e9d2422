package oauthmodel

import (
	"time"
)

// Subject is the authenticated end-user as handed to the core by the login collaborator.
type Subject struct {
	ID        string
	SessionID string
	AuthTime  time.Time
	AMR       []string
	// IdP names the identity provider the user signed in with, "local" for the built-in login.
	IdP string
}

// IsAuthenticated reports whether a user is signed in.
func (s *Subject) IsAuthenticated() bool {
	return s != nil && s.ID != ""
}
