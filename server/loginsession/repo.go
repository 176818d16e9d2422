package loginsession

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

// Repo stores the login sessions referenced by the session cookie. Get returns
// errors.ErrNotFound for unknown or expired sessions.
type Repo interface {
	Upsert(ctx context.Context, cookieID string, session *oauthmodel.Session, ttl time.Duration) error
	Get(ctx context.Context, cookieID string) (*oauthmodel.Session, error)
	Delete(ctx context.Context, cookieID string) error
}
