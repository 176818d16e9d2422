package grants

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Kind namespaces persisted grants. It is part of every store key so handles never
// collide across grant kinds.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindRefreshToken      Kind = "refresh_token"
	KindReferenceToken    Kind = "reference_token"
	KindDeviceCode        Kind = "device_code"
	KindUserCode          Kind = "user_code"
	KindDevicePoll        Kind = "device_poll"
	KindUserConsent       Kind = "user_consent"
	KindClientAssertion   Kind = "client_assertion"
)

// PersistedGrant is the envelope every grant is stored in. Data holds the JSON encoded grant.
type PersistedGrant struct {
	Key          string     `json:"key"`
	Kind         Kind       `json:"kind"`
	SubjectID    string     `json:"subjectId,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	ClientID     string     `json:"clientId"`
	CreationTime time.Time  `json:"creationTime"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	ConsumedTime *time.Time `json:"consumedTime,omitempty"`
	Data         []byte     `json:"data"`
}

// Expired reports whether the grant has passed its expiration at now.
func (g *PersistedGrant) Expired(now time.Time) bool {
	return g.Expiration != nil && !now.Before(*g.Expiration)
}

// Filter selects grants for RemoveAll / GetAll. Empty fields match anything, but at least
// one of SubjectID or ClientID must be set.
type Filter struct {
	SubjectID string
	ClientID  string
	SessionID string
	Kind      Kind
}

func (f Filter) Validate() error {
	if f.SubjectID == "" && f.ClientID == "" {
		return fmt.Errorf("[grants.Filter] subject or client id is required")
	}
	return nil
}

func (f Filter) Matches(g *PersistedGrant) bool {
	if f.SubjectID != "" && g.SubjectID != f.SubjectID {
		return false
	}
	if f.ClientID != "" && g.ClientID != f.ClientID {
		return false
	}
	if f.SessionID != "" && g.SessionID != f.SessionID {
		return false
	}
	if f.Kind != "" && g.Kind != f.Kind {
		return false
	}
	return true
}

// Store persists grants keyed by opaque (hashed) keys.
//
// Get and Take never return a grant whose expiration has passed, whether or not it has been
// swept yet; they return errors.ErrNotFound instead. Take removes and returns the grant in a
// single atomic step: of any number of concurrent Take calls for one key, exactly one
// receives the grant. Remove of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (*PersistedGrant, error)
	Set(ctx context.Context, grant *PersistedGrant) error
	Remove(ctx context.Context, key string) error
	Take(ctx context.Context, key string) (*PersistedGrant, error)
	GetAll(ctx context.Context, filter Filter) ([]*PersistedGrant, error)
	RemoveAll(ctx context.Context, filter Filter) (int, error)
	// RemoveExpired deletes at most batchSize expired grants and reports how many it removed.
	RemoveExpired(ctx context.Context, batchSize int) (int, error)
}

// HashKey derives the store key for a handle. The handle itself is never persisted.
func HashKey(handle string, kind Kind) string {
	sum := sha256.Sum256([]byte(handle + ":" + string(kind)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
