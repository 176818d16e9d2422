package clients

import (
	"context"
	"time"
)

// Repo is the client configuration store. Get returns errors.ErrNotFound for unknown ids.
type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context, offset, limit int) ([]*Client, error)
}

// Lifetimes are applied to clients that leave a lifetime unset.
type Lifetimes struct {
	AccessToken          time.Duration
	IdentityToken        time.Duration
	AuthorizationCode    time.Duration
	DeviceCode           time.Duration
	AbsoluteRefreshToken time.Duration
	SlidingRefreshToken  time.Duration
	PollingInterval      time.Duration
}

// ApplyDefaults fills zero valued lifetimes and policies.
func ApplyDefaults(c *Client, d Lifetimes) {
	setIfZero(&c.AccessTokenLifetime, d.AccessToken)
	setIfZero(&c.IdentityTokenLifetime, d.IdentityToken)
	setIfZero(&c.AuthorizationCodeLifetime, d.AuthorizationCode)
	setIfZero(&c.DeviceCodeLifetime, d.DeviceCode)
	setIfZero(&c.AbsoluteRefreshTokenLifetime, d.AbsoluteRefreshToken)
	setIfZero(&c.SlidingRefreshTokenLifetime, d.SlidingRefreshToken)
	setIfZero(&c.PollingInterval, d.PollingInterval)
	if c.AccessTokenType == "" {
		c.AccessTokenType = AccessTokenTypeJWT
	}
	if c.RefreshTokenUsage == "" {
		c.RefreshTokenUsage = RefreshTokenOneTimeOnly
	}
	if c.RefreshTokenExpiration == "" {
		c.RefreshTokenExpiration = RefreshTokenAbsolute
	}
}

func setIfZero(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}
