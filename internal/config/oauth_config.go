package config

import "time"

// OAuthConfig holds the lifetimes applied to clients that do not set their own.
type OAuthConfig interface {
	GetAuthorizationCodeLifetime() time.Duration
	GetAccessTokenLifetime() time.Duration
	GetIdentityTokenLifetime() time.Duration
	GetAbsoluteRefreshTokenLifetime() time.Duration
	GetSlidingRefreshTokenLifetime() time.Duration
	GetDeviceCodeLifetime() time.Duration
	GetDevicePollingInterval() time.Duration
	GetConsentLifetime() time.Duration
}

type OAuth struct {
	AuthorizationCodeLifetime    time.Duration `env:"AUTHORIZATION_CODE_LIFETIME" envDefault:"5m"`
	AccessTokenLifetime          time.Duration `env:"ACCESS_TOKEN_LIFETIME" envDefault:"1h"`
	IdentityTokenLifetime        time.Duration `env:"IDENTITY_TOKEN_LIFETIME" envDefault:"5m"`
	AbsoluteRefreshTokenLifetime time.Duration `env:"ABSOLUTE_REFRESH_TOKEN_LIFETIME" envDefault:"720h"`
	SlidingRefreshTokenLifetime  time.Duration `env:"SLIDING_REFRESH_TOKEN_LIFETIME" envDefault:"360h"`
	DeviceCodeLifetime           time.Duration `env:"DEVICE_CODE_LIFETIME" envDefault:"5m"`
	DevicePollingInterval        time.Duration `env:"DEVICE_POLLING_INTERVAL" envDefault:"5s"`
	ConsentLifetime              time.Duration `env:"CONSENT_LIFETIME" envDefault:"720h"`
}

var _ OAuthConfig = OAuth{}

func (o OAuth) GetAuthorizationCodeLifetime() time.Duration {
	return o.AuthorizationCodeLifetime
}

func (o OAuth) GetAccessTokenLifetime() time.Duration {
	return o.AccessTokenLifetime
}

func (o OAuth) GetIdentityTokenLifetime() time.Duration {
	return o.IdentityTokenLifetime
}

func (o OAuth) GetAbsoluteRefreshTokenLifetime() time.Duration {
	return o.AbsoluteRefreshTokenLifetime
}

func (o OAuth) GetSlidingRefreshTokenLifetime() time.Duration {
	return o.SlidingRefreshTokenLifetime
}

func (o OAuth) GetDeviceCodeLifetime() time.Duration {
	return o.DeviceCodeLifetime
}

func (o OAuth) GetDevicePollingInterval() time.Duration {
	return o.DevicePollingInterval
}

func (o OAuth) GetConsentLifetime() time.Duration {
	return o.ConsentLifetime
}
