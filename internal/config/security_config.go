package config

import "time"

type SecurityConfig interface {
	GetMaxSessionAge() time.Duration
	GetSessionCookieName() string
	GetSecureCookies() bool
	GetRateLimit() float64
	GetRateBurst() int
}

type Security struct {
	MaxSessionAge     time.Duration `env:"MAX_SESSION_AGE" envDefault:"8h"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"idsrv.session"`
	SecureCookies     bool          `env:"SECURE_COOKIES" envDefault:"true"`
	// RateLimit is requests per second per remote address on the back channel endpoints.
	// Zero disables limiting.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"20"`
	RateBurst int     `env:"RATE_BURST" envDefault:"40"`
}

var _ SecurityConfig = Security{}

func (s Security) GetMaxSessionAge() time.Duration {
	return s.MaxSessionAge
}

func (s Security) GetSessionCookieName() string {
	return s.SessionCookieName
}

func (s Security) GetSecureCookies() bool {
	return s.SecureCookies
}

func (s Security) GetRateLimit() float64 {
	return s.RateLimit
}

func (s Security) GetRateBurst() int {
	return s.RateBurst
}
