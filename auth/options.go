package auth

import "time"

// InputLengths bounds raw protocol parameters before they are interpreted.
type InputLengths struct {
	ClientID            int
	Scope               int
	RedirectURI         int
	State               int
	Nonce               int
	UILocale            int
	LoginHint           int
	ACRValues           int
	GrantType           int
	UserName            int
	Password            int
	AuthorizationCode   int
	RefreshToken        int
	DeviceCode          int
	UserCode            int
	ResourceIndicator   int
	CodeChallengeMinLen int
	CodeChallengeMaxLen int
	CodeVerifierMinLen  int
	CodeVerifierMaxLen  int
}

// DefaultInputLengths returns the limits applied when none are configured.
func DefaultInputLengths() InputLengths {
	return InputLengths{
		ClientID:            100,
		Scope:               300,
		RedirectURI:         400,
		State:               2000,
		Nonce:               300,
		UILocale:            100,
		LoginHint:           100,
		ACRValues:           300,
		GrantType:           100,
		UserName:            100,
		Password:            100,
		AuthorizationCode:   100,
		RefreshToken:        100,
		DeviceCode:          100,
		UserCode:            100,
		ResourceIndicator:   400,
		CodeChallengeMinLen: 43,
		CodeChallengeMaxLen: 128,
		CodeVerifierMinLen:  43,
		CodeVerifierMaxLen:  128,
	}
}

// Options is the immutable configuration of the request validators.
type Options struct {
	Issuer       string
	InputLengths InputLengths
	// DefaultConsentLifetime applies when a client remembers consent without its own lifetime.
	DefaultConsentLifetime time.Duration
}

func DefaultOptions(issuer string) Options {
	return Options{
		Issuer:                 issuer,
		InputLengths:           DefaultInputLengths(),
		DefaultConsentLifetime: 30 * 24 * time.Hour,
	}
}

// withDefaults fills every zero limit and lifetime from the defaults.
func (o Options) withDefaults() Options {
	d := DefaultInputLengths()
	l := &o.InputLengths
	for _, f := range []struct {
		v   *int
		def int
	}{
		{&l.ClientID, d.ClientID},
		{&l.Scope, d.Scope},
		{&l.RedirectURI, d.RedirectURI},
		{&l.State, d.State},
		{&l.Nonce, d.Nonce},
		{&l.UILocale, d.UILocale},
		{&l.LoginHint, d.LoginHint},
		{&l.ACRValues, d.ACRValues},
		{&l.GrantType, d.GrantType},
		{&l.UserName, d.UserName},
		{&l.Password, d.Password},
		{&l.AuthorizationCode, d.AuthorizationCode},
		{&l.RefreshToken, d.RefreshToken},
		{&l.DeviceCode, d.DeviceCode},
		{&l.UserCode, d.UserCode},
		{&l.ResourceIndicator, d.ResourceIndicator},
		{&l.CodeChallengeMinLen, d.CodeChallengeMinLen},
		{&l.CodeChallengeMaxLen, d.CodeChallengeMaxLen},
		{&l.CodeVerifierMinLen, d.CodeVerifierMinLen},
		{&l.CodeVerifierMaxLen, d.CodeVerifierMaxLen},
	} {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if o.DefaultConsentLifetime <= 0 {
		o.DefaultConsentLifetime = 30 * 24 * time.Hour
	}
	return o
}
