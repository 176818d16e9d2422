package config

import (
	"strings"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetIssuer() string
	GetSeedFile() string
	GetSigningKeyFile() string
	GetSigningAlgorithm() string
}

type EnvVars struct {
	Port             string `env:"PORT" envDefault:"8080"`
	AppName          string `env:"APP_NAME" envDefault:"Go OIDC Provider"`
	Env              string `env:"ENV" envDefault:"DEV"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	Issuer           string `env:"ISSUER" envDefault:"http://localhost:8080"`
	SeedFile         string `env:"SEED_FILE" envDefault:"./data/seed.yaml"`
	SigningKeyFile   string `env:"SIGNING_KEY_FILE"`
	SigningAlgorithm string `env:"SIGNING_ALG" envDefault:"RS256"`
}

var _ EnvConfig = EnvVars{}

// GetPort returns the listen address, e.g. ":8080".
func (e EnvVars) GetPort() string {
	if strings.HasPrefix(e.Port, ":") {
		return e.Port
	}
	return ":" + e.Port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetIssuer returns the issuer identifier without a trailing slash. Every endpoint URL is
// derived from it.
func (e EnvVars) GetIssuer() string {
	return strings.TrimSuffix(e.Issuer, "/")
}

func (e EnvVars) GetSeedFile() string {
	return e.SeedFile
}

// GetSigningKeyFile is the PEM private key to sign with. Empty means a key is generated at
// startup and lost on restart.
func (e EnvVars) GetSigningKeyFile() string {
	return e.SigningKeyFile
}

func (e EnvVars) GetSigningAlgorithm() string {
	return e.SigningAlgorithm
}
