package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ClientResult is an authenticated client.
type ClientResult struct {
	Client       *clients.Client
	Method       string
	Confirmation string
}

// ClientAuthenticator authenticates clients. Every failure is reported as the same
// invalid_client error; the reason is only logged.
type ClientAuthenticator struct {
	clients    clients.Repo
	validators *Registry
	events     *events.Service
	nowTime    func() time.Time
	logger     zerolog.Logger
}

type Option func(*authOptions)

type authOptions struct {
	events  *events.Service
	nowTime func() time.Time
	logger  zerolog.Logger
}

func WithEvents(e *events.Service) Option {
	return func(o *authOptions) {
		o.events = e
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(o *authOptions) {
		o.nowTime = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *authOptions) {
		o.logger = l
	}
}

func applyOptions(opts []Option) authOptions {
	o := authOptions{nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewClientAuthenticator(repo clients.Repo, validators *Registry, opts ...Option) (*ClientAuthenticator, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewClientAuthenticator] client repo is required")
	}
	if validators == nil {
		return nil, fmt.Errorf("[NewClientAuthenticator] validator registry is required")
	}
	o := applyOptions(opts)
	return &ClientAuthenticator{clients: repo, validators: validators, events: o.events, nowTime: o.nowTime, logger: o.logger}, nil
}

var errInvalidClient = oauth2.NewError(oauth2.ErrorInvalidClient, "client authentication failed")

// Authenticate returns invalid_client for unknown, disabled or unauthenticated clients.
// Only errors that are not *oauth2.Error indicate internal failures.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, creds *Credentials) (*ClientResult, error) {
	if creds == nil || creds.ClientID == "" {
		a.fail(ctx, "", "no client credentials")
		return nil, errInvalidClient
	}
	client, err := a.clients.Get(ctx, creds.ClientID)
	if errors.Is(err, errors.ErrNotFound) {
		// Burn comparable time so unknown ids are not distinguishable.
		_ = HashSecret(creds.Secret)
		a.fail(ctx, creds.ClientID, "unknown client")
		return nil, errInvalidClient
	}
	if err != nil {
		return nil, fmt.Errorf("[ClientAuthenticator.Authenticate] %w", err)
	}
	if !client.Enabled {
		a.fail(ctx, creds.ClientID, "client is disabled")
		return nil, errInvalidClient
	}

	if creds.Type == CredentialNone {
		if !client.IsPublic() {
			a.fail(ctx, creds.ClientID, "client secret required")
			return nil, errInvalidClient
		}
		return a.succeed(ctx, client, creds, &Result{}), nil
	}

	res, err := validate(ctx, a.validators, client.ActiveSecrets(a.nowTime()), creds)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidCredentials) {
			a.fail(ctx, creds.ClientID, "invalid client secret")
			return nil, errInvalidClient
		}
		return nil, fmt.Errorf("[ClientAuthenticator.Authenticate] %w", err)
	}
	return a.succeed(ctx, client, creds, res), nil
}

func validate(ctx context.Context, registry *Registry, secrets []clients.Secret, creds *Credentials) (*Result, error) {
	for _, v := range registry.All() {
		res, err := v.Validate(ctx, secrets, creds)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errors.ErrInvalidCredentials) {
			return nil, err
		}
	}
	return nil, errors.ErrInvalidCredentials
}

func (a *ClientAuthenticator) succeed(ctx context.Context, client *clients.Client, creds *Credentials, res *Result) *ClientResult {
	a.logger.Debug().Str("client_id", client.ID).Str("method", creds.Method).Msg("client authenticated")
	a.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{Name: events.ClientAuthenticationSuccess, ClientID: client.ID, Details: map[string]any{"method": creds.Method}}
	})
	return &ClientResult{Client: client, Method: creds.Method, Confirmation: res.Confirmation}
}

func (a *ClientAuthenticator) fail(ctx context.Context, clientID, reason string) {
	a.logger.Warn().Str("event", events.ClientAuthenticationFailure).Str("client_id", clientID).Msg(reason)
	a.events.Raise(ctx, events.Failure, func() *events.Event {
		return &events.Event{Name: events.ClientAuthenticationFailure, ClientID: clientID, Message: reason}
	})
}

// APIAuthenticator authenticates API resources calling the introspection endpoint.
type APIAuthenticator struct {
	resources  resources.Repo
	validators *Registry
	events     *events.Service
	nowTime    func() time.Time
	logger     zerolog.Logger
}

func NewAPIAuthenticator(repo resources.Repo, validators *Registry, opts ...Option) (*APIAuthenticator, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewAPIAuthenticator] resource repo is required")
	}
	if validators == nil {
		return nil, fmt.Errorf("[NewAPIAuthenticator] validator registry is required")
	}
	o := applyOptions(opts)
	return &APIAuthenticator{resources: repo, validators: validators, events: o.events, nowTime: o.nowTime, logger: o.logger}, nil
}

// Authenticate returns the API resource named by the credentials' client id.
func (a *APIAuthenticator) Authenticate(ctx context.Context, creds *Credentials) (*resources.APIResource, error) {
	if creds == nil || creds.ClientID == "" || creds.Type == CredentialNone {
		a.fail(ctx, "", "no api credentials")
		return nil, errInvalidClient
	}
	apis, err := a.resources.FindAPIResourcesByName(ctx, []string{creds.ClientID})
	if err != nil {
		return nil, fmt.Errorf("[APIAuthenticator.Authenticate] %w", err)
	}
	if len(apis) == 0 || !apis[0].Enabled {
		a.fail(ctx, creds.ClientID, "unknown or disabled api resource")
		return nil, errInvalidClient
	}
	api := apis[0]

	active := make([]clients.Secret, 0, len(api.Secrets))
	now := a.nowTime()
	for _, s := range api.Secrets {
		if !s.Expired(now) {
			active = append(active, s)
		}
	}
	if _, err := validate(ctx, a.validators, active, creds); err != nil {
		if errors.Is(err, errors.ErrInvalidCredentials) {
			a.fail(ctx, creds.ClientID, "invalid api secret")
			return nil, errInvalidClient
		}
		return nil, fmt.Errorf("[APIAuthenticator.Authenticate] %w", err)
	}
	return api, nil
}

func (a *APIAuthenticator) fail(ctx context.Context, name, reason string) {
	a.logger.Warn().Str("event", events.APIAuthenticationFailure).Str("api", name).Msg(reason)
	a.events.Raise(ctx, events.Failure, func() *events.Event {
		return &events.Event{Name: events.APIAuthenticationFailure, Message: reason, Details: map[string]any{"api": name}}
	})
}
