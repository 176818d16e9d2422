package responses

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
)

const (
	DefaultDeviceCodeLifetime = 300 * time.Second
	DefaultPollingInterval    = 5 * time.Second
)

// DeviceAuthorizationResponseGenerator creates pending device codes.
type DeviceAuthorizationResponseGenerator struct {
	grants          *grants.Manager
	verificationURI string
	events          *events.Service
}

type DeviceResponseOption func(*DeviceAuthorizationResponseGenerator)

func WithDeviceResponseEvents(e *events.Service) DeviceResponseOption {
	return func(g *DeviceAuthorizationResponseGenerator) {
		g.events = e
	}
}

// NewDeviceAuthorizationResponseGenerator takes the absolute URL of the page where the user
// enters the user code.
func NewDeviceAuthorizationResponseGenerator(manager *grants.Manager, verificationURI string, opts ...DeviceResponseOption) (*DeviceAuthorizationResponseGenerator, error) {
	if manager == nil {
		return nil, fmt.Errorf("[NewDeviceAuthorizationResponseGenerator] grant manager is required")
	}
	if _, err := url.ParseRequestURI(verificationURI); err != nil {
		return nil, fmt.Errorf("[NewDeviceAuthorizationResponseGenerator] verification uri: %w", err)
	}
	g := &DeviceAuthorizationResponseGenerator{grants: manager, verificationURI: verificationURI}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *DeviceAuthorizationResponseGenerator) Process(ctx context.Context, req *oauthmodel.ValidatedDeviceAuthorizationRequest) (*oauth2.DeviceAuthorizationResponse, error) {
	lifetime := req.Client.DeviceCodeLifetime
	if lifetime <= 0 {
		lifetime = DefaultDeviceCodeLifetime
	}
	interval := req.Client.PollingInterval
	if interval <= 0 {
		interval = DefaultPollingInterval
	}

	deviceCode, userCode, err := g.grants.StoreDeviceAuthorization(ctx, &grants.DeviceCode{
		ClientID:           req.Client.ID,
		Lifetime:           lifetime,
		Interval:           interval,
		RequestedScopes:    req.Resources.RawScopeValues(),
		ResourceIndicators: req.ResourceIndicators,
		IsOpenID:           req.IsOpenIDRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("[DeviceAuthorizationResponseGenerator.Process] %w", err)
	}

	complete, _ := url.Parse(g.verificationURI)
	q := complete.Query()
	q.Set("userCode", userCode)
	complete.RawQuery = q.Encode()

	g.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{
			Name:      events.DeviceAuthorizationSuccess,
			ClientID:  req.Client.ID,
			GrantType: string(oauth2.DeviceCodeGrant),
			Endpoint:  "deviceauthorization",
			Details:   map[string]any{"scopes": req.Resources.ScopeString()},
		}
	})

	return &oauth2.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         g.verificationURI,
		VerificationURIComplete: complete.String(),
		ExpiresIn:               int(lifetime.Seconds()),
		Interval:                int(interval.Seconds()),
	}, nil
}
