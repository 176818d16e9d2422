package responses

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EndSessionResult tells the HTTP layer where to send the user after logout and which
// clients to notify.
type EndSessionResult struct {
	// RedirectURI is the registered post logout redirect URI with state appended, or empty.
	RedirectURI  string
	Notification *oauthmodel.LogoutNotification
}

// EndSessionCallbackResult lists the front channel logout iframes to render.
type EndSessionCallbackResult struct {
	FrontChannelLogoutURLs []string
}

type EndSessionResponseGenerator struct {
	notifier oauthmodel.LogoutNotifier
	events   *events.Service
	logger   zerolog.Logger
}

type EndSessionResponseOption func(*EndSessionResponseGenerator)

func WithLogoutNotifier(n oauthmodel.LogoutNotifier) EndSessionResponseOption {
	return func(g *EndSessionResponseGenerator) {
		g.notifier = n
	}
}

func WithEndSessionEvents(e *events.Service) EndSessionResponseOption {
	return func(g *EndSessionResponseGenerator) {
		g.events = e
	}
}

func WithEndSessionLogger(l zerolog.Logger) EndSessionResponseOption {
	return func(g *EndSessionResponseGenerator) {
		g.logger = l
	}
}

func NewEndSessionResponseGenerator(opts ...EndSessionResponseOption) *EndSessionResponseGenerator {
	g := &EndSessionResponseGenerator{logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *EndSessionResponseGenerator) Process(ctx context.Context, req *oauthmodel.ValidatedEndSessionRequest) (*EndSessionResult, error) {
	res := &EndSessionResult{}
	if req.PostLogoutRedirectURI != "" {
		u, err := url.Parse(req.PostLogoutRedirectURI)
		if err != nil {
			return nil, fmt.Errorf("[EndSessionResponseGenerator.Process] %w", err)
		}
		if req.State != "" {
			q := u.Query()
			q.Set("state", req.State)
			u.RawQuery = q.Encode()
		}
		res.RedirectURI = u.String()
	}

	if !req.Subject.IsAuthenticated() {
		return res, nil
	}
	res.Notification = &oauthmodel.LogoutNotification{
		SubjectID: req.Subject.ID,
		SessionID: req.Subject.SessionID,
		ClientIDs: req.ClientIDs,
	}
	g.events.Raise(ctx, events.Success, func() *events.Event {
		e := &events.Event{
			Name:      events.UserLogoutSuccess,
			SubjectID: req.Subject.ID,
			Endpoint:  "endsession",
		}
		if req.Client != nil {
			e.ClientID = req.Client.ID
		}
		return e
	})
	return res, nil
}

// ProcessCallback sends the back channel notifications and returns the front channel URLs.
// A failed back channel delivery is logged; it does not stop the logout.
func (g *EndSessionResponseGenerator) ProcessCallback(ctx context.Context, cb *oauthmodel.ValidatedEndSessionCallback) *EndSessionCallbackResult {
	if g.notifier != nil && len(cb.BackChannelClients) > 0 {
		n := &oauthmodel.LogoutNotification{SubjectID: cb.SubjectID, SessionID: cb.SessionID}
		for _, c := range cb.BackChannelClients {
			n.ClientIDs = append(n.ClientIDs, c.ID)
		}
		if err := g.notifier.NotifyLogout(ctx, n); err != nil {
			g.logger.Err(err).Str("sub", cb.SubjectID).Msg("back channel logout failed")
		}
	}
	return &EndSessionCallbackResult{FrontChannelLogoutURLs: cb.FrontChannelLogoutURLs}
}
