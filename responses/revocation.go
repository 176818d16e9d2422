package responses

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RevocationResponseGenerator revokes refresh tokens and reference access tokens. JWT access
// tokens cannot be revoked and are ignored.
type RevocationResponseGenerator struct {
	grants *grants.Manager
	events *events.Service
	logger zerolog.Logger
}

type RevocationResponseOption func(*RevocationResponseGenerator)

func WithRevocationEvents(e *events.Service) RevocationResponseOption {
	return func(g *RevocationResponseGenerator) {
		g.events = e
	}
}

func WithRevocationLogger(l zerolog.Logger) RevocationResponseOption {
	return func(g *RevocationResponseGenerator) {
		g.logger = l
	}
}

func NewRevocationResponseGenerator(manager *grants.Manager, opts ...RevocationResponseOption) (*RevocationResponseGenerator, error) {
	if manager == nil {
		return nil, fmt.Errorf("[NewRevocationResponseGenerator] grant manager is required")
	}
	g := &RevocationResponseGenerator{grants: manager, logger: log.Logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Process tries the hinted token kind first and falls back to the other. Unknown tokens and
// tokens of another client are not an error.
func (g *RevocationResponseGenerator) Process(ctx context.Context, req *oauthmodel.ValidatedRevocationRequest) error {
	attempts := []func(context.Context, *oauthmodel.ValidatedRevocationRequest) (bool, error){
		g.revokeRefreshToken, g.revokeAccessToken,
	}
	if req.TokenTypeHint == oauth2.TokenTypeHintAccessToken {
		attempts[0], attempts[1] = attempts[1], attempts[0]
	}
	for _, revoke := range attempts {
		found, err := revoke(ctx, req)
		if err != nil {
			return fmt.Errorf("[RevocationResponseGenerator.Process] %w", err)
		}
		if found {
			return nil
		}
	}
	g.logger.Debug().Str("client_id", req.Client.ID).Msg("revocation: token not found")
	return nil
}

func (g *RevocationResponseGenerator) revokeRefreshToken(ctx context.Context, req *oauthmodel.ValidatedRevocationRequest) (bool, error) {
	rt, err := g.grants.FindRefreshToken(ctx, req.Token)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rt.ClientID != req.Client.ID {
		g.logger.Warn().Str("client_id", req.Client.ID).Str("owner", rt.ClientID).Msg("revocation: refresh token belongs to another client")
		return true, nil
	}
	if err := g.grants.RevokeRefreshToken(ctx, rt, req.Token); err != nil {
		return false, err
	}
	g.raise(ctx, req, rt.SubjectID, oauth2.TokenTypeHintRefreshToken)
	return true, nil
}

func (g *RevocationResponseGenerator) revokeAccessToken(ctx context.Context, req *oauthmodel.ValidatedRevocationRequest) (bool, error) {
	if strings.Count(req.Token, ".") == 2 {
		return true, nil
	}
	t, err := g.grants.GetReferenceToken(ctx, req.Token)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.ClientID != req.Client.ID {
		g.logger.Warn().Str("client_id", req.Client.ID).Str("owner", t.ClientID).Msg("revocation: reference token belongs to another client")
		return true, nil
	}
	if err := g.grants.RemoveReferenceToken(ctx, req.Token); err != nil {
		return false, err
	}
	g.raise(ctx, req, t.SubjectID, oauth2.TokenTypeHintAccessToken)
	return true, nil
}

func (g *RevocationResponseGenerator) raise(ctx context.Context, req *oauthmodel.ValidatedRevocationRequest, subjectID, tokenType string) {
	g.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{
			Name:      events.TokenRevokedSuccess,
			ClientID:  req.Client.ID,
			SubjectID: subjectID,
			Endpoint:  "revocation",
			Details:   map[string]any{"tokenType": tokenType},
		}
	})
}
