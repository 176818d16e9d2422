package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const backChannelConcurrency = 4

// LogoutTokenCreator signs logout tokens.
type LogoutTokenCreator interface {
	CreateLogoutToken(ctx context.Context, client *clients.Client, subjectID, sessionID string) (string, error)
}

// BackChannelNotifier posts a logout token to every client's back-channel logout URI.
type BackChannelNotifier struct {
	creator    LogoutTokenCreator
	clients    clients.Repo
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewBackChannelNotifier(creator LogoutTokenCreator, clientRepo clients.Repo, httpClient *http.Client, logger zerolog.Logger) *BackChannelNotifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BackChannelNotifier{
		creator:    creator,
		clients:    clientRepo,
		httpClient: httpClient,
		logger:     logger,
	}
}

// NotifyLogout delivers all notifications and returns the joined delivery errors.
func (n *BackChannelNotifier) NotifyLogout(ctx context.Context, ln *oauthmodel.LogoutNotification) error {
	if ln == nil || len(ln.ClientIDs) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backChannelConcurrency)
	for _, clientID := range ln.ClientIDs {
		g.Go(func() error {
			if err := n.notifyClient(gctx, clientID, ln); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("client %s: %w", clientID, err))
				mu.Unlock()
			}
			// one failing client must not cancel the others
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("[BackChannelNotifier.NotifyLogout] %w", errors.Join(errs...))
	}
	return nil
}

func (n *BackChannelNotifier) notifyClient(ctx context.Context, clientID string, ln *oauthmodel.LogoutNotification) error {
	client, err := n.clients.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if client.BackChannelLogoutURI == "" {
		return nil
	}
	logoutToken, err := n.creator.CreateLogoutToken(ctx, client, ln.SubjectID, ln.SessionID)
	if err != nil {
		return err
	}
	body := url.Values{"logout_token": {logoutToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.BackChannelLogoutURI, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeForm)
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("back channel logout returned %d", resp.StatusCode)
	}
	n.logger.Debug().Str("client_id", clientID).Str("sub", ln.SubjectID).Msg("back channel logout delivered")
	return nil
}
