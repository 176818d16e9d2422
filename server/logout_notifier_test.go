package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/go-oidc-provider/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-provider/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeLogoutTokens struct{}

func (fakeLogoutTokens) CreateLogoutToken(_ context.Context, client *clients.Client, subjectID, sessionID string) (string, error) {
	return client.ID + "|" + subjectID + "|" + sessionID, nil
}

func TestBackChannelNotifier(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseForm())
		mu.Lock()
		received = append(received, r.PostForm.Get("logout_token"))
		mu.Unlock()
	}))
	t.Cleanup(receiver.Close)

	repo := fakeclientrepo.NewFakeClientRepo(
		&clients.Client{ID: "a", Enabled: true, BackChannelLogoutURI: receiver.URL + "/logout"},
		&clients.Client{ID: "b", Enabled: true},
		&clients.Client{ID: "c", Enabled: true, BackChannelLogoutURI: receiver.URL + "/fail"},
	)
	notifier := server.NewBackChannelNotifier(fakeLogoutTokens{}, repo, receiver.Client(), zerolog.Nop())

	t.Run("delivers to clients with a back channel uri", func(t *testing.T) {
		received = nil
		err := notifier.NotifyLogout(context.Background(), &oauthmodel.LogoutNotification{SubjectID: "u1", SessionID: "s1", ClientIDs: []string{"a", "b"}})
		require.NoError(t, err)
		require.Equal(t, []string{"a|u1|s1"}, received)
	})

	t.Run("failed delivery is reported", func(t *testing.T) {
		received = nil
		err := notifier.NotifyLogout(context.Background(), &oauthmodel.LogoutNotification{SubjectID: "u1", SessionID: "s1", ClientIDs: []string{"a", "c", "missing"}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "client c")
		require.Contains(t, err.Error(), "client missing")
		require.Equal(t, []string{"a|u1|s1"}, received)
	})

	t.Run("nothing to notify", func(t *testing.T) {
		require.NoError(t, notifier.NotifyLogout(context.Background(), nil))
	})
}
