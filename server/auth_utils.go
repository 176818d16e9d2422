package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
)

// loginSession returns the signed-in user's session, or nil when there is none.
func (s *Server) loginSession(r *http.Request) (*oauthmodel.Session, string) {
	cookie, err := r.Cookie(s.config.GetSessionCookieName())
	if err != nil || cookie.Value == "" {
		return nil, ""
	}
	session, err := s.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.logger.Err(err).Msg("failed to load login session")
		}
		return nil, ""
	}
	return session, cookie.Value
}

// startSession signs subjectID in and sets the session cookie.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, subjectID string, amr []string) (*oauthmodel.Session, error) {
	session := &oauthmodel.Session{
		SubjectID: subjectID,
		SessionID: uuid.NewString(),
		AuthTime:  s.nowTime().UTC(),
		AMR:       amr,
		IdP:       "local",
	}
	cookieID := uuid.NewString()
	maxAge := s.config.GetMaxSessionAge()
	if err := s.sessions.Upsert(r.Context(), cookieID, session, maxAge); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    cookieID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.GetSecureCookies() || getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
	return session, nil
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, cookieID string) {
	if cookieID != "" {
		if err := s.sessions.Delete(r.Context(), cookieID); err != nil {
			s.logger.Err(err).Msg("failed to delete login session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// addSessionClient records that clientID took part in the session, for logout notifications.
func (s *Server) addSessionClient(ctx context.Context, session *oauthmodel.Session, cookieID, clientID string) {
	if session == nil || cookieID == "" || utils.Contains(session.ClientIDs, clientID) {
		return
	}
	session.ClientIDs = append(session.ClientIDs, clientID)
	ttl := s.config.GetMaxSessionAge() - s.nowTime().Sub(session.AuthTime)
	if ttl <= 0 {
		return
	}
	if err := s.sessions.Upsert(ctx, cookieID, session, ttl); err != nil {
		s.logger.Err(err).Str("client_id", clientID).Msg("failed to record session client")
	}
}

// showError keeps the error in the interaction store and redirects to the error page.
func (s *Server) showError(w http.ResponseWriter, r *http.Request, perr *oauth2.Error, clientID string) {
	id, err := s.interactions.Write(r.Context(), &authflowrepo.AuthFlowState{
		Kind:     authflowrepo.KindError,
		Error:    perr,
		ClientID: clientID,
	})
	if err != nil {
		s.logger.Err(err).Msg("failed to store error message")
		s.render(w, http.StatusBadRequest, errorTemplate, errorPageData{Error: perr})
		return
	}
	http.Redirect(w, r, RouteError+"?"+paramErrorID+"="+url.QueryEscape(id), http.StatusFound)
}

// localReturnURL accepts only paths on this server.
func localReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return RouteHome
	}
	return raw
}

func loginURL(returnURL string) string {
	return RouteLogin + "?" + url.Values{paramReturnURL: {returnURL}}.Encode()
}
