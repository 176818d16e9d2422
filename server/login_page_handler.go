package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
)

// HomePage shows who is signed in
func (s *Server) HomePage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := homePageData{Title: s.config.GetAppName()}
		if session, _ := s.loginSession(r); session != nil {
			data.SubjectID = session.SubjectID
		}
		s.render(w, http.StatusOK, homeTemplate, data)
	}
}

// LoginPage displays the login form (GET /account/login)
func (s *Server) LoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, http.StatusOK, loginTemplate, loginPageData{
			Title:     "Sign in",
			ReturnURL: localReturnURL(r.URL.Query().Get(paramReturnURL)),
		})
	}
}

// LoginSubmission checks the posted credentials, starts a session and returns to returnUrl.
func (s *Server) LoginSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		username := strings.TrimSpace(r.PostForm.Get("username"))
		password := r.PostForm.Get("password")
		returnURL := localReturnURL(r.PostForm.Get(paramReturnURL))

		subjectID, err := s.profile.ValidateCredentials(ctx, username, password)
		if err != nil {
			msg := "Invalid username or password"
			switch {
			case errors.Is(err, errors.ErrUserBlocked):
				msg = "This account is blocked"
			case !errors.Is(err, errors.ErrInvalidCredentials):
				s.logger.Err(err).Msg("failed to validate credentials")
				msg = "Sign in is unavailable, try again later"
			}
			s.events.Raise(ctx, events.Failure, func() *events.Event {
				return &events.Event{Name: events.UserLoginFailure, Message: msg, Endpoint: RouteLogin, Details: map[string]any{"username": username}}
			})
			s.render(w, http.StatusUnauthorized, loginTemplate, loginPageData{
				Title:     "Sign in",
				ReturnURL: returnURL,
				Username:  username,
				Error:     msg,
			})
			return
		}

		if _, cookieID := s.loginSession(r); cookieID != "" {
			s.endSession(w, r, cookieID)
		}
		if _, err := s.startSession(w, r, subjectID, []string{"pwd"}); err != nil {
			s.logger.Err(err).Str("sub", subjectID).Msg("failed to start session")
			s.showError(w, r, oauth2.NewError(oauth2.ErrorServerError, "sign in failed"), "")
			return
		}
		s.events.Raise(ctx, events.Success, func() *events.Event {
			return &events.Event{Name: events.UserLoginSuccess, SubjectID: subjectID, Endpoint: RouteLogin}
		})
		http.Redirect(w, r, returnURL, http.StatusFound)
	}
}

// pendingAuthorize re-validates the authorize request stored under returnId. The user must
// still be signed in.
func (s *Server) pendingAuthorize(w http.ResponseWriter, r *http.Request, returnID string) (*oauthmodel.ValidatedAuthorizeRequest, bool) {
	state, err := s.interactions.Read(r.Context(), returnID)
	if err != nil || state.Kind != authflowrepo.KindAuthorize {
		s.showError(w, r, oauth2.NewError(oauth2.ErrorInvalidRequest, "the consent request has expired"), "")
		return nil, false
	}
	session, _ := s.loginSession(r)
	if session == nil {
		http.Redirect(w, r, loginURL(RouteConsent+"?"+paramReturnID+"="+url.QueryEscape(returnID)), http.StatusFound)
		return nil, false
	}
	req, err := s.authorizeReq.Validate(r.Context(), oauthmodel.AuthorizeParametersFromValues(state.Authorize), session.Subject())
	if err != nil {
		s.authorizeError(w, r, err)
		return nil, false
	}
	return req, true
}

// ConsentPage lists the requested scopes (GET /account/consent)
func (s *Server) ConsentPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnID := r.URL.Query().Get(paramReturnID)
		req, ok := s.pendingAuthorize(w, r, returnID)
		if !ok {
			return
		}
		s.render(w, http.StatusOK, consentTemplate, consentPageData{
			Title:         "Consent",
			ReturnID:      returnID,
			ClientName:    clientDisplayName(req.Client.Name, req.Client.ID),
			Scopes:        scopeItems(req.Resources),
			AllowRemember: req.Client.AllowRememberConsent,
		})
	}
}

// ConsentSubmission applies the user's decision and completes the authorize request.
func (s *Server) ConsentSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		returnID := r.PostForm.Get(paramReturnID)
		req, ok := s.pendingAuthorize(w, r, returnID)
		if !ok {
			return
		}
		_ = s.interactions.Clear(r.Context(), returnID)

		filtered, err := s.interaction.ProcessConsent(r.Context(), req, auth.ConsentResponse{
			Granted:         r.PostForm.Get("button") == "yes",
			ScopesConsented: r.PostForm["scope"],
			RememberConsent: r.PostForm.Get("remember") == "true",
		})
		if err != nil {
			s.authorizeError(w, r, err)
			return
		}
		session, cookieID := s.loginSession(r)
		s.completeAuthorize(w, r, filtered, true, session, cookieID)
	}
}

// DevicePage asks for a user code and shows what the device is requesting.
func (s *Server) DevicePage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode := strings.TrimSpace(r.URL.Query().Get(paramUserCode))
		if session, _ := s.loginSession(r); session == nil {
			target := RouteDeviceVerification
			if userCode != "" {
				target += "?" + paramUserCode + "=" + url.QueryEscape(userCode)
			}
			http.Redirect(w, r, loginURL(target), http.StatusFound)
			return
		}
		data := devicePageData{Title: "Connect a device", UserCode: userCode}
		if userCode == "" {
			s.render(w, http.StatusOK, deviceTemplate, data)
			return
		}
		pending, err := s.deviceApproval.Validate(r.Context(), userCode)
		if err != nil {
			data.Error = deviceErrorMessage(err)
			s.render(w, http.StatusOK, deviceTemplate, data)
			return
		}
		data.ClientName = clientDisplayName(pending.Client.Name, pending.Client.ID)
		data.Scopes = scopeItems(pending.Resources)
		s.render(w, http.StatusOK, deviceTemplate, data)
	}
}

// DeviceSubmission records the user's approval or denial of a device code.
func (s *Server) DeviceSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		userCode := strings.TrimSpace(r.PostForm.Get(paramUserCode))
		session, _ := s.loginSession(r)
		if session == nil {
			http.Redirect(w, r, loginURL(RouteDeviceVerification+"?"+paramUserCode+"="+url.QueryEscape(userCode)), http.StatusFound)
			return
		}

		data := devicePageData{Title: "Connect a device"}
		var err error
		if r.PostForm.Get("button") == "yes" {
			err = s.deviceApproval.Approve(r.Context(), userCode, session.Subject(), r.PostForm["scope"])
			data.Message = "The device is now connected. You can return to it."
		} else {
			err = s.deviceApproval.Deny(r.Context(), userCode, session.Subject())
			data.Message = "The device request was denied."
		}
		if err != nil {
			data.Message = ""
			data.Error = deviceErrorMessage(err)
		}
		s.render(w, http.StatusOK, deviceTemplate, data)
	}
}

// ErrorPage shows an error stored by showError
func (s *Server) ErrorPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := errorPageData{Title: "Error", Error: oauth2.NewError(oauth2.ErrorInvalidRequest, "unknown error")}
		state, err := s.interactions.Read(r.Context(), r.URL.Query().Get(paramErrorID))
		if err == nil && state.Kind == authflowrepo.KindError && state.Error != nil {
			data.Error = state.Error
			data.ClientID = state.ClientID
		}
		s.render(w, http.StatusBadRequest, errorTemplate, data)
	}
}

func deviceErrorMessage(err error) string {
	if pe, ok := oauth2.AsError(err); ok && pe.Description != "" {
		return pe.Description
	}
	return "The code is invalid or has expired"
}

func clientDisplayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// scopeItems lists the requested scopes. openid and scopes marked required cannot be unchecked.
func scopeItems(res *resources.ValidatedResources) []scopeItem {
	if res == nil {
		return nil
	}
	required := map[string]bool{oauth2.ScopeOpenID: true}
	for _, ir := range res.IdentityResources {
		if ir.Required {
			required[ir.Name] = true
		}
	}
	for _, sc := range res.APIScopes {
		if sc.Required {
			required[sc.Name] = true
		}
	}
	out := make([]scopeItem, 0, len(res.ParsedScopes))
	for _, p := range res.ParsedScopes {
		out = append(out, scopeItem{Name: p.RawValue, Required: required[p.Name]})
	}
	return out
}
