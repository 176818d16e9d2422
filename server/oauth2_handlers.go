package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/responses"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-provider/token"
)

// Discovery serves the OIDC discovery document
func (s *Server) Discovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.discoveryResp.Create(r.Context(), responses.DiscoveryInput{
			Issuer:      s.issuer,
			GrantTypes:  s.tokenReq.GrantTypes(),
			AuthMethods: s.parsers.Methods(),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, doc)
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := token.JWKS(r.Context(), s.keys)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, jwks)
	}
}

// Authorize begins the authorization flow
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.showError(w, r, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed request"), "")
			return
		}
		values := r.Form
		if r.Method == http.MethodPost {
			values = r.PostForm
		}
		s.processAuthorize(w, r, values)
	}
}

// AuthorizeCallback resumes an authorize request after the user signed in.
func (s *Server) AuthorizeCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.interactions.Read(r.Context(), r.URL.Query().Get(paramReturnID))
		if err != nil || state.Kind != authflowrepo.KindAuthorize {
			s.showError(w, r, oauth2.NewError(oauth2.ErrorInvalidRequest, "the sign in request has expired"), "")
			return
		}
		_ = s.interactions.Clear(r.Context(), r.URL.Query().Get(paramReturnID))

		values := cloneValues(state.Authorize)
		// The user just signed in; asking again would loop.
		values.Del("prompt")
		values.Del("max_age")
		s.processAuthorize(w, r, values)
	}
}

func (s *Server) processAuthorize(w http.ResponseWriter, r *http.Request, values url.Values) {
	ctx := r.Context()
	session, cookieID := s.loginSession(r)

	req, err := s.authorizeReq.Validate(ctx, oauthmodel.AuthorizeParametersFromValues(values), session.Subject())
	if err != nil {
		s.authorizeError(w, r, err)
		return
	}

	result, err := s.interaction.Evaluate(ctx, req)
	if err != nil {
		s.authorizeError(w, r, err)
		return
	}
	switch {
	case result.Error != nil:
		s.authorizeError(w, r, result.Error)
		return
	case result.IsLogin:
		id, err := s.interactions.Write(ctx, &authflowrepo.AuthFlowState{Kind: authflowrepo.KindAuthorize, Authorize: values, ClientID: req.Client.ID})
		if err != nil {
			s.authorizeError(w, r, err)
			return
		}
		http.Redirect(w, r, loginURL(RouteAuthorizeCallback+"?"+paramReturnID+"="+url.QueryEscape(id)), http.StatusFound)
		return
	case result.IsConsent:
		id, err := s.interactions.Write(ctx, &authflowrepo.AuthFlowState{Kind: authflowrepo.KindAuthorize, Authorize: values, ClientID: req.Client.ID})
		if err != nil {
			s.authorizeError(w, r, err)
			return
		}
		http.Redirect(w, r, RouteConsent+"?"+paramReturnID+"="+url.QueryEscape(id), http.StatusFound)
		return
	}

	s.completeAuthorize(w, r, req, false, session, cookieID)
}

func (s *Server) completeAuthorize(w http.ResponseWriter, r *http.Request, req *oauthmodel.ValidatedAuthorizeRequest, consentShown bool, session *oauthmodel.Session, cookieID string) {
	resp, err := s.authorizeResp.Create(r.Context(), req, consentShown)
	if err != nil {
		s.authorizeError(w, r, err)
		return
	}
	s.addSessionClient(r.Context(), session, cookieID, req.Client.ID)
	s.writeAuthorizeResponse(w, r, resp)
}

// authorizeError sends the error to the client when its redirect_uri is trusted, otherwise
// to the local error page.
func (s *Server) authorizeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *auth.AuthorizeError
	if errors.As(err, &ae) {
		if ae.IsClientFacing() {
			s.writeAuthorizeResponse(w, r, ae.Response())
			return
		}
		s.showError(w, r, ae.Err, ae.ClientID)
		return
	}
	if pe, ok := oauth2.AsError(err); ok {
		s.showError(w, r, pe, "")
		return
	}
	s.logger.Err(err).Msg("authorize request failed")
	s.showError(w, r, oauth2.NewError(oauth2.ErrorServerError, ""), "")
}

// Token issues tokens for every supported grant type
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireForm(w, r) {
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.tokenReq.Validate(r.Context(), oauthmodel.TokenParametersFromValues(r.PostForm), client)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.tokenResp.Process(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Revocation revokes refresh and reference tokens. Unknown tokens are not an error.
func (s *Server) Revocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireForm(w, r) {
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.revocationReq.Validate(r.Context(), r.PostForm, client.Client)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.revocationResp.Process(r.Context(), req); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Introspect answers API resources asking about access tokens
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireForm(w, r) {
			return
		}
		creds, err := s.parseCredentials(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		api, err := s.apiAuth.Authenticate(r.Context(), creds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.introspectionReq.Validate(r.Context(), r.PostForm, api)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.introspectionResp.Process(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DeviceAuthorization starts the device flow
func (s *Server) DeviceAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireForm(w, r) {
			return
		}
		client, err := s.authenticateClient(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req, err := s.deviceReq.Validate(r.Context(), r.PostForm, client)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.deviceResp.Process(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// UserInfo returns the claims of the token's subject
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.userInfoReq.Validate(r.Context(), bearerToken(r))
		if err != nil {
			if pe, ok := oauth2.AsError(err); ok {
				w.Header().Set("WWW-Authenticate", `Bearer error="`+string(pe.Code)+`"`)
			}
			s.writeError(w, r, err)
			return
		}
		claims, err := s.userInfoResp.Process(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

// EndSession signs the user out and shows the signed out page, which loads the logout
// notifications in a hidden frame.
func (s *Server) EndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.showError(w, r, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed request"), "")
			return
		}
		ctx := r.Context()
		session, cookieID := s.loginSession(r)
		req, err := s.endSessionReq.Validate(ctx, r.Form, session)
		if err != nil {
			s.authorizeError(w, r, err)
			return
		}
		res, err := s.endSessionResp.Process(ctx, req)
		if err != nil {
			s.authorizeError(w, r, err)
			return
		}
		s.endSession(w, r, cookieID)

		data := loggedOutPageData{Title: "Signed out", RedirectURI: res.RedirectURI}
		if res.Notification != nil && len(res.Notification.ClientIDs) > 0 {
			id, err := s.interactions.Write(ctx, &authflowrepo.AuthFlowState{
				Kind:                  authflowrepo.KindLogout,
				Logout:                res.Notification,
				PostLogoutRedirectURI: res.RedirectURI,
			})
			if err != nil {
				s.logger.Err(err).Msg("failed to store logout notification")
			} else {
				data.CallbackURL = RouteEndSessionCallback + "?" + paramLogoutID + "=" + url.QueryEscape(id)
			}
		}
		s.render(w, http.StatusOK, loggedOutTemplate, data)
	}
}

// EndSessionCallback renders the front-channel logout frames and sends the back-channel
// notifications of an ended session.
func (s *Server) EndSessionCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.URL.Query().Get(paramLogoutID)
		state, err := s.interactions.Read(ctx, id)
		if err != nil || state.Kind != authflowrepo.KindLogout {
			s.render(w, http.StatusOK, frontChannelTemplate, frontChannelData{})
			return
		}
		_ = s.interactions.Clear(ctx, id)

		cb, err := s.endSessionCallback.Validate(ctx, state.Logout)
		if err != nil {
			s.logger.Err(err).Msg("failed to resolve logout notifications")
			s.render(w, http.StatusOK, frontChannelTemplate, frontChannelData{})
			return
		}
		res := s.endSessionResp.ProcessCallback(ctx, cb)
		s.render(w, http.StatusOK, frontChannelTemplate, frontChannelData{URLs: res.FrontChannelLogoutURLs})
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
