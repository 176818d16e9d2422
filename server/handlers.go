package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/secrets"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeForm = "application/x-www-form-urlencoded"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a protocol error as JSON. Anything that is not an *oauth2.Error is logged
// and reported as server_error without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	pe, ok := oauth2.AsError(err)
	if !ok {
		s.logger.Err(err).Str("path", r.URL.Path).Msg("request failed")
		pe = oauth2.NewError(oauth2.ErrorServerError, "")
	}
	if pe.Code == oauth2.ErrorInvalidClient && strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+s.issuer+`"`)
	}
	writeJSON(w, pe.StatusCode(), pe)
}

// requireForm rejects bodies that are not form encoded.
func requireForm(w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != contentTypeForm {
		writeJSON(w, http.StatusUnsupportedMediaType, oauth2.NewError(oauth2.ErrorInvalidRequest, "content type must be "+contentTypeForm))
		return false
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed body"))
		return false
	}
	return true
}

// parseCredentials extracts the client credentials of a form encoded request.
func (s *Server) parseCredentials(r *http.Request) (*secrets.Credentials, error) {
	req, err := secrets.FromHTTPRequest(r)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed body")
	}
	return s.parsers.Parse(req)
}

func (s *Server) authenticateClient(r *http.Request) (*secrets.ClientResult, error) {
	creds, err := s.parseCredentials(r)
	if err != nil {
		return nil, err
	}
	return s.clientAuth.Authenticate(r.Context(), creds)
}

// writeAuthorizeResponse delivers an authorize response (or error) to the client's
// redirect_uri in the requested response mode.
func (s *Server) writeAuthorizeResponse(w http.ResponseWriter, r *http.Request, resp *oauth2.AuthorizeResponse) {
	values := resp.Values()
	w.Header().Set("Cache-Control", "no-store")
	switch resp.ResponseMode {
	case oauth2.FormPostResponseMode:
		s.render(w, http.StatusOK, formPostTemplate, formPostData{Action: resp.RedirectURI, Values: values})
	case oauth2.FragmentResponseMode:
		base, _, _ := strings.Cut(resp.RedirectURI, "#")
		http.Redirect(w, r, base+"#"+values.Encode(), http.StatusFound)
	default:
		u, err := url.Parse(resp.RedirectURI)
		if err != nil {
			s.showError(w, r, oauth2.NewError(oauth2.ErrorInvalidRequest, "invalid redirect_uri"), "")
			return
		}
		q := u.Query()
		for k, vs := range values {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// bearerToken reads an access token from the Authorization header or, for POST, the body.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			return r.PostForm.Get("access_token")
		}
	}
	return ""
}
