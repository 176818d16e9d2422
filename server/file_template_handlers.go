package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oidc-provider/oauth2"
)

//go:embed templates/*.html
var templateFiles embed.FS

const (
	loginTemplate        = "login.html"
	consentTemplate      = "consent.html"
	deviceTemplate       = "device.html"
	errorTemplate        = "error.html"
	loggedOutTemplate    = "logged_out.html"
	frontChannelTemplate = "front_channel.html"
	formPostTemplate     = "form_post.html"
	homeTemplate         = "home.html"
)

var pageTemplates = mustParseTemplates(
	loginTemplate, consentTemplate, deviceTemplate, errorTemplate,
	loggedOutTemplate, frontChannelTemplate, formPostTemplate, homeTemplate,
)

func mustParseTemplates(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		out[name] = template.Must(template.New(name).ParseFS(templateFiles, "templates/layout.html", "templates/"+name))
	}
	return out
}

type scopeItem struct {
	Name     string
	Required bool
}

type loginPageData struct {
	Title     string
	ReturnURL string
	Username  string
	Error     string
}

type consentPageData struct {
	Title         string
	ReturnID      string
	ClientName    string
	Scopes        []scopeItem
	AllowRemember bool
}

type devicePageData struct {
	Title      string
	UserCode   string
	ClientName string
	Scopes     []scopeItem
	Message    string
	Error      string
}

type errorPageData struct {
	Title    string
	Error    *oauth2.Error
	ClientID string
}

type loggedOutPageData struct {
	Title       string
	RedirectURI string
	CallbackURL string
}

type frontChannelData struct {
	URLs []string
}

type formPostData struct {
	Action string
	Values url.Values
}

type homePageData struct {
	Title     string
	SubjectID string
}

// render executes a page into a buffer first so a template failure never leaves a half
// written response.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	t, ok := pageTemplates[name]
	if !ok {
		s.logger.Error().Str("template", name).Msg("unknown template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Err(err).Str("template", name).Msg("failed to render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
