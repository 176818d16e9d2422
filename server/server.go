package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-provider/auth"
	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/config"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/responses"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-provider/server/loginsession"
	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/jrsteele09/go-oidc-provider/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Components are the stores and services the HTTP surface is built on.
type Components struct {
	Clients      clients.Repo
	Resources    resources.Repo
	Users        users.UserRepo
	Grants       *grants.Manager
	Keys         token.KeyProvider
	Events       *events.Service
	Sessions     loginsession.Repo
	Interactions authflowrepo.Repo
}

type Server struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	issuer  string
	logger  zerolog.Logger
	nowTime func() time.Time

	clients      clients.Repo
	grants       *grants.Manager
	keys         token.KeyProvider
	profile      *users.ProfileService
	events       *events.Service
	sessions     loginsession.Repo
	interactions authflowrepo.Repo
	gatherer     prometheus.Gatherer
	limiter      *addressLimiter
	notifier     oauthmodel.LogoutNotifier
	httpClient   *http.Client
	extensions   *auth.ExtensionGrantRegistry

	creator    *token.Creator
	tokens     *token.Validator
	parsers    *secrets.Parsers
	clientAuth *secrets.ClientAuthenticator
	apiAuth    *secrets.APIAuthenticator

	authorizeReq       *auth.AuthorizeRequestValidator
	interaction        *auth.InteractionEvaluator
	tokenReq           *auth.TokenRequestValidator
	introspectionReq   *auth.IntrospectionRequestValidator
	revocationReq      *auth.RevocationRequestValidator
	deviceReq          *auth.DeviceAuthorizationRequestValidator
	deviceApproval     *auth.DeviceApprovalValidator
	endSessionReq      *auth.EndSessionRequestValidator
	endSessionCallback *auth.EndSessionCallbackValidator
	userInfoReq        *auth.UserInfoRequestValidator

	tokenResp         *responses.TokenResponseGenerator
	authorizeResp     *responses.AuthorizeResponseGenerator
	introspectionResp *responses.IntrospectionResponseGenerator
	revocationResp    *responses.RevocationResponseGenerator
	deviceResp        *responses.DeviceAuthorizationResponseGenerator
	userInfoResp      *responses.UserInfoResponseGenerator
	endSessionResp    *responses.EndSessionResponseGenerator
	discoveryResp     *responses.DiscoveryResponseGenerator
}

type Option func(*Server)

func WithNowTime(now func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsGatherer exposes the gatherer's metrics at /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogoutNotifier replaces the HTTP back-channel logout notifier.
func WithLogoutNotifier(n oauthmodel.LogoutNotifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithHTTPClient sets the client used for back-channel logout requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.httpClient = c
	}
}

func WithExtensionGrants(r *auth.ExtensionGrantRegistry) Option {
	return func(s *Server) {
		s.extensions = r
	}
}

func New(cfg config.Config, c Components, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[server.New] config is required")
	}
	if c.Clients == nil || c.Resources == nil || c.Users == nil || c.Grants == nil || c.Keys == nil {
		return nil, fmt.Errorf("[server.New] clients, resources, users, grants and keys are required")
	}
	if c.Sessions == nil || c.Interactions == nil {
		return nil, fmt.Errorf("[server.New] session and interaction stores are required")
	}

	s := &Server{
		env:          cfg.GetEnv(),
		mux:          http.NewServeMux(),
		config:       cfg,
		issuer:       cfg.GetIssuer(),
		logger:       log.Logger,
		nowTime:      time.Now,
		clients:      c.Clients,
		grants:       c.Grants,
		keys:         c.Keys,
		events:       c.Events,
		sessions:     c.Sessions,
		interactions: c.Interactions,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newAddressLimiter(cfg.GetRateLimit(), cfg.GetRateBurst(), s.nowTime)

	if err := s.initServices(c); err != nil {
		return nil, fmt.Errorf("[server.New] %w", err)
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) initServices(c Components) error {
	var err error
	opts := auth.DefaultOptions(s.issuer)
	opts.DefaultConsentLifetime = s.config.GetConsentLifetime()

	s.profile, err = users.NewProfileService(c.Users, users.WithNowTime(s.nowTime), users.WithLogger(s.logger))
	if err != nil {
		return err
	}
	scopes, err := resources.NewScopeValidator(c.Resources)
	if err != nil {
		return err
	}
	s.creator, err = token.NewCreator(s.issuer, c.Keys, c.Grants,
		token.WithProfileService(s.profile), token.WithCreatorNowTime(s.nowTime), token.WithCreatorLogger(s.logger))
	if err != nil {
		return err
	}
	s.tokens, err = token.NewValidator(s.issuer, c.Keys, c.Grants, c.Clients,
		token.WithValidatorNowTime(s.nowTime), token.WithValidatorLogger(s.logger))
	if err != nil {
		return err
	}

	// Client authentication
	assertions, err := secrets.NewPrivateKeyJWTValidator([]string{s.issuer, s.issuer + responses.PathToken},
		secrets.WithReplayCache(c.Grants.AssertionReplayCache()), secrets.WithAssertionNowTime(s.nowTime), secrets.WithAssertionLogger(s.logger))
	if err != nil {
		return err
	}
	registry := secrets.DefaultRegistry(assertions)
	s.parsers = secrets.DefaultParsers()
	secretOpts := []secrets.Option{secrets.WithEvents(c.Events), secrets.WithNowTime(s.nowTime), secrets.WithLogger(s.logger)}
	if s.clientAuth, err = secrets.NewClientAuthenticator(c.Clients, registry, secretOpts...); err != nil {
		return err
	}
	if s.apiAuth, err = secrets.NewAPIAuthenticator(c.Resources, registry, secretOpts...); err != nil {
		return err
	}

	// Request validators
	if s.authorizeReq, err = auth.NewAuthorizeRequestValidator(opts, c.Clients, scopes, s.tokens, auth.WithAuthorizeLogger(s.logger)); err != nil {
		return err
	}
	if s.interaction, err = auth.NewInteractionEvaluator(opts, c.Grants, s.profile,
		auth.WithInteractionNowTime(s.nowTime), auth.WithInteractionEvents(c.Events)); err != nil {
		return err
	}
	tokenOpts := []auth.TokenOption{
		auth.WithPasswordValidator(s.profile),
		auth.WithTokenEvents(c.Events),
		auth.WithTokenNowTime(s.nowTime),
		auth.WithTokenLogger(s.logger),
	}
	if s.extensions != nil {
		tokenOpts = append(tokenOpts, auth.WithExtensionGrants(s.extensions))
	}
	if s.tokenReq, err = auth.NewTokenRequestValidator(opts, c.Grants, s.tokens, scopes, s.profile, tokenOpts...); err != nil {
		return err
	}
	if s.introspectionReq, err = auth.NewIntrospectionRequestValidator(s.tokens,
		auth.WithIntrospectionEvents(c.Events), auth.WithIntrospectionLogger(s.logger)); err != nil {
		return err
	}
	s.revocationReq = auth.NewRevocationRequestValidator()
	if s.deviceReq, err = auth.NewDeviceAuthorizationRequestValidator(opts, scopes, c.Events); err != nil {
		return err
	}
	if s.deviceApproval, err = auth.NewDeviceApprovalValidator(opts, c.Grants, c.Clients, scopes,
		auth.WithDeviceApprovalEvents(c.Events), auth.WithDeviceApprovalNowTime(s.nowTime)); err != nil {
		return err
	}
	if s.endSessionReq, err = auth.NewEndSessionRequestValidator(opts, s.tokens, c.Clients); err != nil {
		return err
	}
	if s.endSessionCallback, err = auth.NewEndSessionCallbackValidator(opts, c.Clients); err != nil {
		return err
	}
	if s.userInfoReq, err = auth.NewUserInfoRequestValidator(s.tokens, s.profile); err != nil {
		return err
	}

	// Response generators
	if s.tokenResp, err = responses.NewTokenResponseGenerator(s.creator, c.Grants,
		responses.WithTokenResponseEvents(c.Events), responses.WithTokenResponseNowTime(s.nowTime), responses.WithTokenResponseLogger(s.logger)); err != nil {
		return err
	}
	if s.authorizeResp, err = responses.NewAuthorizeResponseGenerator(s.creator, c.Grants,
		responses.WithAuthorizeResponseEvents(c.Events), responses.WithAuthorizeResponseNowTime(s.nowTime), responses.WithAuthorizeResponseLogger(s.logger)); err != nil {
		return err
	}
	s.introspectionResp = responses.NewIntrospectionResponseGenerator()
	if s.revocationResp, err = responses.NewRevocationResponseGenerator(c.Grants,
		responses.WithRevocationEvents(c.Events), responses.WithRevocationLogger(s.logger)); err != nil {
		return err
	}
	if s.deviceResp, err = responses.NewDeviceAuthorizationResponseGenerator(c.Grants, s.issuer+responses.PathDeviceVerification,
		responses.WithDeviceResponseEvents(c.Events)); err != nil {
		return err
	}
	if s.userInfoResp, err = responses.NewUserInfoResponseGenerator(c.Resources, s.profile); err != nil {
		return err
	}
	if s.notifier == nil {
		s.notifier = NewBackChannelNotifier(s.creator, c.Clients, s.httpClient, s.logger)
	}
	s.endSessionResp = responses.NewEndSessionResponseGenerator(responses.WithLogoutNotifier(s.notifier),
		responses.WithEndSessionEvents(c.Events), responses.WithEndSessionLogger(s.logger))
	if s.discoveryResp, err = responses.NewDiscoveryResponseGenerator(c.Resources, c.Keys); err != nil {
		return err
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Info().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}

// getScheme determines the scheme (http/https) of r
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
