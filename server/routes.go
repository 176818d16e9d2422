package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// Discovery
	s.RegisterRouteHandler("GET "+RouteDiscovery, ChainMiddleware(s.Discovery(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteDiscoveryJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))

	// Front channel
	s.RegisterRouteHandler("GET "+RouteAuthorize, ChainMiddleware(s.Authorize(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteAuthorize, ChainMiddleware(s.Authorize(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteAuthorizeCallback, ChainMiddleware(s.AuthorizeCallback(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteEndSession, ChainMiddleware(s.EndSession(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteEndSession, ChainMiddleware(s.EndSession(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteEndSessionCallback, ChainMiddleware(s.EndSessionCallback(), s.HTMLMiddleWare()...))

	// Back channel
	s.RegisterRouteHandler("POST "+RouteToken, ChainMiddleware(s.Token(), s.BackChannelMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteRevocation, ChainMiddleware(s.Revocation(), s.BackChannelMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteIntrospection, ChainMiddleware(s.Introspect(), s.BackChannelMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteDeviceAuthorization, ChainMiddleware(s.DeviceAuthorization(), s.BackChannelMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserInfo, ChainMiddleware(s.UserInfo(), s.APIMiddleware(s.NoStoreMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteUserInfo, ChainMiddleware(s.UserInfo(), s.APIMiddleware(s.NoStoreMiddleware)...))
	for _, path := range []string{RouteDiscovery, RouteDiscoveryJWKS, RouteJWKS, RouteToken, RouteRevocation, RouteIntrospection, RouteUserInfo} {
		s.RegisterRouteHandler("OPTIONS "+path, ChainMiddleware(func(w http.ResponseWriter, _ *http.Request) {}, s.APIMiddleware()...))
	}

	// Interaction pages
	s.RegisterRouteHandler("GET "+RouteHome+"{$}", ChainMiddleware(s.HomePage(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginPage(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginSubmission(), s.HTMLMiddleWare(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteConsent, ChainMiddleware(s.ConsentPage(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteConsent, ChainMiddleware(s.ConsentSubmission(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteDeviceVerification, ChainMiddleware(s.DevicePage(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteDeviceVerification, ChainMiddleware(s.DeviceSubmission(), s.HTMLMiddleWare(s.RateLimitMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteError, ChainMiddleware(s.ErrorPage(), s.HTMLMiddleWare()...))

	s.RegisterRouteHandler("GET "+RouteMetrics, s.metricsHandler())
}

func (s *Server) metricsHandler() http.Handler {
	g := s.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
