package server

import "github.com/jrsteele09/go-oidc-provider/responses"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Protocol endpoints
	RouteDiscovery           = responses.PathDiscovery
	RouteDiscoveryJWKS       = responses.PathDiscoveryJWKS
	RouteJWKS                = responses.PathJWKS
	RouteAuthorize           = responses.PathAuthorize
	RouteAuthorizeCallback   = responses.PathAuthorize + "/callback"
	RouteToken               = responses.PathToken
	RouteUserInfo            = responses.PathUserInfo
	RouteRevocation          = responses.PathRevocation
	RouteIntrospection       = responses.PathIntrospection
	RouteDeviceAuthorization = responses.PathDeviceAuthorization
	RouteEndSession          = responses.PathEndSession
	RouteEndSessionCallback  = responses.PathEndSessionCallback
	RouteDeviceVerification  = responses.PathDeviceVerification

	// Interaction pages
	RouteHome    = "/"
	RouteLogin   = "/account/login"
	RouteConsent = "/account/consent"
	RouteError   = "/home/error"

	RouteMetrics = "/metrics"
)

// Query parameters handed between the interaction pages.
const (
	paramReturnURL = "returnUrl"
	paramReturnID  = "returnId"
	paramErrorID   = "errorId"
	paramLogoutID  = "logoutId"
	paramUserCode  = "userCode"
)
