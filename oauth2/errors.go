package oauth2

import "errors"

// ErrorCode is a registered OAuth 2.0 / OIDC error code.
type ErrorCode string

const (
	ErrorInvalidRequest          ErrorCode = "invalid_request"
	ErrorInvalidClient           ErrorCode = "invalid_client"
	ErrorInvalidGrant            ErrorCode = "invalid_grant"
	ErrorUnauthorizedClient      ErrorCode = "unauthorized_client"
	ErrorUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrorUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrorInvalidScope            ErrorCode = "invalid_scope"
	ErrorInvalidTarget           ErrorCode = "invalid_target"
	ErrorAccessDenied            ErrorCode = "access_denied"
	ErrorServerError             ErrorCode = "server_error"
	ErrorTemporarilyUnavailable  ErrorCode = "temporarily_unavailable"
	ErrorUnsupportedTokenType    ErrorCode = "unsupported_token_type"
	ErrorInvalidToken            ErrorCode = "invalid_token"
	ErrorInsufficientScope       ErrorCode = "insufficient_scope"

	// Device flow
	ErrorAuthorizationPending ErrorCode = "authorization_pending"
	ErrorSlowDown             ErrorCode = "slow_down"
	ErrorExpiredToken         ErrorCode = "expired_token"

	// OIDC authorization errors
	ErrorLoginRequired       ErrorCode = "login_required"
	ErrorConsentRequired     ErrorCode = "consent_required"
	ErrorInteractionRequired ErrorCode = "interaction_required"
	ErrorAccountSelection    ErrorCode = "account_selection_required"
	ErrorRequestNotSupported ErrorCode = "request_not_supported"
)

// Error is a structured protocol error returned by validators. It is a value, not a
// failure of the server: callers decide how to deliver it (JSON body, redirect or error page).
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
	URI         string    `json:"error_uri,omitempty"`
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// StatusCode is the HTTP status used when the error is written as a JSON body.
func (e *Error) StatusCode() int {
	switch e.Code {
	case ErrorInvalidClient, ErrorInvalidToken:
		return 401
	case ErrorInsufficientScope, ErrorAccessDenied:
		return 403
	case ErrorServerError:
		return 500
	case ErrorTemporarilyUnavailable:
		return 503
	}
	return 400
}

// AsError extracts an *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
