package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType classifies an event for sink filtering.
type EventType string

const (
	Success     EventType = "Success"
	Failure     EventType = "Failure"
	Information EventType = "Information"
	Error       EventType = "Error"
	// Security events are failures that indicate a likely attack, e.g. token replay.
	Security EventType = "Security"
)

// Event names
const (
	TokenIssuedSuccess          = "TokenIssuedSuccess"
	TokenIssuedFailure          = "TokenIssuedFailure"
	TokenRevokedSuccess         = "TokenRevokedSuccess"
	TokenIntrospectionSuccess   = "TokenIntrospectionSuccess"
	TokenIntrospectionFailure   = "TokenIntrospectionFailure"
	ClientAuthenticationSuccess = "ClientAuthenticationSuccess"
	ClientAuthenticationFailure = "ClientAuthenticationFailure"
	APIAuthenticationFailure    = "ApiAuthenticationFailure"
	AuthorizationCodeReplay     = "AuthorizationCodeReplay"
	RefreshTokenReuse           = "RefreshTokenReuse"
	DeviceAuthorizationSuccess  = "DeviceAuthorizationSuccess"
	DeviceAuthorizationFailure  = "DeviceAuthorizationFailure"
	DeviceCodeApproved          = "DeviceCodeApproved"
	DeviceCodeDenied            = "DeviceCodeDenied"
	ConsentGranted              = "ConsentGranted"
	ConsentDenied               = "ConsentDenied"
	UserLoginSuccess            = "UserLoginSuccess"
	UserLoginFailure            = "UserLoginFailure"
	UserLogoutSuccess           = "UserLogoutSuccess"
	UnhandledError              = "UnhandledError"
)

// Event is a structured audit record.
type Event struct {
	Name      string         `json:"name"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message,omitempty"`
	ClientID  string         `json:"clientId,omitempty"`
	SubjectID string         `json:"subjectId,omitempty"`
	GrantType string         `json:"grantType,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	TimeStamp time.Time      `json:"timeStamp"`
}

// Sink receives events it has declared interest in.
type Sink interface {
	Enabled(t EventType) bool
	Persist(ctx context.Context, e *Event) error
}

// Service fans events out to sinks. A nil *Service discards everything.
type Service struct {
	sinks   []Sink
	nowTime func() time.Time
	logger  zerolog.Logger
}

type Option func(*Service)

func WithSink(s Sink) Option {
	return func(svc *Service) {
		svc.sinks = append(svc.sinks, s)
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(svc *Service) {
		svc.nowTime = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) {
		svc.logger = l
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise builds the event only when at least one sink wants events of type t.
func (s *Service) Raise(ctx context.Context, t EventType, build func() *Event) {
	if s == nil || build == nil {
		return
	}
	var targets []Sink
	for _, sink := range s.sinks {
		if sink.Enabled(t) {
			targets = append(targets, sink)
		}
	}
	if len(targets) == 0 {
		return
	}
	e := build()
	if e == nil {
		return
	}
	e.Type = t
	if e.TimeStamp.IsZero() {
		e.TimeStamp = s.nowTime().UTC()
	}
	for _, sink := range targets {
		if err := sink.Persist(ctx, e); err != nil {
			s.logger.Err(err).Str("event", e.Name).Msg("failed to persist event")
		}
	}
}
