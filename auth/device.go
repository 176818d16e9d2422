package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-provider/clients"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/jrsteele09/go-oidc-provider/resources"
	"github.com/jrsteele09/go-oidc-provider/secrets"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeviceAuthorizationRequestValidator validates requests to the device authorization endpoint.
type DeviceAuthorizationRequestValidator struct {
	opts   Options
	scopes *resources.ScopeValidator
	events *events.Service
}

func NewDeviceAuthorizationRequestValidator(opts Options, scopes *resources.ScopeValidator, e *events.Service) (*DeviceAuthorizationRequestValidator, error) {
	if scopes == nil {
		return nil, fmt.Errorf("[NewDeviceAuthorizationRequestValidator] scope validator is required")
	}
	return &DeviceAuthorizationRequestValidator{opts: opts.withDefaults(), scopes: scopes, events: e}, nil
}

// Validate checks that the client may use the device flow. Without a scope parameter every
// scope the client is allowed is requested.
func (v *DeviceAuthorizationRequestValidator) Validate(ctx context.Context, params url.Values, client *secrets.ClientResult) (*oauthmodel.ValidatedDeviceAuthorizationRequest, error) {
	if client == nil || client.Client == nil {
		return nil, fmt.Errorf("[DeviceAuthorizationRequestValidator.Validate] client is required")
	}
	req, err := v.validate(ctx, params, client)
	if err != nil {
		v.events.Raise(ctx, events.Failure, func() *events.Event {
			return &events.Event{Name: events.DeviceAuthorizationFailure, ClientID: client.Client.ID, Message: err.Error()}
		})
		return nil, err
	}
	return req, nil
}

func (v *DeviceAuthorizationRequestValidator) validate(ctx context.Context, params url.Values, client *secrets.ClientResult) (*oauthmodel.ValidatedDeviceAuthorizationRequest, error) {
	if !client.Client.IsGrantTypeAllowed(oauth2.DeviceCodeGrant) {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "client is not allowed to use the device flow")
	}
	scope := params.Get("scope")
	if len(scope) > v.opts.InputLengths.Scope {
		return nil, invalidRequest("scope too long")
	}
	scopes := utils.SplitScopes(scope)
	if len(scopes) == 0 {
		scopes = client.Client.AllowedScopes
	}
	indicators := params["resource"]
	if err := checkResourceIndicators(indicators, v.opts.InputLengths.ResourceIndicator); err != nil {
		return nil, err
	}
	res, err := resolveScopes(ctx, v.scopes, client.Client, scopes, indicators)
	if err != nil {
		return nil, err
	}
	if res.IsEmpty() {
		return nil, oauth2.NewError(oauth2.ErrorInvalidScope, "no scopes requested")
	}

	req := &oauthmodel.ValidatedDeviceAuthorizationRequest{
		RequestedScopes:    res.RawScopeValues(),
		ResourceIndicators: indicators,
		Resources:          res,
		IsOpenIDRequest:    res.HasOpenID(),
	}
	req.Client = client.Client
	req.Confirmation = client.Confirmation
	return req, nil
}

// PendingDevice is a device code awaiting the user's decision on the verification page.
type PendingDevice struct {
	UserCode   string
	DeviceCode *grants.DeviceCode
	Client     *clients.Client
	Resources  *resources.ValidatedResources
}

// DeviceApprovalValidator resolves user codes and records the user's decision.
type DeviceApprovalValidator struct {
	opts    Options
	grants  *grants.Manager
	clients clients.Repo
	scopes  *resources.ScopeValidator
	events  *events.Service
	nowTime func() time.Time
	logger  zerolog.Logger
}

type DeviceApprovalOption func(*DeviceApprovalValidator)

func WithDeviceApprovalEvents(e *events.Service) DeviceApprovalOption {
	return func(v *DeviceApprovalValidator) {
		v.events = e
	}
}

func WithDeviceApprovalNowTime(now func() time.Time) DeviceApprovalOption {
	return func(v *DeviceApprovalValidator) {
		v.nowTime = now
	}
}

func NewDeviceApprovalValidator(opts Options, manager *grants.Manager, clientRepo clients.Repo, scopes *resources.ScopeValidator, options ...DeviceApprovalOption) (*DeviceApprovalValidator, error) {
	if manager == nil {
		return nil, fmt.Errorf("[NewDeviceApprovalValidator] grant manager is required")
	}
	if clientRepo == nil {
		return nil, fmt.Errorf("[NewDeviceApprovalValidator] client repo is required")
	}
	if scopes == nil {
		return nil, fmt.Errorf("[NewDeviceApprovalValidator] scope validator is required")
	}
	v := &DeviceApprovalValidator{
		opts:    opts.withDefaults(),
		grants:  manager,
		clients: clientRepo,
		scopes:  scopes,
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate resolves a user code to a pending device authorization.
func (v *DeviceApprovalValidator) Validate(ctx context.Context, userCode string) (*PendingDevice, error) {
	if userCode == "" || len(userCode) > v.opts.InputLengths.UserCode {
		return nil, invalidRequest("invalid user code")
	}
	dc, err := v.grants.FindDeviceCodeByUserCode(ctx, userCode)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, invalidRequest("invalid user code")
	}
	if err != nil {
		return nil, fmt.Errorf("[DeviceApprovalValidator.Validate] %w", err)
	}
	if dc.IsExpired(v.nowTime()) {
		return nil, oauth2.NewError(oauth2.ErrorExpiredToken, "the user code has expired")
	}
	if dc.State != grants.DeviceCodePending {
		return nil, invalidRequest("the user code has already been used")
	}
	client, err := v.clients.Get(ctx, dc.ClientID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("[DeviceApprovalValidator.Validate] %w", err)
	}
	if !client.Enabled {
		return nil, oauth2.NewError(oauth2.ErrorUnauthorizedClient, "client is disabled")
	}
	res, err := resolveScopes(ctx, v.scopes, client, dc.RequestedScopes, dc.ResourceIndicators)
	if err != nil {
		return nil, err
	}
	return &PendingDevice{UserCode: userCode, DeviceCode: dc, Client: client, Resources: res}, nil
}

// Approve grants the consented scopes to the device. Required scopes are always kept.
func (v *DeviceApprovalValidator) Approve(ctx context.Context, userCode string, subject *oauthmodel.Subject, scopesConsented []string) error {
	if !subject.IsAuthenticated() {
		return oauth2.NewError(oauth2.ErrorLoginRequired, "login required")
	}
	pending, err := v.Validate(ctx, userCode)
	if err != nil {
		return err
	}
	keep := keptScopes(pending.Resources, scopesConsented)
	granted := pending.Resources.Filter(keep)
	if granted.IsEmpty() || (pending.Resources.HasOpenID() && !granted.HasOpenID()) {
		return oauth2.NewError(oauth2.ErrorAccessDenied, "no scopes were consented")
	}
	err = v.grants.ApproveDeviceCode(ctx, userCode, grants.DeviceApproval{
		SubjectID:        subject.ID,
		SessionID:        subject.SessionID,
		AuthTime:         subject.AuthTime,
		AMR:              subject.AMR,
		AuthorizedScopes: granted.RawScopeValues(),
	})
	if err != nil {
		return deviceTransitionError("[DeviceApprovalValidator.Approve]", err)
	}
	v.logger.Info().Str("client_id", pending.Client.ID).Str("sub", subject.ID).Msg("device code approved")
	v.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{Name: events.DeviceCodeApproved, ClientID: pending.Client.ID, SubjectID: subject.ID, Details: map[string]any{"scopes": granted.RawScopeValues()}}
	})
	return nil
}

// Deny records the user's refusal; the device receives access_denied on its next poll.
func (v *DeviceApprovalValidator) Deny(ctx context.Context, userCode string, subject *oauthmodel.Subject) error {
	pending, err := v.Validate(ctx, userCode)
	if err != nil {
		return err
	}
	if err := v.grants.DenyDeviceCode(ctx, userCode); err != nil {
		return deviceTransitionError("[DeviceApprovalValidator.Deny]", err)
	}
	v.events.Raise(ctx, events.Failure, func() *events.Event {
		e := &events.Event{Name: events.DeviceCodeDenied, ClientID: pending.Client.ID}
		if subject != nil {
			e.SubjectID = subject.ID
		}
		return e
	})
	return nil
}

// deviceTransitionError maps a lost race on the device code to the same protocol errors
// Validate returns.
func deviceTransitionError(op string, err error) error {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return invalidRequest("invalid user code")
	case errors.Is(err, errors.ErrExpired):
		return oauth2.NewError(oauth2.ErrorExpiredToken, "the user code has expired")
	case errors.Is(err, errors.ErrInvalidState):
		return invalidRequest("the user code has already been used")
	}
	return fmt.Errorf("%s %w", op, err)
}

// keptScopes returns the consented raw scope values plus every required scope.
func keptScopes(res *resources.ValidatedResources, consented []string) []string {
	required := make(map[string]struct{})
	for _, ir := range res.IdentityResources {
		if ir.Required {
			required[ir.Name] = struct{}{}
		}
	}
	for _, s := range res.APIScopes {
		if s.Required {
			required[s.Name] = struct{}{}
		}
	}
	var keep []string
	for _, p := range res.ParsedScopes {
		_, req := required[p.Name]
		if req || utils.Contains(consented, p.RawValue) {
			keep = append(keep, p.RawValue)
		}
	}
	return keep
}
