package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/jrsteele09/go-oidc-provider/oauth2"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InteractionResult tells the caller what has to happen before a validated authorize request
// can be answered. At most one of the fields is set; none means the response can be generated.
type InteractionResult struct {
	IsLogin   bool
	IsConsent bool
	Error     *AuthorizeError
}

func (r *InteractionResult) Done() bool {
	return !r.IsLogin && !r.IsConsent && r.Error == nil
}

// InteractionEvaluator decides whether the user must sign in or consent.
type InteractionEvaluator struct {
	grants  *grants.Manager
	profile oauthmodel.ProfileService
	events  *events.Service
	opts    Options
	nowTime func() time.Time
	logger  zerolog.Logger
}

type InteractionOption func(*InteractionEvaluator)

func WithInteractionNowTime(now func() time.Time) InteractionOption {
	return func(e *InteractionEvaluator) {
		e.nowTime = now
	}
}

func WithInteractionEvents(s *events.Service) InteractionOption {
	return func(e *InteractionEvaluator) {
		e.events = s
	}
}

func NewInteractionEvaluator(opts Options, manager *grants.Manager, profile oauthmodel.ProfileService, options ...InteractionOption) (*InteractionEvaluator, error) {
	if manager == nil {
		return nil, fmt.Errorf("[NewInteractionEvaluator] grant manager is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("[NewInteractionEvaluator] profile service is required")
	}
	e := &InteractionEvaluator{grants: manager, profile: profile, opts: opts.withDefaults(), nowTime: time.Now, logger: log.Logger}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Evaluate inspects the request against the signed-in subject. A prompt=none request whose
// id_token_hint names another user than the signed-in one is interaction_required.
func (e *InteractionEvaluator) Evaluate(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest) (*InteractionResult, error) {
	if req.HasPrompt(oauth2.PromptNone) && req.Subject.IsAuthenticated() &&
		req.IDTokenHintSubject != "" && req.IDTokenHintSubject != req.Subject.ID {
		return &InteractionResult{Error: e.silentError(req, oauth2.ErrorInteractionRequired, "signed-in user does not match id_token_hint")}, nil
	}
	login, err := e.loginRequired(ctx, req)
	if err != nil {
		return nil, err
	}
	if login {
		if req.HasPrompt(oauth2.PromptNone) {
			return &InteractionResult{Error: e.silentError(req, oauth2.ErrorLoginRequired, "login required")}, nil
		}
		return &InteractionResult{IsLogin: true}, nil
	}

	consent, err := e.consentRequired(ctx, req)
	if err != nil {
		return nil, err
	}
	if consent {
		if req.HasPrompt(oauth2.PromptNone) {
			return &InteractionResult{Error: e.silentError(req, oauth2.ErrorConsentRequired, "consent required")}, nil
		}
		return &InteractionResult{IsConsent: true}, nil
	}
	return &InteractionResult{}, nil
}

func (e *InteractionEvaluator) loginRequired(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest) (bool, error) {
	if req.HasPrompt(oauth2.PromptLogin) || req.HasPrompt(oauth2.PromptSelectAccount) {
		return true, nil
	}
	subject := req.Subject
	if !subject.IsAuthenticated() {
		return true, nil
	}
	if req.IDTokenHintSubject != "" && req.IDTokenHintSubject != subject.ID {
		return true, nil
	}
	if req.MaxAge != nil && e.nowTime().After(subject.AuthTime.Add(time.Duration(*req.MaxAge)*time.Second)) {
		return true, nil
	}
	active, err := e.profile.IsActive(ctx, subject.ID)
	if err != nil {
		return false, fmt.Errorf("[InteractionEvaluator.loginRequired] %w", err)
	}
	return !active, nil
}

func (e *InteractionEvaluator) consentRequired(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest) (bool, error) {
	if req.HasPrompt(oauth2.PromptConsent) {
		return true, nil
	}
	if !req.Client.RequireConsent {
		return false, nil
	}
	if !req.Client.AllowRememberConsent {
		return true, nil
	}
	if req.Resources.OfflineAccess {
		return true, nil
	}
	consent, err := e.grants.GetUserConsent(ctx, req.Subject.ID, req.Client.ID)
	if errors.Is(err, errors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("[InteractionEvaluator.consentRequired] %w", err)
	}
	for _, s := range req.Resources.RawScopeValues() {
		if !utils.Contains(consent.Scopes, s) {
			return true, nil
		}
	}
	return false, nil
}

// silentError builds the error of a prompt=none request. It only goes to the client when the
// client opted in, otherwise it is shown on the error page.
func (e *InteractionEvaluator) silentError(req *oauthmodel.ValidatedAuthorizeRequest, code oauth2.ErrorCode, description string) *AuthorizeError {
	ae := &AuthorizeError{Err: oauth2.NewError(code, description), ClientID: req.Client.ID, State: req.State}
	if req.Client.AllowPromptNoneErrorRedirect {
		ae.RedirectURI = req.RedirectURI
		ae.ResponseMode = req.ResponseMode
	}
	return ae
}

// ConsentResponse is the user's answer on the consent page.
type ConsentResponse struct {
	Granted         bool
	ScopesConsented []string
	RememberConsent bool
}

// ProcessConsent applies the user's consent to a validated request. Required scopes are
// always kept. A denial, or consenting to nothing, is access_denied delivered to the client.
func (e *InteractionEvaluator) ProcessConsent(ctx context.Context, req *oauthmodel.ValidatedAuthorizeRequest, resp ConsentResponse) (*oauthmodel.ValidatedAuthorizeRequest, error) {
	denied := func() error {
		e.events.Raise(ctx, events.Failure, func() *events.Event {
			return &events.Event{Name: events.ConsentDenied, ClientID: req.Client.ID, SubjectID: req.Subject.ID}
		})
		return &AuthorizeError{
			Err:          oauth2.NewError(oauth2.ErrorAccessDenied, "the user denied the request"),
			ClientID:     req.Client.ID,
			RedirectURI:  req.RedirectURI,
			ResponseMode: req.ResponseMode,
			State:        req.State,
		}
	}
	if !resp.Granted {
		return nil, denied()
	}

	keep := keptScopes(req.Resources, resp.ScopesConsented)
	filtered := req.Resources.Filter(keep)
	if filtered.IsEmpty() {
		return nil, denied()
	}
	if req.IsOpenIDRequest && !filtered.HasOpenID() {
		return nil, denied()
	}

	if req.Client.AllowRememberConsent {
		consent := &grants.UserConsent{SubjectID: req.Subject.ID, ClientID: req.Client.ID}
		if resp.RememberConsent {
			consent.Scopes = filtered.RawScopeValues()
			lifetime := req.Client.ConsentLifetime
			if lifetime == 0 {
				lifetime = e.opts.DefaultConsentLifetime
			}
			if lifetime > 0 {
				consent.Expiration = utils.TimePtrUTC(e.nowTime().Add(lifetime))
			}
		}
		if err := e.grants.StoreUserConsent(ctx, consent); err != nil {
			return nil, fmt.Errorf("[InteractionEvaluator.ProcessConsent] %w", err)
		}
	}
	e.events.Raise(ctx, events.Success, func() *events.Event {
		return &events.Event{Name: events.ConsentGranted, ClientID: req.Client.ID, SubjectID: req.Subject.ID, Details: map[string]any{"scopes": filtered.RawScopeValues(), "remember": resp.RememberConsent}}
	})

	out := *req
	out.Resources = filtered
	out.RequestedScopes = filtered.RawScopeValues()
	return &out, nil
}
