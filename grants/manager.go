package grants

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultReplayWindow          = 30 * time.Minute
	defaultDeviceCodeRetention   = 5 * time.Minute
	defaultHandleLength          = 32
	userCodeDigits               = 9
	userCodeGenerationMaxRetries = 10
)

// Manager owns the lifecycle of every persisted grant: issuance, single use redemption,
// refresh rotation with reuse detection, reference tokens, the device flow and consent.
type Manager struct {
	store           Store
	nowTime         func() time.Time
	logger          zerolog.Logger
	events          *events.Service
	replayWindow    time.Duration
	deviceRetention time.Duration
	handleLength    int
	userCodeGen     func() (string, error)
}

type ManagerOption func(*Manager)

// WithNowTime sets the clock used for expiration math.
func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = now
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithEvents(e *events.Service) ManagerOption {
	return func(m *Manager) {
		m.events = e
	}
}

// WithReplayWindow sets how long a redeemed authorization code is remembered so that a
// second redemption is reported as a replay.
func WithReplayWindow(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.replayWindow = d
	}
}

// WithDeviceCodeRetention keeps expired device codes long enough to answer expired_token.
func WithDeviceCodeRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.deviceRetention = d
	}
}

func WithHandleLength(n int) ManagerOption {
	return func(m *Manager) {
		m.handleLength = n
	}
}

func WithUserCodeGenerator(gen func() (string, error)) ManagerOption {
	return func(m *Manager) {
		m.userCodeGen = gen
	}
}

func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("[NewManager] grant store is required")
	}
	m := &Manager{
		store:           store,
		nowTime:         time.Now,
		logger:          log.Logger,
		replayWindow:    defaultReplayWindow,
		deviceRetention: defaultDeviceCodeRetention,
		handleLength:    defaultHandleLength,
		userCodeGen:     numericUserCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) now() time.Time {
	return m.nowTime().UTC()
}

// Authorization codes

func (m *Manager) StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) (string, error) {
	if code.CreationTime.IsZero() {
		code.CreationTime = m.now()
	}
	handle, err := m.newHandle()
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, handle, KindAuthorizationCode, code.SubjectID, code.SessionID, code.ClientID, code.CreationTime, code.Expiration(), code); err != nil {
		return "", fmt.Errorf("[Manager.StoreAuthorizationCode] %w", err)
	}
	return handle, nil
}

// RedeemAuthorizationCode consumes a code. The first caller receives it; every later caller
// receives errors.ErrNotFound, or errors.ErrReplayDetected while the replay marker is retained.
func (m *Manager) RedeemAuthorizationCode(ctx context.Context, handle string) (*AuthorizationCode, error) {
	key := HashKey(handle, KindAuthorizationCode)
	g, err := m.store.Take(ctx, key)
	if err != nil {
		return nil, err
	}
	if g.ConsumedTime != nil {
		// Keep the marker for later attempts.
		if err := m.store.Set(ctx, g); err != nil {
			m.logger.Err(err).Msg("failed to restore authorization code replay marker")
		}
		m.logger.Warn().Str("event", events.AuthorizationCodeReplay).Str("client_id", g.ClientID).Str("sub", g.SubjectID).Msg("authorization code replay detected")
		m.events.Raise(ctx, events.Security, func() *events.Event {
			return &events.Event{Name: events.AuthorizationCodeReplay, ClientID: g.ClientID, SubjectID: g.SubjectID, Message: "authorization code redeemed more than once"}
		})
		return nil, errors.ErrReplayDetected
	}

	var code AuthorizationCode
	if err := json.Unmarshal(g.Data, &code); err != nil {
		return nil, fmt.Errorf("[Manager.RedeemAuthorizationCode] decode: %w", err)
	}

	now := m.now()
	marker := &PersistedGrant{
		Key:          key,
		Kind:         KindAuthorizationCode,
		SubjectID:    g.SubjectID,
		SessionID:    g.SessionID,
		ClientID:     g.ClientID,
		CreationTime: g.CreationTime,
		Expiration:   utils.TimePtrUTC(now.Add(m.replayWindow)),
		ConsumedTime: &now,
	}
	if err := m.store.Set(ctx, marker); err != nil {
		m.logger.Err(err).Msg("failed to write authorization code replay marker")
	}
	return &code, nil
}

// Refresh tokens

// StoreRefreshToken persists a refresh token, starting a new family when FamilyID is empty.
func (m *Manager) StoreRefreshToken(ctx context.Context, rt *RefreshToken) (string, error) {
	if rt.FamilyID == "" {
		rt.FamilyID = uuid.NewString()
	}
	if rt.Version == 0 {
		rt.Version = 1
	}
	if rt.CreationTime.IsZero() {
		rt.CreationTime = m.now()
	}
	handle, err := m.newHandle()
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, handle, KindRefreshToken, rt.SubjectID, rt.SessionID, rt.ClientID, rt.CreationTime, rt.Expiration(), rt); err != nil {
		return "", fmt.Errorf("[Manager.StoreRefreshToken] %w", err)
	}
	return handle, nil
}

// GetRefreshToken returns a live refresh token. Presenting a token that was already rotated
// revokes every refresh and reference token of its subject and client and returns
// errors.ErrReuseDetected.
func (m *Manager) GetRefreshToken(ctx context.Context, handle string) (*RefreshToken, error) {
	g, err := m.store.Get(ctx, HashKey(handle, KindRefreshToken))
	if err != nil {
		return nil, err
	}
	rt, err := decodeRefreshToken(g)
	if err != nil {
		return nil, err
	}
	if rt.ConsumedTime != nil {
		m.onRefreshTokenReuse(ctx, rt)
		return nil, errors.ErrReuseDetected
	}
	return rt, nil
}

// FindRefreshToken returns a refresh token whether or not it was already consumed, without
// any reuse handling. It is meant for revocation.
func (m *Manager) FindRefreshToken(ctx context.Context, handle string) (*RefreshToken, error) {
	g, err := m.store.Get(ctx, HashKey(handle, KindRefreshToken))
	if err != nil {
		return nil, err
	}
	return decodeRefreshToken(g)
}

// ConsumeRefreshToken atomically invalidates a one time refresh token. Only one of any
// number of concurrent callers succeeds. The consumed token is remembered until its original
// expiration so later reuse is detected.
func (m *Manager) ConsumeRefreshToken(ctx context.Context, handle string) (*RefreshToken, error) {
	key := HashKey(handle, KindRefreshToken)
	g, err := m.store.Take(ctx, key)
	if err != nil {
		return nil, err
	}
	rt, err := decodeRefreshToken(g)
	if err != nil {
		return nil, err
	}
	if rt.ConsumedTime != nil {
		m.onRefreshTokenReuse(ctx, rt)
		return nil, errors.ErrReuseDetected
	}

	now := m.now()
	consumed := *rt
	consumed.ConsumedTime = &now
	data, err := json.Marshal(&consumed)
	if err != nil {
		return nil, fmt.Errorf("[Manager.ConsumeRefreshToken] encode: %w", err)
	}
	marker := *g
	marker.ConsumedTime = &now
	marker.Data = data
	if err := m.store.Set(ctx, &marker); err != nil {
		m.logger.Err(err).Msg("failed to write refresh token reuse marker")
	}
	return rt, nil
}

// UpdateRefreshToken rewrites a reusable refresh token, e.g. to slide its expiration.
func (m *Manager) UpdateRefreshToken(ctx context.Context, handle string, rt *RefreshToken) error {
	if err := m.put(ctx, handle, KindRefreshToken, rt.SubjectID, rt.SessionID, rt.ClientID, rt.CreationTime, rt.Expiration(), rt); err != nil {
		return fmt.Errorf("[Manager.UpdateRefreshToken] %w", err)
	}
	return nil
}

func (m *Manager) RemoveRefreshToken(ctx context.Context, handle string) error {
	return m.store.Remove(ctx, HashKey(handle, KindRefreshToken))
}

// RevokeTokenFamily removes every refresh and reference token issued to subject for client.
func (m *Manager) RevokeTokenFamily(ctx context.Context, subjectID, clientID string) (int, error) {
	refresh, err := m.store.RemoveAll(ctx, Filter{SubjectID: subjectID, ClientID: clientID, Kind: KindRefreshToken})
	if err != nil {
		return refresh, fmt.Errorf("[Manager.RevokeTokenFamily] refresh tokens: %w", err)
	}
	reference, err := m.store.RemoveAll(ctx, Filter{SubjectID: subjectID, ClientID: clientID, Kind: KindReferenceToken})
	if err != nil {
		return refresh + reference, fmt.Errorf("[Manager.RevokeTokenFamily] reference tokens: %w", err)
	}
	return refresh + reference, nil
}

func (m *Manager) onRefreshTokenReuse(ctx context.Context, rt *RefreshToken) {
	m.logger.Warn().
		Str("event", events.RefreshTokenReuse).
		Str("client_id", rt.ClientID).
		Str("sub", rt.SubjectID).
		Str("family_id", rt.FamilyID).
		Int("version", rt.Version).
		Msg("refresh token reuse detected, revoking token family")
	n, err := m.RevokeTokenFamily(ctx, rt.SubjectID, rt.ClientID)
	if err != nil {
		m.logger.Err(err).Str("family_id", rt.FamilyID).Msg("failed to revoke token family")
	}
	m.events.Raise(ctx, events.Security, func() *events.Event {
		return &events.Event{
			Name:      events.RefreshTokenReuse,
			ClientID:  rt.ClientID,
			SubjectID: rt.SubjectID,
			Message:   "rotated refresh token presented again",
			Details:   map[string]any{"familyId": rt.FamilyID, "version": rt.Version, "revoked": n},
		}
	})
}

func decodeRefreshToken(g *PersistedGrant) (*RefreshToken, error) {
	var rt RefreshToken
	if err := json.Unmarshal(g.Data, &rt); err != nil {
		return nil, fmt.Errorf("[grants] decode refresh token: %w", err)
	}
	if g.ConsumedTime != nil && rt.ConsumedTime == nil {
		rt.ConsumedTime = g.ConsumedTime
	}
	return &rt, nil
}

// Reference tokens

func (m *Manager) StoreReferenceToken(ctx context.Context, t *Token) (string, error) {
	if t.CreationTime.IsZero() {
		t.CreationTime = m.now()
	}
	handle, err := m.newHandle()
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, handle, KindReferenceToken, t.SubjectID, t.SessionID, t.ClientID, t.CreationTime, t.Expiration(), t); err != nil {
		return "", fmt.Errorf("[Manager.StoreReferenceToken] %w", err)
	}
	return handle, nil
}

func (m *Manager) GetReferenceToken(ctx context.Context, handle string) (*Token, error) {
	g, err := m.store.Get(ctx, HashKey(handle, KindReferenceToken))
	if err != nil {
		return nil, err
	}
	var t Token
	if err := json.Unmarshal(g.Data, &t); err != nil {
		return nil, fmt.Errorf("[Manager.GetReferenceToken] decode: %w", err)
	}
	return &t, nil
}

// RemoveReferenceToken removes a reference token and the refresh token it was issued with.
func (m *Manager) RemoveReferenceToken(ctx context.Context, handle string) error {
	key := HashKey(handle, KindReferenceToken)
	g, err := m.store.Take(ctx, key)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var t Token
	if err := json.Unmarshal(g.Data, &t); err == nil && t.RefreshTokenKey != "" {
		if err := m.store.Remove(ctx, t.RefreshTokenKey); err != nil {
			return fmt.Errorf("[Manager.RemoveReferenceToken] chained refresh token: %w", err)
		}
	}
	return nil
}

// LinkTokens records that a reference access token and a refresh token were issued together
// so revoking either removes both.
func (m *Manager) LinkTokens(ctx context.Context, referenceHandle, refreshHandle string) error {
	refKey := HashKey(referenceHandle, KindReferenceToken)
	rtKey := HashKey(refreshHandle, KindRefreshToken)

	g, err := m.store.Get(ctx, refKey)
	if err != nil {
		return fmt.Errorf("[Manager.LinkTokens] reference token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(g.Data, &t); err != nil {
		return fmt.Errorf("[Manager.LinkTokens] decode reference token: %w", err)
	}
	t.RefreshTokenKey = rtKey
	if g.Data, err = json.Marshal(&t); err != nil {
		return err
	}
	if err := m.store.Set(ctx, g); err != nil {
		return err
	}

	rg, err := m.store.Get(ctx, rtKey)
	if err != nil {
		return fmt.Errorf("[Manager.LinkTokens] refresh token: %w", err)
	}
	rt, err := decodeRefreshToken(rg)
	if err != nil {
		return err
	}
	rt.ReferenceTokenKey = refKey
	if rg.Data, err = json.Marshal(rt); err != nil {
		return err
	}
	return m.store.Set(ctx, rg)
}

// RevokeRefreshToken removes a refresh token and every reference token of its subject and client.
func (m *Manager) RevokeRefreshToken(ctx context.Context, rt *RefreshToken, handle string) error {
	if err := m.RemoveRefreshToken(ctx, handle); err != nil {
		return err
	}
	if rt.ReferenceTokenKey != "" {
		if err := m.store.Remove(ctx, rt.ReferenceTokenKey); err != nil {
			return err
		}
	}
	if rt.SubjectID == "" {
		return nil
	}
	_, err := m.store.RemoveAll(ctx, Filter{SubjectID: rt.SubjectID, ClientID: rt.ClientID, Kind: KindReferenceToken})
	return err
}

// Consent

func consentKey(subjectID, clientID string) string {
	return HashKey(subjectID+"|"+clientID, KindUserConsent)
}

func (m *Manager) GetUserConsent(ctx context.Context, subjectID, clientID string) (*UserConsent, error) {
	g, err := m.store.Get(ctx, consentKey(subjectID, clientID))
	if err != nil {
		return nil, err
	}
	var c UserConsent
	if err := json.Unmarshal(g.Data, &c); err != nil {
		return nil, fmt.Errorf("[Manager.GetUserConsent] decode: %w", err)
	}
	return &c, nil
}

// StoreUserConsent records consent. An empty scope set removes any existing consent.
func (m *Manager) StoreUserConsent(ctx context.Context, c *UserConsent) error {
	if len(c.Scopes) == 0 {
		return m.RemoveUserConsent(ctx, c.SubjectID, c.ClientID)
	}
	if c.CreationTime.IsZero() {
		c.CreationTime = m.now()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, &PersistedGrant{
		Key:          consentKey(c.SubjectID, c.ClientID),
		Kind:         KindUserConsent,
		SubjectID:    c.SubjectID,
		ClientID:     c.ClientID,
		CreationTime: c.CreationTime,
		Expiration:   c.Expiration,
		Data:         data,
	})
}

func (m *Manager) RemoveUserConsent(ctx context.Context, subjectID, clientID string) error {
	return m.store.Remove(ctx, consentKey(subjectID, clientID))
}

// RemoveAllGrants removes every grant of a subject (optionally limited to a client and kind).
func (m *Manager) RemoveAllGrants(ctx context.Context, subjectID, clientID string, kind Kind) (int, error) {
	return m.store.RemoveAll(ctx, Filter{SubjectID: subjectID, ClientID: clientID, Kind: kind})
}

// GetAllGrants lists the grants of a subject, used to find the clients it has sessions with.
func (m *Manager) GetAllGrants(ctx context.Context, subjectID string) ([]*PersistedGrant, error) {
	return m.store.GetAll(ctx, Filter{SubjectID: subjectID})
}

// helpers

func (m *Manager) put(ctx context.Context, handle string, kind Kind, subjectID, sessionID, clientID string, created, expires time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if created.IsZero() {
		created = m.now()
	}
	return m.store.Set(ctx, &PersistedGrant{
		Key:          HashKey(handle, kind),
		Kind:         kind,
		SubjectID:    subjectID,
		SessionID:    sessionID,
		ClientID:     clientID,
		CreationTime: created,
		Expiration:   utils.TimePtrUTC(expires),
		Data:         data,
	})
}

// newHandle generates a cryptographically random URL safe handle.
func (m *Manager) newHandle() (string, error) {
	b := make([]byte, m.handleLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[Manager.newHandle] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func numericUserCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < userCodeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", userCodeDigits, n), nil
}
