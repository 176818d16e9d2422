package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/internal/utils"
)

// DeviceApproval is what the signed-in user grants to a pending device code.
type DeviceApproval struct {
	SubjectID        string
	SessionID        string
	AuthTime         time.Time
	AMR              []string
	AuthorizedScopes []string
}

// StoreDeviceAuthorization persists a new pending device code and returns the device code
// handle (for the device) and the user code (for the user).
func (m *Manager) StoreDeviceAuthorization(ctx context.Context, dc *DeviceCode) (string, string, error) {
	deviceCode, err := m.newHandle()
	if err != nil {
		return "", "", err
	}
	userCode, err := m.uniqueUserCode(ctx)
	if err != nil {
		return "", "", err
	}

	if dc.CreationTime.IsZero() {
		dc.CreationTime = m.now()
	}
	dc.State = DeviceCodePending
	dc.UserCodeKey = HashKey(userCode, KindUserCode)
	deviceKey := HashKey(deviceCode, KindDeviceCode)
	retainUntil := dc.Expiration().Add(m.deviceRetention)

	if err := m.putDeviceCode(ctx, deviceKey, dc, retainUntil); err != nil {
		return "", "", fmt.Errorf("[Manager.StoreDeviceAuthorization] %w", err)
	}
	idx, err := json.Marshal(userCodeIndex{DeviceCodeKey: deviceKey})
	if err != nil {
		return "", "", err
	}
	if err := m.store.Set(ctx, &PersistedGrant{
		Key:          dc.UserCodeKey,
		Kind:         KindUserCode,
		ClientID:     dc.ClientID,
		CreationTime: dc.CreationTime,
		Expiration:   utils.TimePtrUTC(dc.Expiration()),
		Data:         idx,
	}); err != nil {
		return "", "", fmt.Errorf("[Manager.StoreDeviceAuthorization] user code: %w", err)
	}
	return deviceCode, userCode, nil
}

// FindDeviceCodeByUserCode resolves a user code entered on the verification page.
func (m *Manager) FindDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	deviceKey, err := m.deviceKeyForUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	dc, _, err := m.getDeviceCode(ctx, deviceKey)
	return dc, err
}

// FindDeviceCodeByDeviceCode returns the device code the device is polling with. Expired codes
// are still returned during the retention window so callers can answer expired_token.
func (m *Manager) FindDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	dc, _, err := m.getDeviceCode(ctx, HashKey(deviceCode, KindDeviceCode))
	return dc, err
}

// ApproveDeviceCode moves a pending device code to authorized and attaches the subject.
func (m *Manager) ApproveDeviceCode(ctx context.Context, userCode string, approval DeviceApproval) error {
	return m.transitionDeviceCode(ctx, userCode, func(dc *DeviceCode) {
		dc.State = DeviceCodeAuthorized
		dc.SubjectID = approval.SubjectID
		dc.SessionID = approval.SessionID
		dc.AuthTime = approval.AuthTime
		dc.AMR = approval.AMR
		dc.AuthorizedScopes = approval.AuthorizedScopes
	})
}

// DenyDeviceCode moves a pending device code to denied.
func (m *Manager) DenyDeviceCode(ctx context.Context, userCode string) error {
	return m.transitionDeviceCode(ctx, userCode, func(dc *DeviceCode) {
		dc.State = DeviceCodeDenied
	})
}

// transitionDeviceCode takes the device code out of the store while it is changed, so of two
// concurrent transitions only one sees the pending state.
func (m *Manager) transitionDeviceCode(ctx context.Context, userCode string, apply func(*DeviceCode)) error {
	deviceKey, err := m.deviceKeyForUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	g, err := m.store.Take(ctx, deviceKey)
	if errors.Is(err, errors.ErrNotFound) {
		return errors.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("[Manager.transitionDeviceCode] %w", err)
	}
	var dc DeviceCode
	if err := json.Unmarshal(g.Data, &dc); err != nil {
		m.restoreDeviceCode(ctx, g)
		return fmt.Errorf("[Manager.transitionDeviceCode] decode: %w", err)
	}
	if dc.IsExpired(m.now()) {
		m.restoreDeviceCode(ctx, g)
		return errors.ErrExpired
	}
	if dc.State != DeviceCodePending {
		m.restoreDeviceCode(ctx, g)
		return errors.ErrInvalidState
	}
	apply(&dc)
	if err := m.putDeviceCode(ctx, deviceKey, &dc, utils.Value(g.Expiration)); err != nil {
		m.restoreDeviceCode(ctx, g)
		return fmt.Errorf("[Manager.transitionDeviceCode] %w", err)
	}
	return nil
}

func (m *Manager) restoreDeviceCode(ctx context.Context, g *PersistedGrant) {
	if err := m.store.Set(ctx, g); err != nil {
		m.logger.Err(err).Msg("failed to restore device code")
	}
}

// RecordDevicePoll stores the poll time and reports whether the device polled faster than
// interval since its previous poll.
func (m *Manager) RecordDevicePoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, error) {
	key := HashKey(deviceCode, KindDevicePoll)
	now := m.now()
	tooFast := false

	g, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		var p devicePoll
		if err := json.Unmarshal(g.Data, &p); err == nil && now.Sub(p.LastPolledAt) < interval {
			tooFast = true
		}
	case !errors.Is(err, errors.ErrNotFound):
		return false, err
	}

	data, err := json.Marshal(devicePoll{LastPolledAt: now})
	if err != nil {
		return false, err
	}
	dg, err := m.store.Get(ctx, HashKey(deviceCode, KindDeviceCode))
	if err != nil {
		return tooFast, nil
	}
	if err := m.store.Set(ctx, &PersistedGrant{
		Key:          key,
		Kind:         KindDevicePoll,
		ClientID:     dg.ClientID,
		CreationTime: now,
		Expiration:   dg.Expiration,
		Data:         data,
	}); err != nil {
		return tooFast, err
	}
	return tooFast, nil
}

// RedeemDeviceCode atomically consumes an authorized device code. Exactly one of any number
// of concurrent callers receives it.
func (m *Manager) RedeemDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	deviceKey := HashKey(deviceCode, KindDeviceCode)
	g, err := m.store.Take(ctx, deviceKey)
	if err != nil {
		return nil, err
	}
	var dc DeviceCode
	if err := json.Unmarshal(g.Data, &dc); err != nil {
		return nil, fmt.Errorf("[Manager.RedeemDeviceCode] decode: %w", err)
	}
	if dc.State != DeviceCodeAuthorized {
		m.restoreDeviceCode(ctx, g)
		return nil, errors.ErrInvalidState
	}
	if err := m.store.Remove(ctx, dc.UserCodeKey); err != nil {
		m.logger.Err(err).Msg("failed to remove user code")
	}
	if err := m.store.Remove(ctx, HashKey(deviceCode, KindDevicePoll)); err != nil {
		m.logger.Err(err).Msg("failed to remove device poll record")
	}
	return &dc, nil
}

func (m *Manager) deviceKeyForUserCode(ctx context.Context, userCode string) (string, error) {
	g, err := m.store.Get(ctx, HashKey(userCode, KindUserCode))
	if err != nil {
		return "", err
	}
	var idx userCodeIndex
	if err := json.Unmarshal(g.Data, &idx); err != nil {
		return "", fmt.Errorf("[Manager.deviceKeyForUserCode] decode: %w", err)
	}
	return idx.DeviceCodeKey, nil
}

func (m *Manager) getDeviceCode(ctx context.Context, key string) (*DeviceCode, *PersistedGrant, error) {
	g, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	var dc DeviceCode
	if err := json.Unmarshal(g.Data, &dc); err != nil {
		return nil, nil, fmt.Errorf("[Manager.getDeviceCode] decode: %w", err)
	}
	return &dc, g, nil
}

func (m *Manager) putDeviceCode(ctx context.Context, key string, dc *DeviceCode, retainUntil time.Time) error {
	data, err := json.Marshal(dc)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, &PersistedGrant{
		Key:          key,
		Kind:         KindDeviceCode,
		SubjectID:    dc.SubjectID,
		SessionID:    dc.SessionID,
		ClientID:     dc.ClientID,
		CreationTime: dc.CreationTime,
		Expiration:   utils.TimePtrUTC(retainUntil),
		Data:         data,
	})
}

func (m *Manager) uniqueUserCode(ctx context.Context) (string, error) {
	for i := 0; i < userCodeGenerationMaxRetries; i++ {
		code, err := m.userCodeGen()
		if err != nil {
			return "", fmt.Errorf("[Manager.uniqueUserCode] %w", err)
		}
		_, err = m.store.Get(ctx, HashKey(code, KindUserCode))
		if errors.Is(err, errors.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("[Manager.uniqueUserCode] could not generate a unique user code")
}
