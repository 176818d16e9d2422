package users

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	_ oauthmodel.ProfileService    = (*ProfileService)(nil)
	_ oauthmodel.PasswordValidator = (*ProfileService)(nil)
)

// ProfileService serves user claims and credentials from a UserRepo.
type ProfileService struct {
	repo    UserRepo
	nowTime func() time.Time
	logger  zerolog.Logger
}

type ProfileOption func(*ProfileService)

func WithNowTime(now func() time.Time) ProfileOption {
	return func(p *ProfileService) {
		p.nowTime = now
	}
}

func WithLogger(l zerolog.Logger) ProfileOption {
	return func(p *ProfileService) {
		p.logger = l
	}
}

func NewProfileService(repo UserRepo, opts ...ProfileOption) (*ProfileService, error) {
	if repo == nil {
		return nil, fmt.Errorf("[NewProfileService] user repo is required")
	}
	p := &ProfileService{repo: repo, nowTime: time.Now, logger: log.Logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetClaims returns the user's claims restricted to claimTypes. Claim types the user has no
// value for are skipped.
func (p *ProfileService) GetClaims(ctx context.Context, subjectID string, claimTypes []string) ([]oauthmodel.Claim, error) {
	u, err := p.repo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("[ProfileService.GetClaims] %w", err)
	}
	values := u.ClaimValues()
	out := make([]oauthmodel.Claim, 0, len(claimTypes))
	for _, ct := range claimTypes {
		if v, ok := values[ct]; ok {
			out = append(out, oauthmodel.Claim{Type: ct, Value: v})
		}
	}
	return out, nil
}

// IsActive reports false for blocked or deleted users.
func (p *ProfileService) IsActive(ctx context.Context, subjectID string) (bool, error) {
	u, err := p.repo.GetByID(ctx, subjectID)
	if errors.Is(err, errors.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[ProfileService.IsActive] %w", err)
	}
	return !u.Blocked, nil
}

// ValidateCredentials checks a username (or email) and password and returns the subject id.
// Unknown users and wrong passwords both return errors.ErrInvalidCredentials.
func (p *ProfileService) ValidateCredentials(ctx context.Context, username, password string) (string, error) {
	u, err := p.repo.GetByUsername(ctx, username)
	if errors.Is(err, errors.ErrUserNotFound) {
		u, err = p.repo.GetByEmail(ctx, username)
	}
	if errors.Is(err, errors.ErrUserNotFound) {
		return "", errors.ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("[ProfileService.ValidateCredentials] %w", err)
	}
	if !CheckPasswordHash(password, u.PasswordHash) {
		return "", errors.ErrInvalidCredentials
	}
	if u.Blocked {
		return "", errors.ErrUserBlocked
	}
	if err := p.repo.SetLastLogin(ctx, u.ID, p.nowTime().UTC()); err != nil {
		p.logger.Err(err).Str("sub", u.ID).Msg("failed to record last login")
	}
	return u.ID, nil
}
