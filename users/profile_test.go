package users_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-provider/users/repofake"
	"github.com/stretchr/testify/require"
)

const testPassword = "Sup3rSecret"

func setupTestFixture(t *testing.T) (*users.ProfileService, *fakeuserrepo.FakeUserRepo) {
	t.Helper()
	hash, err := users.HashPassword(testPassword)
	require.NoError(t, err)
	repo := fakeuserrepo.NewFakeUserRepo(
		&users.User{ID: "alice", Username: "alice", Email: "alice@example.com", PasswordHash: hash, FirstName: "Alice", LastName: "Smith", Verified: true, Roles: []users.RoleType{users.RoleAdmin}},
		&users.User{ID: "bob", Username: "bob", Email: "bob@example.com", PasswordHash: hash, Blocked: true},
	)
	svc, err := users.NewProfileService(repo)
	require.NoError(t, err)
	return svc, repo
}

func TestProfileService_GetClaims(t *testing.T) {
	svc, _ := setupTestFixture(t)
	claims, err := svc.GetClaims(context.Background(), "alice", []string{"name", "email", "email_verified", "role", "phone_number"})
	require.NoError(t, err)

	got := map[string]any{}
	for _, c := range claims {
		got[c.Type] = c.Value
	}
	require.Equal(t, map[string]any{
		"name":           "Alice Smith",
		"email":          "alice@example.com",
		"email_verified": true,
		"role":           []string{"admin"},
	}, got)

	_, err = svc.GetClaims(context.Background(), "nobody", []string{"name"})
	require.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestProfileService_IsActive(t *testing.T) {
	svc, _ := setupTestFixture(t)
	ctx := context.Background()

	active, err := svc.IsActive(ctx, "alice")
	require.NoError(t, err)
	require.True(t, active)

	active, err = svc.IsActive(ctx, "bob")
	require.NoError(t, err)
	require.False(t, active)

	active, err = svc.IsActive(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, active)
}

func TestProfileService_ValidateCredentials(t *testing.T) {
	svc, repo := setupTestFixture(t)
	ctx := context.Background()

	sub, err := svc.ValidateCredentials(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
	u, err := repo.GetByID(ctx, "alice")
	require.NoError(t, err)
	require.False(t, u.LastLogin.IsZero())

	sub, err = svc.ValidateCredentials(ctx, "alice@example.com", testPassword)
	require.NoError(t, err)
	require.Equal(t, "alice", sub)

	_, err = svc.ValidateCredentials(ctx, "alice", "wrong")
	require.ErrorIs(t, err, errors.ErrInvalidCredentials)
	_, err = svc.ValidateCredentials(ctx, "nobody", testPassword)
	require.ErrorIs(t, err, errors.ErrInvalidCredentials)
	_, err = svc.ValidateCredentials(ctx, "bob", testPassword)
	require.ErrorIs(t, err, errors.ErrUserBlocked)
}

func TestValidatePasswordStrength(t *testing.T) {
	require.NoError(t, users.ValidatePasswordStrength(testPassword))
	require.Error(t, users.ValidatePasswordStrength("short1A"))
	require.Error(t, users.ValidatePasswordStrength("alllowercase1"))
	require.Error(t, users.ValidatePasswordStrength("NoNumbersHere"))
}
