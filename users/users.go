package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

type MFAuthType string

const (
	MFNone          MFAuthType = "none"
	MFAuthenticator MFAuthType = "authenticator"
	MFEmail         MFAuthType = "email"
	MFTSms          MFAuthType = "sms"
)

// RoleType is emitted as the "role" claim.
type RoleType string

const (
	RoleAdmin  RoleType = "admin"
	RoleUser   RoleType = "user"
	RoleViewer RoleType = "viewer"
)

type User struct {
	ID           string    `json:"id,omitempty" yaml:"id"`                           // Subject identifier
	Email        string    `json:"email,omitempty" yaml:"email"`                     // User's email address
	Username     string    `json:"username,omitempty" yaml:"username"`               // Unique username
	PasswordHash string    `json:"-" yaml:"passwordHash"`                            // bcrypt hash, never serialised to JSON
	FirstName    string    `json:"first_name,omitempty" yaml:"firstName,omitempty"`  // First name of the user
	LastName     string    `json:"last_name,omitempty" yaml:"lastName,omitempty"`    // Last name of the user
	DateJoined   time.Time `json:"date_joined,omitempty" yaml:"dateJoined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time `json:"last_login,omitempty" yaml:"-"`                    // Last time the user logged in

	Roles []RoleType `json:"roles,omitempty" yaml:"roles,omitempty"`
	// Claims are additional claims returned as is, e.g. "website" or "locale".
	Claims map[string]string `json:"claims,omitempty" yaml:"claims,omitempty"`

	Verified bool       `json:"verified,omitempty" yaml:"verified"` // Verified, has the user verified their email
	Blocked  bool       `json:"blocked,omitempty" yaml:"blocked"`   // Blocked, has the user been blocked from logging in
	MFType   MFAuthType `json:"mfType,omitempty" yaml:"mfType,omitempty"`
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func (u *User) MFAuth() bool {
	return u.MFType != "" && u.MFType != MFNone
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ClaimValues maps the user onto standard OpenID Connect claim types.
func (u *User) ClaimValues() map[string]any {
	out := map[string]any{
		"sub": u.ID,
	}
	for k, v := range u.Claims {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("name", u.FullName())
	set("given_name", u.FirstName)
	set("family_name", u.LastName)
	set("preferred_username", u.Username)
	set("email", u.Email)
	if u.Email != "" {
		out["email_verified"] = u.Verified
	}
	if len(u.Roles) > 0 {
		roles := make([]string, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, string(r))
		}
		out["role"] = roles
	}
	if !u.LastLogin.IsZero() {
		out["updated_at"] = u.LastLogin.Unix()
	}
	return out
}
