package auth

import (
	"errors"
	"regexp"
	"slices"
	"time"
)

// usernamePattern allows letters, digits, dots, hyphens and underscores.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username is 1-64 characters of
// letters, digits, dots, hyphens and underscores.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is an authorisation tier.
type Role string

const (
	// RoleUser can run scans and see only the scans they started.
	RoleUser Role = "user"

	// RoleAdmin sees and manages every scan and data source and reads the
	// audit log.
	RoleAdmin Role = "admin"

	// RoleOwner is an admin that can also manage other admins.
	RoleOwner Role = "owner"
)

// ValidRoles lists every role a user account may hold.
var ValidRoles = []Role{RoleUser, RoleAdmin, RoleOwner}

// IsValidUserRole reports whether r is one of ValidRoles.
func IsValidUserRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// IsAdminRole reports whether r bypasses per-owner visibility.
func IsAdminRole(r Role) bool {
	return r == RoleAdmin || r == RoleOwner
}

// User is an account that can log in and own scans.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user may see every user's resources.
func (u *User) IsAdmin() bool {
	return u != nil && IsAdminRole(u.Role)
}

// Validate checks the fields required to store a new account.
func (u *User) Validate() error {
	if !IsValidUsername(u.Username) {
		return ErrInvalidUsername
	}
	if !IsValidUserRole(u.Role) {
		return ErrInvalidRole
	}
	if u.PasswordHash == "" {
		return ErrPasswordRequired
	}
	return nil
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrPasswordRequired   = errors.New("auth: password is required")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: insufficient permissions")
)
