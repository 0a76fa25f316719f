package types

import "time"

// Role is the closed set of authorization roles a user can hold.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	}
	return false
}

// In reports whether r is a member of the given set of roles.
func (r Role) In(roles ...Role) bool {
	for _, allowed := range roles {
		if r == allowed {
			return true
		}
	}
	return false
}

// User represents an account in the system.
// It contains identity, role, and password lifecycle metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's unique email address, stored lowercased.
	Email string `json:"email" db:"email"`

	// Photo is the media-store key of the user's profile photo, if any.
	Photo string `json:"photo,omitempty" db:"photo"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt records the last password mutation. Session
	// tokens issued before this instant are rejected.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`

	// PasswordResetToken holds the SHA-256 hex of an outstanding reset
	// token. Set and cleared together with PasswordResetExpires.
	PasswordResetToken *string `json:"-" db:"password_reset_token"`

	// PasswordResetExpires bounds the validity of the outstanding reset
	// token.
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`

	// Active is the soft-delete flag. Deactivated users are invisible to
	// every read path.
	Active bool `json:"-" db:"active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PasswordChangedAfter reports whether the password was changed strictly
// after the given token issue time.
func (u User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.After(issuedAt)
}
