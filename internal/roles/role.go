// Package roles implements the trust levels that gate chat commands and the
// static command permission table.
package roles

import (
	"fmt"
	"strings"
)

// Role is an ordered trust level. Roles compare by rank only.
type Role int

const (
	// RoleViewer may run read-only commands.
	RoleViewer Role = iota + 1
	// RoleUser may talk to the assistant.
	RoleUser
	// RoleAdmin may manage other sessions.
	RoleAdmin
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleAdmin
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, nil
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q (want viewer, user or admin)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// HasRole reports whether userRole ranks at or above required.
func HasRole(userRole, required Role) bool {
	return userRole >= required
}

// User is the invoking chat user as resolved by a platform adapter.
type User struct {
	ID       string
	Name     string
	Platform string
	Role     Role
}
