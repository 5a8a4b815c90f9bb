package core

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownRole is returned when a role is not one of the two configured roles.
	ErrUnknownRole = errors.New("unknown role")
	// ErrInvalidRolePair is returned when the configured roles are not two distinct names.
	ErrInvalidRolePair = errors.New("role pair must be two distinct non-empty roles")
)

// RolePair holds the two fixed participant roles of the chat.
// The zero value is not usable; construct one with NewRolePair.
type RolePair struct {
	first  string
	second string
}

// NewRolePair creates a RolePair from the two configured role names.
// The order of the arguments does not matter.
func NewRolePair(a, b string) (RolePair, error) {
	if a == "" || b == "" || a == b {
		return RolePair{}, ErrInvalidRolePair
	}
	if a > b {
		a, b = b, a
	}
	return RolePair{first: a, second: b}, nil
}

// Has reports whether role is one of the pair.
func (p RolePair) Has(role string) bool {
	return role == p.first || role == p.second
}

// Roles returns the two roles in lexicographic order.
func (p RolePair) Roles() []string {
	return []string{p.first, p.second}
}

// RoomID returns the canonical room identifier shared by the pair:
// the two roles sorted lexicographically and joined with "-".
func (p RolePair) RoomID() string {
	return strings.Join([]string{p.first, p.second}, "-")
}

// Resolve returns the room id and the counterpart of role.
// Both members resolve to the same room id regardless of join order.
func (p RolePair) Resolve(role string) (roomID string, otherRole string, ok bool) {
	switch role {
	case p.first:
		return p.RoomID(), p.second, true
	case p.second:
		return p.RoomID(), p.first, true
	default:
		return "", "", false
	}
}
