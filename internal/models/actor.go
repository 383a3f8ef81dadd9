package models

import "strings"

// Role is a closed set; callers switch on it exhaustively.
type Role int

const (
	RoleAnonymous Role = iota
	RoleClient
	RoleTrainer
	RoleAdmin
)

func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return RoleAdmin, true
	case "trainer":
		return RoleTrainer, true
	case "client":
		return RoleClient, true
	case "user", "anonymous", "":
		return RoleAnonymous, true
	default:
		return RoleAnonymous, false
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleTrainer:
		return "trainer"
	case RoleClient:
		return "client"
	default:
		return "user"
	}
}

// Actor is the authenticated identity every query and command runs as.
type Actor struct {
	ID   int64
	Role Role
}

func Anonymous() Actor {
	return Actor{Role: RoleAnonymous}
}
