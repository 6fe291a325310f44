// Package access computes a user's permission level for a server and gates
// every session-affecting operation.
//
// The levels form a total order None < Read < Execute < Admin. Ownership of
// a server and the system admin role are implicit Admin; everything else
// comes from grant rows, which never exceed Execute. A missing server or
// user yields None so callers cannot distinguish "does not exist" from
// "no permission".
package access

import (
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"gorm.io/gorm"
)

// Level is a permission level on a server.
type Level int

const (
	None Level = iota
	Read
	Execute
	Admin
)

func (l Level) String() string {
	switch l {
	case Read:
		return "read"
	case Execute:
		return "execute"
	case Admin:
		return "admin"
	default:
		return "none"
	}
}

// ParseLevel maps a stored level name to a Level. Unknown names map to None.
func ParseLevel(s string) Level {
	switch s {
	case "read":
		return Read
	case "execute":
		return Execute
	case "admin":
		return Admin
	default:
		return None
	}
}

// PermissionOf returns the permission level of the user for the server.
// Read-only; no side effects.
func PermissionOf(db *gorm.DB, serverID, userID uint) Level {
	user, err := database.GetUserByID(db, userID)
	if err != nil {
		return None
	}
	if user.Role == "admin" {
		return Admin
	}

	server, err := database.GetServer(db, serverID)
	if err != nil {
		return None
	}
	if server.OwnerID == userID {
		return Admin
	}

	grant, err := database.GetGrant(db, serverID, userID)
	if err != nil {
		return None
	}
	return ParseLevel(grant.Level)
}

// Authorize reports whether the user holds at least the required level on
// the server.
func Authorize(db *gorm.DB, serverID, userID uint, required Level) bool {
	return PermissionOf(db, serverID, userID) >= required
}
