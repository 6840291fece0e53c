// Package users implements operator account management for the Sentinel
// management API: signup, login, and the admin bootstrap.
package users

import (
	"time"

	"github.com/google/uuid"
)

// Role controls what a user may do through the management API.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// User represents an operator account.
type User struct {
	ID           uuid.UUID `json:"id"           db:"id"`
	Email        string    `json:"email"        db:"email"`
	PasswordHash string    `json:"-"            db:"password_hash"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Role         Role      `json:"role"         db:"role"`
	CreatedAt    time.Time `json:"created_at"   db:"created_at"`
}
