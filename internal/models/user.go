package models

import "time"

// User is a directory entry for a trainer, client or admin. Sessions refer
// to users by id only.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
