package models

import "time"

// Marketplace roles.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// UserProfile is the directory record for a marketplace user. The id is the
// opaque principal id issued by the identity provider.
type UserProfile struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        string    `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
