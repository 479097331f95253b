// internal/models/room.go
package models

import "time"

// Room is a row in the rooms table. PasswordHash is an argon2id encoded
// string and is never serialised.
type Room struct {
	Name          string    `json:"roomName"`
	PasswordHash  string    `json:"-"`
	CreatedByName string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Expired reports whether the room is past its expiry at now.
func (r *Room) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
