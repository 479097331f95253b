// internal/models/session_event.go
package models

import "time"

// Session event kinds emitted by the coordinator.
const (
	EventMatch       = "match"
	EventSkip        = "skip"
	EventLeave       = "leave"
	EventDisconnect  = "disconnect"
	EventRoomCreated = "room_created"
	EventRoomJoined  = "room_joined"
	EventRoomLeft    = "room_left"
	EventRoomClosed  = "room_closed"
)

// SessionEvent is one lifecycle record for the historian. It never carries
// negotiation payloads, usernames or passwords.
type SessionEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	RoomName  string    `json:"room_name,omitempty"`
	ClientIDs []string  `json:"client_ids,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
