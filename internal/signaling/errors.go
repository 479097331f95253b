package signaling

import "errors"

var (
	// ErrNotFound means an unknown client, session or room.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a live room already holds the requested name.
	ErrAlreadyExists = errors.New("room already exists")
	// ErrBadPassword means the room key did not match.
	ErrBadPassword = errors.New("invalid room password")
	// ErrFull means the room is at capacity.
	ErrFull = errors.New("room is full")
	// ErrExpired means the room outlived its TTL and has been evicted.
	ErrExpired = errors.New("room has expired")
	// ErrStaleMessage means the routing target is no longer paired with the sender.
	ErrStaleMessage = errors.New("stale message")

	ErrInvalidRoomName = errors.New("invalid room name")
	ErrInvalidPassword = errors.New("invalid room password length")
	ErrAlreadyInRoom   = errors.New("already in another room")
)

// RoomErrorMessage maps a room registry error onto the short text sent in
// room-error events.
func RoomErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Room not found"
	case errors.Is(err, ErrAlreadyExists):
		return "Room already exists"
	case errors.Is(err, ErrBadPassword):
		return "Invalid room password"
	case errors.Is(err, ErrFull):
		return "Room is full"
	case errors.Is(err, ErrExpired):
		return "Room has expired"
	case errors.Is(err, ErrInvalidRoomName):
		return "Room name must be between 1 and 50 characters"
	case errors.Is(err, ErrInvalidPassword):
		return "Room password must be between 4 and 50 characters"
	case errors.Is(err, ErrAlreadyInRoom):
		return "Leave your current room first"
	default:
		return "Room error. Please try again."
	}
}
