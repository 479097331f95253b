package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types.
const (
	TypeJoinRandom   = "join-random"
	TypeLeaveRandom  = "leave-random"
	TypeSkipUser     = "skip-user"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice-candidate"
	TypeJoinRoom     = "join-room"
	TypeCreateRoom   = "create-room"
	TypeLeaveRoom    = "leave-room"
	TypeSendMessage  = "send-message"
	TypeSetUsername  = "set-username"
)

// Outbound event types.
const (
	TypeConnected      = "connected"
	TypeWaiting        = "waiting"
	TypeMatchFound     = "match-found"
	TypePeerSkipped    = "peer-skipped"
	TypeRoomJoined     = "room-joined"
	TypeRoomError      = "room-error"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeRoomClosed     = "room-closed"
	TypeReceiveMessage = "receive-message"
	TypeError          = "error"
)

const maxChatLength = 1000

// Outbound is a single server-to-client frame, marshalled as a JSON object.
type Outbound map[string]interface{}

// Type returns the frame's "type" field.
func (o Outbound) Type() string {
	t, _ := o["type"].(string)
	return t
}

// Inbound is a decoded client-to-server frame. Only the fields the coordinator
// acts on are decoded; negotiation payloads travel untouched in Raw.
type Inbound struct {
	Type string `json:"type"`

	// random matchmaking
	SessionID string `json:"sessionId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`

	// negotiation and chat routing
	To      string `json:"to,omitempty"`
	Message string `json:"message,omitempty"`

	// private rooms
	RoomName     string `json:"roomName,omitempty"`
	RoomPassword string `json:"roomPassword,omitempty"`
	RoomToken    string `json:"roomToken,omitempty"`
	Username     string `json:"username,omitempty"`

	// Raw is the frame as received.
	Raw json.RawMessage `json:"-"`

	// filled in by the transport or Dispatch, never by the client
	Stored *StoredRoom `json:"-"`
	Ticket *Ticket     `json:"-"`

	// keyHash is the create-room password, hashed before it reaches the loop.
	keyHash string
}

// Ticket is a proven room key: either a verified room ticket or a password
// already checked against the room's hash.
type Ticket struct {
	Room        string
	Fingerprint string
}

// DecodeInbound parses a text frame into an Inbound, keeping the raw bytes.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("decode frame: missing type")
	}
	in.RoomName = strings.TrimSpace(in.RoomName)
	in.Raw = append(json.RawMessage(nil), data...)
	return in, nil
}

// IsNegotiation reports whether t is one of the relayed negotiation types.
func IsNegotiation(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeIceCandidate:
		return true
	}
	return false
}

// forwardFrame rebuilds a negotiation frame for the recipient: every field the
// sender supplied is kept byte for byte, and "from" is overwritten with the
// sender's connection id.
func forwardFrame(raw json.RawMessage, senderID string) (Outbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("forward frame: %w", err)
	}
	out := make(Outbound, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["from"] = senderID
	return out, nil
}

func errorFrame(msg string) Outbound {
	return Outbound{"type": TypeError, "message": msg}
}

func roomErrorFrame(err error) Outbound {
	return Outbound{"type": TypeRoomError, "message": RoomErrorMessage(err)}
}
