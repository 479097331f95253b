package signaling

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SessionRelay forwards negotiation and chat frames between paired clients.
// It keeps no state; pairings are resolved at routing time.
type SessionRelay struct {
	clients *ConnectionRegistry
	queue   *RandomMatchQueue
	rooms   *RoomRegistry
	now     func() time.Time
}

// NewSessionRelay wires a relay over the coordinator's structures.
func NewSessionRelay(clients *ConnectionRegistry, queue *RandomMatchQueue, rooms *RoomRegistry, now func() time.Time) *SessionRelay {
	if now == nil {
		now = time.Now
	}
	return &SessionRelay{clients: clients, queue: queue, rooms: rooms, now: now}
}

// Paired reports whether a and b may exchange frames: same random session, or
// members of the same live room.
func (sr *SessionRelay) Paired(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	if sr.queue.Partner(a) == b {
		return true
	}
	ra, okA := sr.rooms.RoomOf(a)
	rb, okB := sr.rooms.RoomOf(b)
	if !okA || !okB || ra != rb {
		return false
	}
	_, live := sr.rooms.Lookup(ra)
	return live
}

// Route delivers a negotiation frame from senderID to msg.To. Anything that
// cannot be delivered returns ErrNotFound or ErrStaleMessage; callers drop
// those silently.
func (sr *SessionRelay) Route(senderID string, msg Inbound) error {
	recipient, err := sr.recipient(senderID, msg.To)
	if err != nil {
		return err
	}
	frame, err := forwardFrame(msg.Raw, senderID)
	if err != nil {
		return err
	}
	if !recipient.write(frame) {
		return ErrStaleMessage
	}
	return nil
}

// Chat delivers a text message from senderID. With msg.To empty it goes to
// every client paired with the sender. It returns the number of recipients.
func (sr *SessionRelay) Chat(senderID string, msg Inbound) (int, error) {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return 0, nil
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		text = string([]rune(text)[:maxChatLength])
	}
	sender, ok := sr.clients.Lookup(senderID)
	if !ok {
		return 0, ErrNotFound
	}
	frame := Outbound{
		"type":     TypeReceiveMessage,
		"from":     senderID,
		"username": sender.Name(),
		"message":  text,
		"ts":       sr.now().Unix(),
	}

	var targets []string
	if msg.To != "" {
		targets = []string{msg.To}
	} else {
		targets = sr.peersOf(senderID)
	}

	delivered := 0
	for _, id := range targets {
		c, err := sr.recipient(senderID, id)
		if err != nil {
			continue
		}
		if c.write(frame) {
			delivered++
		}
	}
	if delivered == 0 && msg.To != "" {
		return 0, ErrStaleMessage
	}
	return delivered, nil
}

func (sr *SessionRelay) recipient(senderID, to string) (*Client, error) {
	if to == "" || to == senderID {
		return nil, ErrNotFound
	}
	c, ok := sr.clients.Lookup(to)
	if !ok || !c.Alive {
		return nil, ErrNotFound
	}
	if !sr.Paired(senderID, to) {
		return nil, ErrStaleMessage
	}
	return c, nil
}

func (sr *SessionRelay) peersOf(id string) []string {
	if p := sr.queue.Partner(id); p != "" {
		return []string{p}
	}
	if name, ok := sr.rooms.RoomOf(id); ok {
		if r, live := sr.rooms.Lookup(name); live {
			return r.others(id)
		}
	}
	return nil
}
