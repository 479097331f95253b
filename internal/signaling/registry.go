package signaling

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultUsername is used when a client never supplies a display name.
	DefaultUsername = "Anonymous"

	maxUsernameLength = 50
)

// Client is the per-connection record. Only the coordinator goroutine reads
// or writes it.
type Client struct {
	ID          string
	Username    string
	SessionID   string // random session, if paired
	RoomName    string // private room, if a member
	Alive       bool
	ConnectedAt time.Time

	out     chan Outbound
	dropped int
}

// Name returns the display name, falling back to DefaultUsername.
func (c *Client) Name() string {
	if c.Username == "" {
		return DefaultUsername
	}
	return c.Username
}

// write pushes msg onto the client's outbound channel without blocking.
// A full channel drops the frame: the peer is too slow and negotiation frames
// are re-issued by the browser anyway.
func (c *Client) write(msg Outbound) bool {
	if !c.Alive {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		c.dropped++
		return false
	}
}

// ConnectionRegistry maps connection ids to Client records.
type ConnectionRegistry struct {
	clients map[string]*Client
	now     func() time.Time

	// OnUnregister runs after a client is removed, so that dependents release
	// any pairing or membership it held. It runs once per client.
	OnUnregister func(c *Client)
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry(now func() time.Time) *ConnectionRegistry {
	if now == nil {
		now = time.Now
	}
	return &ConnectionRegistry{
		clients: make(map[string]*Client),
		now:     now,
	}
}

// Register allocates a new Client with no name and no pairing.
func (r *ConnectionRegistry) Register(out chan Outbound) *Client {
	c := &Client{
		ID:          uuid.NewString(),
		Alive:       true,
		ConnectedAt: r.now(),
		out:         out,
	}
	r.clients[c.ID] = c
	return c
}

// SetDisplayName updates the client's name. Unknown ids are ignored.
func (r *ConnectionRegistry) SetDisplayName(id, name string) bool {
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	c.Username = sanitizeUsername(name)
	return true
}

// Lookup returns the live client record for id.
func (r *ConnectionRegistry) Lookup(id string) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Unregister removes id and signals dependents. A second call for the same id
// is a no-op and returns false.
func (r *ConnectionRegistry) Unregister(id string) (*Client, bool) {
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)
	c.Alive = false
	if r.OnUnregister != nil {
		r.OnUnregister(c)
	}
	return c, true
}

// Len returns the number of connected clients.
func (r *ConnectionRegistry) Len() int {
	return len(r.clients)
}

// Each calls fn for every connected client.
func (r *ConnectionRegistry) Each(fn func(c *Client)) {
	for _, c := range r.clients {
		fn(c)
	}
}

func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxUsernameLength {
		name = string([]rune(name)[:maxUsernameLength])
	}
	return name
}
