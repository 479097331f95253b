package signaling

import (
	"container/list"
	"time"

	"github.com/google/uuid"
)

// MatchState is a client's position in the random matchmaking state machine.
type MatchState int

const (
	StateIdle MatchState = iota
	StateWaiting
	StatePaired
)

func (s MatchState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return "idle"
	}
}

// RandomSession is an established random pairing.
type RandomSession struct {
	ID        string
	Members   [2]string
	CreatedAt time.Time
}

// Other returns the member that is not id.
func (s *RandomSession) Other(id string) string {
	if s.Members[0] == id {
		return s.Members[1]
	}
	return s.Members[0]
}

// Has reports whether id is one of the session's members.
func (s *RandomSession) Has(id string) bool {
	return id != "" && (s.Members[0] == id || s.Members[1] == id)
}

// MatchResult is the outcome of Enqueue.
type MatchResult struct {
	State     MatchState
	Session   *RandomSession // set when State is StatePaired
	PartnerID string
	// Matched is true only when this call formed the session.
	Matched bool
}

// RandomMatchQueue pairs waiting clients first-in-first-matched.
type RandomMatchQueue struct {
	clients  *ConnectionRegistry
	waiting  *list.List
	index    map[string]*list.Element
	sessions map[string]*RandomSession
	byClient map[string]*RandomSession
	now      func() time.Time
}

// NewRandomMatchQueue returns an empty queue that resolves liveness through clients.
func NewRandomMatchQueue(clients *ConnectionRegistry, now func() time.Time) *RandomMatchQueue {
	if now == nil {
		now = time.Now
	}
	return &RandomMatchQueue{
		clients:  clients,
		waiting:  list.New(),
		index:    make(map[string]*list.Element),
		sessions: make(map[string]*RandomSession),
		byClient: make(map[string]*RandomSession),
		now:      now,
	}
}

// State returns id's matchmaking state.
func (q *RandomMatchQueue) State(id string) MatchState {
	if _, ok := q.byClient[id]; ok {
		return StatePaired
	}
	if _, ok := q.index[id]; ok {
		return StateWaiting
	}
	return StateIdle
}

// Session returns the session id is paired in.
func (q *RandomMatchQueue) Session(id string) (*RandomSession, bool) {
	s, ok := q.byClient[id]
	return s, ok
}

// Partner returns id's current partner, or "".
func (q *RandomMatchQueue) Partner(id string) string {
	if s, ok := q.byClient[id]; ok {
		return s.Other(id)
	}
	return ""
}

// Len returns the number of waiting clients.
func (q *RandomMatchQueue) Len() int {
	return q.waiting.Len()
}

// Sessions returns the number of live sessions.
func (q *RandomMatchQueue) Sessions() int {
	return len(q.sessions)
}

// Enqueue pairs id with the longest-waiting other client, or queues it.
// Calling it while already waiting or paired returns the current state.
func (q *RandomMatchQueue) Enqueue(id string) MatchResult {
	if s, ok := q.byClient[id]; ok {
		return MatchResult{State: StatePaired, Session: s, PartnerID: s.Other(id)}
	}
	if _, ok := q.index[id]; ok {
		return MatchResult{State: StateWaiting}
	}

	for e := q.waiting.Front(); e != nil; {
		next := e.Next()
		candidate := e.Value.(string)
		if candidate == id {
			e = next
			continue
		}
		if c, ok := q.clients.Lookup(candidate); !ok || !c.Alive {
			// disconnected without a matching OnDisconnect; discard
			q.remove(candidate)
			e = next
			continue
		}
		q.remove(candidate)
		s := q.pair(candidate, id)
		return MatchResult{State: StatePaired, Session: s, PartnerID: candidate, Matched: true}
	}

	q.index[id] = q.waiting.PushBack(id)
	return MatchResult{State: StateWaiting}
}

// Skip tears down sessionID on behalf of id and returns the partner. Both
// members become idle; re-enqueueing the skipper is the caller's job.
func (q *RandomMatchQueue) Skip(sessionID, id string) (string, error) {
	s, ok := q.sessions[sessionID]
	if !ok || !s.Has(id) {
		return "", ErrNotFound
	}
	q.teardown(s)
	return s.Other(id), nil
}

// Leave removes id from the queue or tears down its session. It returns the
// former partner, if any, so the caller can notify it.
func (q *RandomMatchQueue) Leave(id string) string {
	if _, ok := q.index[id]; ok {
		q.remove(id)
		return ""
	}
	if s, ok := q.byClient[id]; ok {
		q.teardown(s)
		return s.Other(id)
	}
	return ""
}

// OnDisconnect releases everything id holds. Absent ids are ignored.
func (q *RandomMatchQueue) OnDisconnect(id string) string {
	return q.Leave(id)
}

func (q *RandomMatchQueue) pair(first, second string) *RandomSession {
	s := &RandomSession{
		ID:        uuid.NewString(),
		Members:   [2]string{first, second},
		CreatedAt: q.now(),
	}
	q.sessions[s.ID] = s
	q.byClient[first] = s
	q.byClient[second] = s
	if c, ok := q.clients.Lookup(first); ok {
		c.SessionID = s.ID
	}
	if c, ok := q.clients.Lookup(second); ok {
		c.SessionID = s.ID
	}
	return s
}

func (q *RandomMatchQueue) teardown(s *RandomSession) {
	delete(q.sessions, s.ID)
	for _, m := range s.Members {
		if q.byClient[m] == s {
			delete(q.byClient, m)
		}
		if c, ok := q.clients.Lookup(m); ok && c.SessionID == s.ID {
			c.SessionID = ""
		}
	}
}

func (q *RandomMatchQueue) remove(id string) {
	if e, ok := q.index[id]; ok {
		q.waiting.Remove(e)
		delete(q.index, id)
	}
}
