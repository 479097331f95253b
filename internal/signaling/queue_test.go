package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(n int) (*ConnectionRegistry, *RandomMatchQueue, []*Client) {
	clock := newFakeClock()
	reg := NewConnectionRegistry(clock.Now)
	return reg, NewRandomMatchQueue(reg, clock.Now), registerN(reg, n)
}

func TestEnqueuePairsFirstInFirstMatched(t *testing.T) {
	_, q, cs := newQueue(4)
	a, b, c, d := cs[0].ID, cs[1].ID, cs[2].ID, cs[3].ID

	res := q.Enqueue(a)
	assert.Equal(t, StateWaiting, res.State)
	res = q.Enqueue(b)
	assert.Equal(t, StateWaiting, res.State)
	assert.Equal(t, 2, q.Len())

	res = q.Enqueue(c)
	require.True(t, res.Matched)
	assert.Equal(t, a, res.PartnerID)
	assert.Equal(t, [2]string{a, c}, res.Session.Members)

	res = q.Enqueue(d)
	require.True(t, res.Matched)
	assert.Equal(t, b, res.PartnerID)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 2, q.Sessions())
	assert.Equal(t, res.Session.ID, cs[3].SessionID)
	assert.Equal(t, res.Session.ID, cs[1].SessionID)
}

func TestEnqueueTwiceDoesNotDuplicate(t *testing.T) {
	_, q, cs := newQueue(2)
	a := cs[0].ID

	q.Enqueue(a)
	res := q.Enqueue(a)
	assert.Equal(t, StateWaiting, res.State)
	assert.False(t, res.Matched)
	assert.Equal(t, 1, q.Len())

	res = q.Enqueue(cs[1].ID)
	require.True(t, res.Matched)
	assert.Equal(t, 0, q.Len())

	again := q.Enqueue(a)
	assert.Equal(t, StatePaired, again.State)
	assert.False(t, again.Matched)
	assert.Equal(t, res.Session.ID, again.Session.ID)
	assert.Equal(t, 1, q.Sessions())
}

func TestSkipRequeuesOnlyTheSkipper(t *testing.T) {
	_, q, cs := newQueue(3)
	x, y, z := cs[0].ID, cs[1].ID, cs[2].ID

	q.Enqueue(x)
	res := q.Enqueue(y)
	require.True(t, res.Matched)
	q.Enqueue(z)
	assert.Equal(t, StateWaiting, q.State(z))

	partner, err := q.Skip(res.Session.ID, x)
	require.NoError(t, err)
	assert.Equal(t, y, partner)
	assert.Equal(t, StateIdle, q.State(x))
	assert.Equal(t, StateIdle, q.State(y))
	assert.Empty(t, cs[0].SessionID)
	assert.Empty(t, cs[1].SessionID)

	res = q.Enqueue(x)
	require.True(t, res.Matched)
	assert.Equal(t, z, res.PartnerID)
	assert.Equal(t, StateIdle, q.State(y))

	_, err = q.Skip(res.Session.ID, y)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Skip("no-such-session", x)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeave(t *testing.T) {
	_, q, cs := newQueue(3)
	a, b, c := cs[0].ID, cs[1].ID, cs[2].ID

	q.Enqueue(a)
	assert.Empty(t, q.Leave(a))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, StateIdle, q.State(a))

	q.Enqueue(b)
	q.Enqueue(c)
	assert.Equal(t, c, q.Leave(b))
	assert.Equal(t, StateIdle, q.State(b))
	assert.Equal(t, StateIdle, q.State(c))
	assert.Equal(t, 0, q.Sessions())

	assert.Empty(t, q.Leave("unknown"))
	assert.Empty(t, q.OnDisconnect("unknown"))
}

func TestEnqueueDiscardsDeadEntries(t *testing.T) {
	reg, q, cs := newQueue(2)
	a, b := cs[0].ID, cs[1].ID

	q.Enqueue(a)
	// no hook wired, so the queue still holds a
	reg.Unregister(a)

	res := q.Enqueue(b)
	assert.False(t, res.Matched)
	assert.Equal(t, StateWaiting, res.State)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, StateIdle, q.State(a))
}

func TestPartnerLookup(t *testing.T) {
	_, q, cs := newQueue(2)
	a, b := cs[0].ID, cs[1].ID
	q.Enqueue(a)
	res := q.Enqueue(b)

	assert.Equal(t, b, q.Partner(a))
	assert.Equal(t, a, q.Partner(b))
	s, ok := q.Session(a)
	require.True(t, ok)
	assert.Equal(t, res.Session, s)
	assert.True(t, s.Has(a))
	assert.False(t, s.Has(""))
	assert.Equal(t, "paired", q.State(a).String())
}
