package signaling

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is safe to advance from the test goroutine while the coordinator
// reads it.
type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

func registerN(reg *ConnectionRegistry, n int) []*Client {
	out := make([]*Client, n)
	for i := range out {
		out[i] = reg.Register(make(chan Outbound, 16))
	}
	return out
}

func drain(c *Client) []Outbound {
	var frames []Outbound
	for {
		select {
		case f := <-c.out:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// asJSON round-trips a frame the way the transport would send it.
func asJSON(t *testing.T, f Outbound) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func mustDecode(t *testing.T, frame string) Inbound {
	t.Helper()
	in, err := DecodeInbound([]byte(frame))
	require.NoError(t, err)
	return in
}
