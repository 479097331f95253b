// internal/handlers/rooms_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is shared by the handlers and the coordinator goroutine.
type testClock struct {
	nanos atomic.Int64
}

func (c *testClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load())
}

func (c *testClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

type testEnv struct {
	srv   *Server
	store *MemoryStore
	coord *signaling.Coordinator
	mux   http.Handler
	clock *testClock
	ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore lets a test wrap the memory store.
func newTestEnvWithStore(t *testing.T, wrap func(*MemoryStore) RoomStore) *testEnv {
	t.Helper()
	require.NoError(t, auth.Init())

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := &testClock{}
	clock.nanos.Store(time.Now().UnixNano())

	coord := signaling.NewCoordinator(signaling.Options{
		Logger: logger,
		Rooms:  signaling.RoomConfig{HashParams: auth.TestParams},
		Now:    clock.Now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancel)

	env := &testEnv{store: NewMemoryStore(), coord: coord, clock: clock, ctx: ctx}
	var store RoomStore = env.store
	if wrap != nil {
		store = wrap(env.store)
	}
	env.srv = NewServer(Options{
		Logger:      logger,
		Coordinator: coord,
		Store:       store,
		HashParams:  auth.TestParams,
		ICE: ICEConfig{
			STUNServers:    []string{"stun:stun.example.com:19302"},
			TURNServer:     "turn:turn.example.com",
			TURNUsername:   "user",
			TURNCredential: "pass",
		},
		Now: clock.Now,
	})
	env.mux = env.srv.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return w.Code, out
}

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret","username":"alice"}`)
	require.Equal(t, http.StatusCreated, code, "body: %v", body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "team1", body["roomName"])

	ticket, err := auth.ParseRoomTicket(body["ticket"].(string))
	require.NoError(t, err)
	assert.Equal(t, "team1", ticket.Room)

	rec, err := env.store.GetRoom(context.Background(), "team1")
	require.NoError(t, err)
	assert.Equal(t, auth.Fingerprint(rec.PasswordHash), ticket.Fingerprint)
	assert.Equal(t, "alice", rec.CreatedByName)

	code, _ = env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"other"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"","password":"secret"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/rooms/create", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateRoomReplacesExpired(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret"}`)
	require.Equal(t, http.StatusCreated, code)

	env.clock.Advance(signaling.DefaultRoomTTL)
	code, _ = env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"fresh"}`)
	assert.Equal(t, http.StatusCreated, code)
}

func TestVerifyStoredRoom(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"team1","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)
	_, err := auth.ParseRoomTicket(body["ticket"].(string))
	assert.NoError(t, err)

	code, body = env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"team1","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid room password", body["message"])

	code, _ = env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"ghost","password":"secret"}`)
	assert.Equal(t, http.StatusNotFound, code)

	env.clock.Advance(signaling.DefaultRoomTTL + time.Minute)
	code, _ = env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"team1","password":"secret"}`)
	assert.Equal(t, http.StatusGone, code)
}

func TestRoomInfo(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	require.NoError(t, env.store.InsertRoom(context.Background(), &models.Room{
		Name:         "lobby",
		PasswordHash: "unused",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}))

	code, body := env.do(t, http.MethodGet, "/api/rooms/lobby", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "lobby", body["roomName"])
	assert.Equal(t, false, body["live"])
	assert.Equal(t, float64(signaling.DefaultMaxParticipants), body["maxParticipants"])

	code, body = env.do(t, http.MethodGet, "/api/rooms/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Room not found", body["message"])
}

// liveRoom creates a room over the coordinator, as a WebSocket client would.
func (e *testEnv) liveRoom(t *testing.T, name, password string) *signaling.Handle {
	t.Helper()
	h, err := e.coord.Connect(e.ctx, "alice")
	require.NoError(t, err)
	<-h.Out // connected

	msg, err := signaling.DecodeInbound([]byte(`{"type":"create-room","roomName":"` + name + `","roomPassword":"` + password + `"}`))
	require.NoError(t, err)
	require.NoError(t, e.coord.Dispatch(e.ctx, h.ID, msg))
	select {
	case f := <-h.Out:
		require.Equal(t, signaling.TypeRoomJoined, f.Type(), "frame: %v", f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room-joined")
	}
	return h
}

func TestLiveOnlyRoomReportsExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.liveRoom(t, "team1", "secret")

	code, body := env.do(t, http.MethodGet, "/api/rooms/team1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["live"])

	env.clock.Advance(signaling.DefaultRoomTTL)
	code, body = env.do(t, http.MethodGet, "/api/rooms/team1", "")
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "Room has expired", body["message"])

	code, _ = env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"team1","password":"secret"}`)
	assert.Equal(t, http.StatusGone, code)
}

func TestVerifyLiveRoom(t *testing.T) {
	env := newTestEnv(t)
	env.liveRoom(t, "team1", "secret")

	code, body := env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":" team1 ","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)
	ticket, err := auth.ParseRoomTicket(body["ticket"].(string))
	require.NoError(t, err)
	assert.Equal(t, "team1", ticket.Room)

	code, _ = env.do(t, http.MethodPost, "/api/rooms/verify", `{"roomName":"team1","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"other"}`)
	assert.Equal(t, http.StatusConflict, code)
}

// racingStore brings a live room up under the same name while the HTTP
// create is between its live check and its reservation.
type racingStore struct {
	*MemoryStore
	beforeInsert func()
}

func (s *racingStore) InsertRoom(ctx context.Context, room *models.Room) error {
	s.beforeInsert()
	return s.MemoryStore.InsertRoom(ctx, room)
}

func TestCreateRoomRollsBackWhenNameGoesLive(t *testing.T) {
	var env *testEnv
	env = newTestEnvWithStore(t, func(m *MemoryStore) RoomStore {
		return &racingStore{MemoryStore: m, beforeInsert: func() {
			env.liveRoom(t, "team1", "evil1")
		}}
	})

	code, body := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Room already exists", body["message"])

	_, err := env.store.GetRoom(context.Background(), "team1")
	assert.ErrorIs(t, err, database.ErrRoomNotFound)
}

func TestICEServersAndHealth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/ice-servers", "")
	require.Equal(t, http.StatusOK, code)
	servers := body["iceServers"].([]interface{})
	require.Len(t, servers, 2)
	turn := servers[1].(map[string]interface{})
	assert.Equal(t, "user", turn["username"])
	assert.Equal(t, "pass", turn["credential"])

	code, body = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}
