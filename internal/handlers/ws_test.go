// internal/handlers/ws_test.go
package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server, username string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?username=" + username
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	c := &wsClient{t: t, conn: conn}
	hello := c.expect(ctx, signaling.TypeConnected)
	c.id = hello["id"].(string)
	return c
}

func (c *wsClient) send(ctx context.Context, v interface{}) {
	c.t.Helper()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, v))
}

func (c *wsClient) expect(ctx context.Context, typ string) map[string]interface{} {
	c.t.Helper()
	var msg map[string]interface{}
	require.NoError(c.t, wsjson.Read(ctx, c.conn, &msg))
	require.Equal(c.t, typ, msg["type"], "frame: %v", msg)
	return msg
}

func TestSignalingOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, body := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret"}`)
	require.Equal(t, http.StatusCreated, code)
	ticket := body["ticket"].(string)

	alice := dial(t, ctx, ts, "alice")
	bob := dial(t, ctx, ts, "bob")

	// the stored room comes to life on the first ticket join
	alice.send(ctx, map[string]string{"type": "join-room", "roomName": "team1", "roomToken": ticket})
	joined := alice.expect(ctx, signaling.TypeRoomJoined)
	assert.Empty(t, joined["users"])

	bob.send(ctx, map[string]string{"type": "join-room", "roomName": "team1", "roomPassword": "wrong"})
	assert.Equal(t, "Invalid room password", bob.expect(ctx, signaling.TypeRoomError)["message"])

	bob.send(ctx, map[string]string{"type": "join-room", "roomName": "team1", "roomPassword": "secret"})
	joined = bob.expect(ctx, signaling.TypeRoomJoined)
	assert.Equal(t, []interface{}{alice.id}, joined["users"])
	uj := alice.expect(ctx, signaling.TypeUserJoined)
	assert.Equal(t, bob.id, uj["userId"])
	assert.Equal(t, "bob", uj["username"])

	bob.send(ctx, map[string]interface{}{"type": "offer", "to": alice.id, "sdp": map[string]string{"type": "offer", "sdp": "v=0"}})
	offer := alice.expect(ctx, signaling.TypeOffer)
	assert.Equal(t, bob.id, offer["from"])
	assert.Equal(t, "v=0", offer["sdp"].(map[string]interface{})["sdp"])

	require.NoError(t, alice.conn.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, "Invalid message format", alice.expect(ctx, signaling.TypeError)["message"])

	bob.conn.Close(websocket.StatusNormalClosure, "bye")
	left := alice.expect(ctx, signaling.TypeUserLeft)
	assert.Equal(t, bob.id, left["userId"])
}

func TestRandomMatchOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dial(t, ctx, ts, "a")
	b := dial(t, ctx, ts, "b")

	a.send(ctx, map[string]string{"type": "join-random"})
	a.expect(ctx, signaling.TypeWaiting)
	b.send(ctx, map[string]string{"type": "join-random"})

	fb := b.expect(ctx, signaling.TypeMatchFound)
	fa := a.expect(ctx, signaling.TypeMatchFound)
	assert.Equal(t, a.id, fb["peerId"])
	assert.Equal(t, b.id, fa["peerId"])

	a.send(ctx, map[string]string{"type": "send-message", "message": "hello"})
	chat := b.expect(ctx, signaling.TypeReceiveMessage)
	assert.Equal(t, "hello", chat["message"])
	assert.Equal(t, "a", chat["username"])
}

func TestWebSocketCreateRoomCannotTakeStoredName(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, _ := env.do(t, http.MethodPost, "/api/rooms/create", `{"roomName":"team1","password":"secret"}`)
	require.Equal(t, http.StatusCreated, code)

	mallory := dial(t, ctx, ts, "mallory")
	mallory.send(ctx, map[string]string{"type": "create-room", "roomName": "team1", "roomPassword": "evil1"})
	assert.Equal(t, "Room already exists", mallory.expect(ctx, signaling.TypeRoomError)["message"])

	owner := dial(t, ctx, ts, "owner")
	owner.send(ctx, map[string]string{"type": "join-room", "roomName": " team1 ", "roomPassword": "secret"})
	joined := owner.expect(ctx, signaling.TypeRoomJoined)
	assert.Equal(t, "team1", joined["roomName"])

	// once live, the name is still refused
	mallory.send(ctx, map[string]string{"type": "create-room", "roomName": "team1", "roomPassword": "evil1"})
	assert.Equal(t, "Room already exists", mallory.expect(ctx, signaling.TypeRoomError)["message"])
}

func TestWebSocketCreateRoomSeesStoreAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a record committed by an earlier process, unknown to this coordinator
	hash, err := auth.CreateHash("secret", auth.TestParams)
	require.NoError(t, err)
	now := env.clock.Now()
	require.NoError(t, env.store.InsertRoom(ctx, &models.Room{
		Name:         "team1",
		PasswordHash: hash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}))

	mallory := dial(t, ctx, ts, "mallory")
	mallory.send(ctx, map[string]string{"type": "create-room", "roomName": "team1", "roomPassword": "evil1"})
	assert.Equal(t, "Room already exists", mallory.expect(ctx, signaling.TypeRoomError)["message"])

	owner := dial(t, ctx, ts, "owner")
	owner.send(ctx, map[string]string{"type": "join-room", "roomName": "team1", "roomPassword": "secret"})
	owner.expect(ctx, signaling.TypeRoomJoined)
}
