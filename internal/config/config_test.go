package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "ALLOWED_ORIGINS", "ROOM_TTL", "ROOM_MAX_PARTICIPANTS", "ROOM_SWEEP_INTERVAL",
	"CLIENT_BUFFER", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "REDIS_ADDR", "REDIS_DB",
	"EVENT_QUEUE_NAME", "STUN_SERVERS", "TURN_SERVER", "TURN_USERNAME", "TURN_CREDENTIAL",
	"HISTORIAN_BATCH_SIZE", "HISTORIAN_FLUSH_MS", "TICKET_PRIVATE_KEY_PATH", "TICKET_PUBLIC_KEY_PATH",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 24*time.Hour, cfg.RoomTTL)
	assert.Equal(t, 10, cfg.RoomMaxParticipants)
	assert.Equal(t, time.Minute, cfg.RoomSweepInterval)
	assert.Equal(t, 32, cfg.ClientBuffer)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Len(t, cfg.STUNServers, 3)
	assert.Equal(t, []string{"localhost:*", "127.0.0.1:*"}, cfg.AllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, cfg.HistorianFlush)
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ROOM_TTL", "2h")
	t.Setenv("ALLOWED_ORIGINS", "example.com, *.example.com")
	t.Setenv("HISTORIAN_FLUSH_MS", "0")

	cfg, err := Load(Options{Port: "7000"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.RoomTTL)
	assert.Equal(t, []string{"example.com", "*.example.com"}, cfg.AllowedOrigins)
	assert.Zero(t, cfg.HistorianFlush)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROOM_TTL", "soon")
	_, err := Load(Options{})
	assert.ErrorContains(t, err, "ROOM_TTL")

	clearEnv(t)
	t.Setenv("ROOM_MAX_PARTICIPANTS", "1")
	_, err = Load(Options{})
	assert.ErrorContains(t, err, "ROOM_MAX_PARTICIPANTS")

	clearEnv(t)
	t.Setenv("REDIS_DB", "x")
	_, err = Load(Options{})
	assert.ErrorContains(t, err, "REDIS_DB")
}

func TestLoadTicketKeyPaths(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKET_PRIVATE_KEY_PATH", "/keys/ticket.key")

	_, err := Load(Options{})
	assert.Error(t, err)

	t.Setenv("TICKET_PUBLIC_KEY_PATH", "/keys/ticket.pub")
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "/keys/ticket.key", cfg.TicketPrivateKeyPath)
	assert.Equal(t, "/keys/ticket.pub", cfg.TicketPublicKeyPath)
}
