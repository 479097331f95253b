package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when neither a flag nor the environment sets a value.
const (
	DefaultPort              = "8080"
	DefaultRoomTTL           = 24 * time.Hour
	DefaultMaxParticipants   = 10
	DefaultSweepInterval     = time.Minute
	DefaultClientBuffer      = 32
	DefaultLogLevel          = "info"
	DefaultEventQueue        = "tumaurmai_events"
	DefaultHistorianBatch    = 20
	DefaultHistorianFlush    = 500 * time.Millisecond
	DefaultSTUNServerList    = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
	defaultAllowedOriginList = "localhost:*,127.0.0.1:*"
)

// Config is the resolved service configuration.
type Config struct {
	Port           string
	AllowedOrigins []string

	RoomTTL             time.Duration
	RoomMaxParticipants int
	RoomSweepInterval   time.Duration
	ClientBuffer        int

	LogLevel  string
	LogFormat string

	// DatabaseURL is empty when Postgres is not configured.
	DatabaseURL string

	// RedisAddr is empty when the event stream is disabled.
	RedisAddr      string
	RedisDB        int
	EventQueueName string

	STUNServers    []string
	TURNServer     string
	TURNUsername   string
	TURNCredential string

	HistorianBatchSize int
	HistorianFlush     time.Duration

	// Ticket key files; both empty means a fresh key pair per process.
	TicketPrivateKeyPath string
	TicketPublicKeyPath  string
}

// Options carries command-line overrides. Zero values defer to the environment.
type Options struct {
	Port        string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	RedisAddr   string
	Origins     []string
	STUNServers []string
	TURNServer  string
}

// Load resolves every key with the priority flag > environment > default.
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Port:           pick(opts.Port, os.Getenv("PORT"), DefaultPort),
		LogLevel:       pick(opts.LogLevel, os.Getenv("LOG_LEVEL"), DefaultLogLevel),
		LogFormat:      pick(opts.LogFormat, os.Getenv("LOG_FORMAT"), "text"),
		DatabaseURL:    pick(opts.DatabaseURL, os.Getenv("DATABASE_URL"), ""),
		RedisAddr:      pick(opts.RedisAddr, os.Getenv("REDIS_ADDR"), ""),
		EventQueueName: pick("", os.Getenv("EVENT_QUEUE_NAME"), DefaultEventQueue),
		TURNServer:     pick(opts.TURNServer, os.Getenv("TURN_SERVER"), ""),
		TURNUsername:   os.Getenv("TURN_USERNAME"),
		TURNCredential: os.Getenv("TURN_CREDENTIAL"),

		TicketPrivateKeyPath: pick(os.Getenv("TICKET_PRIVATE_KEY_PATH")),
		TicketPublicKeyPath:  pick(os.Getenv("TICKET_PUBLIC_KEY_PATH")),
	}

	cfg.AllowedOrigins = opts.Origins
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = splitList(pick("", os.Getenv("ALLOWED_ORIGINS"), defaultAllowedOriginList))
	}
	cfg.STUNServers = opts.STUNServers
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = splitList(pick("", os.Getenv("STUN_SERVERS"), DefaultSTUNServerList))
	}

	var err error
	if cfg.RoomTTL, err = envDuration("ROOM_TTL", DefaultRoomTTL); err != nil {
		return nil, err
	}
	if cfg.RoomSweepInterval, err = envDuration("ROOM_SWEEP_INTERVAL", DefaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.HistorianFlush, err = envMillis("HISTORIAN_FLUSH_MS", DefaultHistorianFlush); err != nil {
		return nil, err
	}
	if cfg.RoomMaxParticipants, err = envInt("ROOM_MAX_PARTICIPANTS", DefaultMaxParticipants); err != nil {
		return nil, err
	}
	if cfg.ClientBuffer, err = envInt("CLIENT_BUFFER", DefaultClientBuffer); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.HistorianBatchSize, err = envInt("HISTORIAN_BATCH_SIZE", DefaultHistorianBatch); err != nil {
		return nil, err
	}

	if cfg.RoomTTL <= 0 {
		return nil, fmt.Errorf("ROOM_TTL must be positive, got %s", cfg.RoomTTL)
	}
	if (cfg.TicketPrivateKeyPath == "") != (cfg.TicketPublicKeyPath == "") {
		return nil, fmt.Errorf("TICKET_PRIVATE_KEY_PATH and TICKET_PUBLIC_KEY_PATH must be set together")
	}
	if cfg.RoomMaxParticipants < 2 {
		return nil, fmt.Errorf("ROOM_MAX_PARTICIPANTS must be at least 2, got %d", cfg.RoomMaxParticipants)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	ms, err := envInt(key, -1)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return def, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}
