// internal/handlers/server.go
package handlers

import (
	"net/http"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/middleware"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
	"github.com/sirupsen/logrus"
)

// ICEConfig lists the STUN/TURN servers handed to browsers.
type ICEConfig struct {
	STUNServers    []string
	TURNServer     string
	TURNUsername   string
	TURNCredential string
}

// Options configures a Server.
type Options struct {
	Logger      *logrus.Logger
	Coordinator *signaling.Coordinator
	Store       RoomStore
	RoomTTL     time.Duration

	// MaxParticipants is reported for rooms that are persisted but not live.
	MaxParticipants int
	HashParams      *auth.Params

	AllowedOrigins []string
	ICE            ICEConfig
	Now            func() time.Time
}

// Server holds what the HTTP and WebSocket handlers share.
type Server struct {
	log     *logrus.Logger
	coord   *signaling.Coordinator
	store   RoomStore
	ttl     time.Duration
	maxSize int
	params  *auth.Params
	origins []string
	ice     ICEConfig
	now     func() time.Time
}

// NewServer fills in defaults for anything opts leaves unset.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = signaling.DefaultRoomTTL
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = signaling.DefaultMaxParticipants
	}
	if opts.HashParams == nil {
		opts.HashParams = auth.RoomParams
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		log:     opts.Logger,
		coord:   opts.Coordinator,
		store:   opts.Store,
		ttl:     opts.RoomTTL,
		maxSize: opts.MaxParticipants,
		params:  opts.HashParams,
		origins: opts.AllowedOrigins,
		ice:     opts.ICE,
		now:     opts.Now,
	}
}

// Routes builds the service mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(s.log)

	mux.Handle("GET /ws", http.HandlerFunc(SignalingWSHandler(s)))

	mux.Handle("POST /api/rooms/create", logged(CreateRoomHandler(s)))
	mux.Handle("POST /api/rooms/verify", logged(VerifyRoomHandler(s)))
	mux.Handle("GET /api/rooms/{name}", logged(RoomInfoHandler(s)))
	mux.Handle("GET /api/ice-servers", logged(ICEServersHandler(s)))
	mux.Handle("GET /health", logged(HealthHandler(s)))
	return mux
}
