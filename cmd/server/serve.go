package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/auth"
	"github.com/jason-s-yu/tumaurmai/internal/cache"
	"github.com/jason-s-yu/tumaurmai/internal/config"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/handlers"
	"github.com/jason-s-yu/tumaurmai/internal/logging"
	"github.com/jason-s-yu/tumaurmai/internal/signaling"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&flags.Port, "port", "p", "", "listen port or host:port; env PORT")
	f.StringVar(&flags.RedisAddr, "redis-addr", "", "Redis address for the session event stream; env REDIS_ADDR")
	f.StringSliceVar(&flags.Origins, "origin", nil, "allowed WebSocket origin pattern (repeatable); env ALLOWED_ORIGINS")
	f.StringSliceVar(&flags.STUNServers, "stun", nil, "STUN server URL (repeatable); env STUN_SERVERS")
	f.StringVar(&flags.TURNServer, "turn", "", "TURN server host, e.g. turn:turn.example.com; env TURN_SERVER")
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if err := initTickets(cfg, logger); err != nil {
		return err
	}

	var store handlers.RoomStore = handlers.NewMemoryStore()
	if connStr := database.ConnString(cfg.DatabaseURL); connStr != "" {
		if err := database.ConnectDB(ctx, connStr); err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		store = handlers.PostgresStore{}
		logger.Info("Connected to database")
	} else {
		logger.Warn("No database configured, HTTP-created rooms live in memory")
	}

	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer func() {
		cancelBg()
		wg.Wait()
	}()

	var sink signaling.EventSink = signaling.NopSink{}
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisSink := cache.NewRedisSink(rdb, cfg.EventQueueName, cache.DefaultBuffer, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			redisSink.Run(bgCtx)
		}()
		sink = redisSink
		logger.Infof("Publishing session events to Redis list %s", cfg.EventQueueName)
	}

	coord := signaling.NewCoordinator(signaling.Options{
		Logger: logger,
		Rooms: signaling.RoomConfig{
			TTL:             cfg.RoomTTL,
			MaxParticipants: cfg.RoomMaxParticipants,
		},
		SweepInterval: cfg.RoomSweepInterval,
		ClientBuffer:  cfg.ClientBuffer,
		Sink:          sink,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(bgCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor(bgCtx, store, cfg.RoomSweepInterval, logger)
	}()

	srv := handlers.NewServer(handlers.Options{
		Logger:          logger,
		Coordinator:     coord,
		Store:           store,
		RoomTTL:         cfg.RoomTTL,
		MaxParticipants: cfg.RoomMaxParticipants,
		AllowedOrigins:  cfg.AllowedOrigins,
		ICE: handlers.ICEConfig{
			STUNServers:    cfg.STUNServers,
			TURNServer:     cfg.TURNServer,
			TURNUsername:   cfg.TURNUsername,
			TURNCredential: cfg.TURNCredential,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked WebSocket connections are not tracked by Shutdown; stopping
	// the coordinator closes them
	cancelBg()
	return httpServer.Shutdown(shutdownCtx)
}

// initTickets loads the ticket signing keys from disk when configured, so
// tickets for persisted rooms survive a restart.
func initTickets(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.TicketPrivateKeyPath == "" {
		logger.Warn("No ticket keys configured, room tickets stop verifying on restart")
		return auth.Init()
	}
	return auth.InitFromPath(cfg.TicketPrivateKeyPath, cfg.TicketPublicKeyPath)
}

// janitor deletes expired persisted rooms on the sweep interval.
func janitor(ctx context.Context, store handlers.RoomStore, every time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.DeleteExpired(ctx, now)
			if err != nil {
				logger.Warnf("Room janitor: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("Room janitor removed %d expired rooms", n)
			}
		}
	}
}
