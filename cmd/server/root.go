package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/tumaurmai/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var flags config.Options

var rootCmd = &cobra.Command{
	Use:   "tumaurmai",
	Short: "Signaling and matchmaking server for browser video chat",
	Long: `tumaurmai pairs strangers for one-to-one video calls, hosts password protected
rooms, and relays WebRTC offers, answers and ICE candidates between peers.
Media never passes through the server.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error); env LOG_LEVEL")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format (text or json); env LOG_FORMAT")
	pf.StringVar(&flags.DatabaseURL, "database-url", "", "Postgres connection string; env DATABASE_URL")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		stop()
		os.Exit(1)
	}
}
