package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned by every query when ConnectDB was never called.
var ErrNoDatabase = errors.New("database not configured")

// DB is the shared pool. It stays nil when the service runs without Postgres.
var DB *pgxpool.Pool

// ConnString returns url if set, otherwise a DSN built from the POSTGRES_* and
// PG_* variables. It returns "" when neither is configured.
func ConnString(url string) string {
	if url != "" {
		return url
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		port,
		os.Getenv("PG_DATABASE"),
	)
}

// ConnectDB opens the pool and pings it.
func ConnectDB(ctx context.Context, connStr string) error {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("db ping error: %w", err)
	}

	DB = pool
	return nil
}

// Close releases the pool, if any.
func Close() {
	if DB != nil {
		DB.Close()
		DB = nil
	}
}

func requireDB() error {
	if DB == nil {
		return ErrNoDatabase
	}
	return nil
}

func inTx(ctx context.Context, f func(tx pgx.Tx) error) error {
	if err := requireDB(); err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, f)
}
