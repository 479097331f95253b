package database

import (
	"context"
	"testing"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestConnString(t *testing.T) {
	t.Setenv("PG_HOST", "")
	assert.Equal(t, "postgres://u:p@h:1/db", ConnString("postgres://u:p@h:1/db"))
	assert.Empty(t, ConnString(""))

	t.Setenv("POSTGRES_USER", "tam")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("PG_HOST", "db.local")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_DATABASE", "signal")
	assert.Equal(t, "postgres://tam:pw@db.local:5432/signal", ConnString(""))
}

func TestQueriesWithoutPool(t *testing.T) {
	Close()
	ctx := context.Background()

	assert.ErrorIs(t, Migrate(ctx), ErrNoDatabase)
	assert.ErrorIs(t, InsertRoom(ctx, &models.Room{Name: "team1"}), ErrNoDatabase)
	_, err := GetRoom(ctx, "team1")
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = DeleteExpiredRooms(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, InsertSessionEvents(ctx, []models.SessionEvent{{Kind: models.EventMatch}}), ErrNoDatabase)
	assert.ErrorIs(t, DeleteRoom(ctx, "team1"), ErrNoDatabase)
	assert.NoError(t, InsertSessionEvents(ctx, nil))
}
