package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/tumaurmai/internal/models"
)

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
)

const uniqueViolation = "23505"

// InsertRoom persists a new room. An expired row with the same name is
// replaced; a live one yields ErrRoomExists.
func InsertRoom(ctx context.Context, room *models.Room) error {
	err := inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM rooms WHERE name = $1 AND expires_at <= $2`,
			room.Name, room.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (name, password_hash, created_by, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, room.Name, room.PasswordHash, room.CreatedByName, room.CreatedAt, room.ExpiresAt)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrRoomExists
	}
	if err != nil && !errors.Is(err, ErrNoDatabase) {
		return fmt.Errorf("insert room %q: %w", room.Name, err)
	}
	return err
}

// GetRoom fetches a room by name, expired or not.
func GetRoom(ctx context.Context, name string) (*models.Room, error) {
	if err := requireDB(); err != nil {
		return nil, err
	}
	var r models.Room
	err := DB.QueryRow(ctx, `
		SELECT name, password_hash, created_by, created_at, expires_at
		FROM rooms
		WHERE name = $1
	`, name).Scan(&r.Name, &r.PasswordHash, &r.CreatedByName, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %q: %w", name, err)
	}
	return &r, nil
}

// DeleteRoom removes the room called name, if present.
func DeleteRoom(ctx context.Context, name string) error {
	if err := requireDB(); err != nil {
		return err
	}
	if _, err := DB.Exec(ctx, `DELETE FROM rooms WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete room %q: %w", name, err)
	}
	return nil
}

// DeleteExpiredRooms removes every room whose expiry is at or before now.
func DeleteExpiredRooms(ctx context.Context, now time.Time) (int64, error) {
	if err := requireDB(); err != nil {
		return 0, err
	}
	tag, err := DB.Exec(ctx, `DELETE FROM rooms WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}
