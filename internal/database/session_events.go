package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/tumaurmai/internal/models"
)

// InsertSessionEvents writes a batch of lifecycle records in one round trip.
func InsertSessionEvents(ctx context.Context, events []models.SessionEvent) error {
	if len(events) == 0 {
		return nil
	}
	return inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			ids := ev.ClientIDs
			if ids == nil {
				ids = []string{}
			}
			batch.Queue(`
				INSERT INTO session_events (kind, session_id, room_name, client_ids, reason, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, ev.Kind, nullable(ev.SessionID), nullable(ev.RoomName), ids, nullable(ev.Reason), ev.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range events {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert session event %d (%s): %w", i, events[i].Kind, err)
			}
		}
		return br.Close()
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
