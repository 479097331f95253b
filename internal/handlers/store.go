// internal/handlers/store.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/models"
)

// RoomStore persists rooms created over HTTP so a later WebSocket join can
// bring them to life. Implementations return database.ErrRoomExists and
// database.ErrRoomNotFound.
type RoomStore interface {
	InsertRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, name string) (*models.Room, error)
	DeleteRoom(ctx context.Context, name string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PostgresStore is the RoomStore backed by the shared pgx pool.
type PostgresStore struct{}

func (PostgresStore) InsertRoom(ctx context.Context, room *models.Room) error {
	return database.InsertRoom(ctx, room)
}

func (PostgresStore) GetRoom(ctx context.Context, name string) (*models.Room, error) {
	return database.GetRoom(ctx, name)
}

func (PostgresStore) DeleteRoom(ctx context.Context, name string) error {
	return database.DeleteRoom(ctx, name)
}

func (PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return database.DeleteExpiredRooms(ctx, now)
}

// MemoryStore keeps rooms in process memory. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]models.Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]models.Room)}
}

func (s *MemoryStore) InsertRoom(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rooms[room.Name]; ok && !existing.Expired(room.CreatedAt) {
		return database.ErrRoomExists
	}
	s.rooms[room.Name] = *room
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, name string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		return nil, database.ErrRoomNotFound
	}
	return &r, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, name)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for name, r := range s.rooms {
		if r.Expired(now) {
			delete(s.rooms, name)
			n++
		}
	}
	return n, nil
}
