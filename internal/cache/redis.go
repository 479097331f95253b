// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list that carries session events to the historian.
const DefaultQueueName = "tumaurmai_events"

// DefaultBuffer is how many events the sink holds before it starts dropping.
const DefaultBuffer = 1024

// ConnectRedis builds a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ListPusher is the slice of the Redis client the sink needs.
type ListPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSink queues session events in memory and pushes them to a Redis list
// from its own goroutine. Record never blocks.
type RedisSink struct {
	rdb     ListPusher
	queue   string
	buf     chan models.SessionEvent
	log     *logrus.Logger
	dropped atomic.Int64
	done    chan struct{}
}

// NewRedisSink returns a sink writing to queue. Call Run to start delivery.
func NewRedisSink(rdb ListPusher, queue string, size int, logger *logrus.Logger) *RedisSink {
	if queue == "" {
		queue = DefaultQueueName
	}
	if size <= 0 {
		size = DefaultBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisSink{
		rdb:   rdb,
		queue: queue,
		buf:   make(chan models.SessionEvent, size),
		log:   logger,
		done:  make(chan struct{}),
	}
}

// Record enqueues ev, dropping it if the buffer is full.
func (s *RedisSink) Record(ev models.SessionEvent) {
	select {
	case s.buf <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.log.WithField("dropped", n).Warn("Event sink full, dropping session events")
		}
	}
}

// Dropped returns the number of events discarded so far.
func (s *RedisSink) Dropped() int64 {
	return s.dropped.Load()
}

// Run pushes buffered events until ctx is cancelled, then flushes whatever is
// still buffered with a short deadline.
func (s *RedisSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case ev := <-s.buf:
			s.push(ctx, ev)
		}
	}
}

// Done is closed once Run has returned.
func (s *RedisSink) Done() <-chan struct{} {
	return s.done
}

func (s *RedisSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.buf:
			s.push(ctx, ev)
		default:
			return
		}
	}
}

func (s *RedisSink) push(ctx context.Context, ev models.SessionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Errorf("failed to marshal session event: %v", err)
		return
	}
	if err := s.rdb.RPush(ctx, s.queue, data).Err(); err != nil {
		s.log.WithField("kind", ev.Kind).Warnf("failed to RPush to Redis list '%s': %v", s.queue, err)
	}
}
