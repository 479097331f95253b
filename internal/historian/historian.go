// Package historian drains session events from the Redis list written by the
// signaling server and persists them to Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/tumaurmai/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize  = 20
	DefaultFlushDelay = 500 * time.Millisecond

	// pending events beyond this many batches are dropped while the writer fails
	maxPendingBatches = 50
)

// Popper is the slice of the Redis client the historian needs.
type Popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// WriteFunc persists one batch.
type WriteFunc func(ctx context.Context, events []models.SessionEvent) error

// Options configures a Service.
type Options struct {
	Redis      Popper
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	Write      WriteFunc
	Logger     *logrus.Logger
}

// Service reads the queue from a single goroutine, so the batch needs no lock.
type Service struct {
	rdb        Popper
	queue      string
	batchSize  int
	flushDelay time.Duration
	write      WriteFunc
	log        *logrus.Logger

	batch     []models.SessionEvent
	lastFlush time.Time
}

func New(opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Service{
		rdb:        opts.Redis,
		queue:      opts.Queue,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		write:      opts.Write,
		log:        opts.Logger,
		batch:      make([]models.SessionEvent, 0, opts.BatchSize),
	}
}

// Run pops events until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	s.log.Infof("historian started on queue %s", s.queue)
	s.lastFlush = time.Now()

	for {
		if ctx.Err() != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.flush(flushCtx)
			s.log.Info("historian shutting down")
			return nil
		}

		res, err := s.rdb.BLPop(ctx, s.flushDelay, s.queue).Result()
		switch {
		case err == nil && len(res) == 2:
			// res[0] is the queue name and res[1] the payload
			s.add(ctx, res[1])
		case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled):
		case err != nil:
			s.log.Errorf("BLPop: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(s.flushDelay):
			}
		}

		if time.Since(s.lastFlush) >= s.flushDelay {
			s.flush(ctx)
		}
	}
}

func (s *Service) add(ctx context.Context, payload string) {
	var ev models.SessionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Kind == "" {
		s.log.Warnf("invalid session event: %q", payload)
		return
	}
	s.batch = append(s.batch, ev)
	if len(s.batch) >= s.batchSize {
		s.flush(ctx)
	}
}

// flush writes the pending batch. On failure the events stay pending and are
// retried with the next flush.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}
	if err := s.write(ctx, s.batch); err != nil {
		s.log.Errorf("flush %d session events: %v", len(s.batch), err)
		if limit := s.batchSize * maxPendingBatches; len(s.batch) > limit {
			dropped := len(s.batch) - limit
			s.batch = append(s.batch[:0], s.batch[dropped:]...)
			s.log.Warnf("dropped %d pending session events", dropped)
		}
		return
	}
	s.log.Debugf("flushed %d session events", len(s.batch))
	s.batch = make([]models.SessionEvent, 0, s.batchSize)
}
