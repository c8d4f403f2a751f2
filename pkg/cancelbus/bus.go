// Package cancelbus propagates best-effort cancellation to whichever worker
// owns a running attempt. Cancellation is cooperative and racy by design: an
// in-flight upload may still complete before the signal lands.
package cancelbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const Channel = "translate.cancel"

const connectTimeout = 2 * time.Second

// NewRedisClient connects to the cancellation bus backend and verifies the
// connection.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Registry maps running attempts to their cancel functions, one entry per
// job id for the attempt the local worker currently owns.
type Registry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]context.CancelFunc)}
}

func (r *Registry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[jobID] = cancel
}

func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, jobID)
}

// Cancel terminates the local attempt for jobID, if any. Reports whether a
// running attempt was found.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.m[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Bus publishes and receives cancel signals across worker processes.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func New(rdb *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, logger: logger}
}

// Publish signals every worker that jobID should stop.
func (b *Bus) Publish(ctx context.Context, jobID string) error {
	return b.rdb.Publish(ctx, Channel, jobID).Err()
}

// Run subscribes to the cancel channel and terminates matching local attempts
// until ctx is done.
func (b *Bus) Run(ctx context.Context, registry *Registry) {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if registry.Cancel(msg.Payload) {
				b.logger.Info("cancelled running attempt", "job_id", msg.Payload)
			}
		}
	}
}
