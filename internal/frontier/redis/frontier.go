// Package redis provides a store-backed frontier so the pending queue
// itself survives process restarts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

const defaultPollInterval = 100 * time.Millisecond

// Config controls the Redis connection and key namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Frontier keeps the queue in a Redis list, with a membership set as the
// dedup guard and an in-flight set for claimed ids. Dedup remains
// correct across processes because SADD is atomic.
type Frontier struct {
	client *redis.Client
	ns     string
	poll   time.Duration

	mu      sync.Mutex
	closed  bool
	started bool
	closeCh chan struct{}
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Frontier, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("frontier.redis.addr is required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "linkcrawler"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Frontier{
		client:  client,
		ns:      ns,
		poll:    defaultPollInterval,
		closeCh: make(chan struct{}),
	}, nil
}

func (f *Frontier) queueKey() string    { return f.ns + ":queue" }
func (f *Frontier) pendingKey() string  { return f.ns + ":pending" }
func (f *Frontier) inflightKey() string { return f.ns + ":inflight" }

// Recover moves ids claimed by a previous, uncleanly stopped process
// back into the queue. Called once at startup before workers spawn.
func (f *Frontier) Recover(ctx context.Context) error {
	stale, err := f.client.SMembers(ctx, f.inflightKey()).Result()
	if err != nil {
		return fmt.Errorf("list stale claims: %w", err)
	}
	for _, member := range stale {
		if err := f.client.LPush(ctx, f.queueKey(), member).Err(); err != nil {
			return fmt.Errorf("requeue stale claim %s: %w", member, err)
		}
	}
	if err := f.client.Del(ctx, f.inflightKey()).Err(); err != nil {
		return fmt.Errorf("clear stale claims: %w", err)
	}
	return nil
}

// EnqueueIfAbsent queues id unless the membership set already holds it.
func (f *Frontier) EnqueueIfAbsent(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, crawler.ErrFrontierClosed
	}
	f.started = true
	f.mu.Unlock()

	member := strconv.FormatInt(id, 10)
	added, err := f.client.SAdd(ctx, f.pendingKey(), member).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue dedup check: %w", err)
	}
	if added == 0 {
		return false, nil
	}
	if err := f.client.LPush(ctx, f.queueKey(), member).Err(); err != nil {
		return false, fmt.Errorf("enqueue push: %w", err)
	}
	return true, nil
}

// Claim pops the next id, polling until work appears, the frontier
// drains, or ctx ends.
func (f *Frontier) Claim(ctx context.Context) (int64, error) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		f.mu.Lock()
		closed, started := f.closed, f.started
		f.mu.Unlock()
		if closed {
			return 0, crawler.ErrFrontierClosed
		}

		member, err := f.client.RPop(ctx, f.queueKey()).Result()
		switch {
		case err == nil:
			if err := f.client.SAdd(ctx, f.inflightKey(), member).Err(); err != nil {
				return 0, fmt.Errorf("mark claim in flight: %w", err)
			}
			id, perr := strconv.ParseInt(member, 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("corrupt frontier entry %q: %w", member, perr)
			}
			return id, nil
		case errors.Is(err, redis.Nil):
			// Empty queue: drained only if nothing is pending anywhere.
			if started {
				pending, cerr := f.client.SCard(ctx, f.pendingKey()).Result()
				if cerr != nil {
					return 0, fmt.Errorf("check drain: %w", cerr)
				}
				if pending == 0 {
					f.Close()
					return 0, crawler.ErrFrontierClosed
				}
			}
		default:
			return 0, fmt.Errorf("claim pop: %w", err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.closeCh:
			return 0, crawler.ErrFrontierClosed
		case <-ticker.C:
		}
	}
}

// Release finishes an attempt. Without requeue the id leaves both the
// in-flight and membership sets for good.
func (f *Frontier) Release(ctx context.Context, id int64, requeue bool) error {
	member := strconv.FormatInt(id, 10)
	if err := f.client.SRem(ctx, f.inflightKey(), member).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if requeue {
		if err := f.client.LPush(ctx, f.queueKey(), member).Err(); err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		return nil
	}
	if err := f.client.SRem(ctx, f.pendingKey(), member).Err(); err != nil {
		return fmt.Errorf("drop membership: %w", err)
	}
	return nil
}

// Close stops all claimers. The Redis keys are left intact so a
// follow-up run resumes where this one stopped.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.closeCh)
}

// Shutdown closes the underlying client.
func (f *Frontier) Shutdown() error {
	f.Close()
	return f.client.Close()
}
