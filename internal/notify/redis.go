package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

// RedisSink mirrors the live feed under key, expiring with the alert TTL,
// and publishes each change on key+":events". A snapshot older than the
// one already mirrored is not written.
type RedisSink struct {
	client redisClient
	key    string
	ttl    time.Duration

	// mu is held across the SET so mirrors land in Seq order.
	mu      sync.Mutex
	lastSeq uint64
}

func NewRedisSink(ctx context.Context, addr, password string, db int, key string, ttl time.Duration) (*RedisSink, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{client: rdb, key: key, ttl: ttl}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Publish(ctx context.Context, ev Event) error {
	if err := r.mirror(ctx, ev); err != nil {
		return err
	}

	change, err := json.Marshal(ev.Change)
	if err != nil {
		return fmt.Errorf("serialize alert change: %w", err)
	}
	if err := r.client.Publish(ctx, r.eventsChannel(), change).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.eventsChannel(), err)
	}
	return nil
}

func (r *RedisSink) mirror(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= r.lastSeq {
		return nil
	}

	live, err := json.Marshal(ev.Live)
	if err != nil {
		return fmt.Errorf("serialize live alerts: %w", err)
	}
	if err := r.client.Set(ctx, r.key, live, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	if ev.Seq != 0 {
		r.lastSeq = ev.Seq
	}
	return nil
}

func (r *RedisSink) eventsChannel() string {
	return r.key + ":events"
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
