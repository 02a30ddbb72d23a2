package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"corrdiv/internal/domain"
)

// Default Redis keys.
const (
	DefaultChannel     = "corrdiv:events"
	DefaultSnapshotKey = "corrdiv:portfolio"
)

// RedisNotifier publishes events to a Redis channel and keeps the latest
// portfolio snapshot under a key with a TTL.
type RedisNotifier struct {
	client      *redis.Client
	channel     string
	snapshotKey string
	snapshotTTL time.Duration
}

// RedisOption configures a RedisNotifier.
type RedisOption func(*RedisNotifier)

// WithChannel overrides the publish channel.
func WithChannel(channel string) RedisOption {
	return func(n *RedisNotifier) { n.channel = channel }
}

// WithSnapshotKey overrides the snapshot key and its TTL. TTL 0 keeps it forever.
func WithSnapshotKey(key string, ttl time.Duration) RedisOption {
	return func(n *RedisNotifier) {
		n.snapshotKey = key
		n.snapshotTTL = ttl
	}
}

// NewRedisNotifier creates a RedisNotifier over an existing client.
func NewRedisNotifier(client *redis.Client, opts ...RedisOption) *RedisNotifier {
	n := &RedisNotifier{
		client:      client,
		channel:     DefaultChannel,
		snapshotKey: DefaultSnapshotKey,
		snapshotTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Notify publishes ev as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// PublishSnapshot overwrites the latest snapshot key.
func (n *RedisNotifier) PublishSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := n.client.Set(ctx, n.snapshotKey, data, n.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot reads back the stored snapshot. Returns redis.Nil when absent.
func (n *RedisNotifier) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	data, err := n.client.Get(ctx, n.snapshotKey).Bytes()
	if err != nil {
		return nil, err
	}
	var snap domain.PortfolioSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

var (
	_ Notifier          = (*RedisNotifier)(nil)
	_ SnapshotPublisher = (*RedisNotifier)(nil)
)
