// Package lease provides short-lived per-message claims backed by Redis.
// A drain pass claims each message before attempting delivery so that two
// overlapping passes (ticker and HTTP trigger, or two worker replicas)
// never hand the same message to the provider twice.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection and claim settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a claim survives a crashed worker.
	TTL time.Duration
}

// Claimer takes and releases per-message claims.
type Claimer interface {
	// Claim attempts to take the claim for a message. It returns false
	// when another worker already holds it.
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release frees the claim after the message has been reconciled.
	Release(ctx context.Context, messageID string) error
}

// RedisClaimer implements Claimer with SET NX and a TTL.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a RedisClaimer and verifies the connection.
func New(ctx context.Context, cfg Config) (*RedisClaimer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lease: connect redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &RedisClaimer{client: client, ttl: ttl}, nil
}

// NewWithClient creates a RedisClaimer on an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisClaimer{client: client, ttl: ttl}
}

func leaseKey(messageID string) string {
	return "lease:mail:" + messageID
}

// Claim takes the claim for a message if nobody holds it. The TTL keeps a
// crashed worker from blocking the message forever.
func (c *RedisClaimer) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, leaseKey(messageID), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: claim %s: %w", messageID, err)
	}
	return ok, nil
}

// Release frees the claim. Releasing a claim that already expired is not
// an error.
func (c *RedisClaimer) Release(ctx context.Context, messageID string) error {
	if err := c.client.Del(ctx, leaseKey(messageID)).Err(); err != nil {
		return fmt.Errorf("lease: release %s: %w", messageID, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisClaimer) Close() error {
	return c.client.Close()
}

// NopClaimer is used when leasing is disabled. Every claim succeeds.
type NopClaimer struct{}

func (NopClaimer) Claim(ctx context.Context, messageID string) (bool, error) { return true, nil }

func (NopClaimer) Release(ctx context.Context, messageID string) error { return nil }
