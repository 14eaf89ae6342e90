package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// (Redis, Memcached, local memory) without changing business logic.
type Cache interface {
	BasicOps
	HashOps
	ZSetOps
	LockOps
	PubSubOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of a key
	// Returns -1 if the key exists but has no expiration
	// Returns -2 if the key does not exist
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)

	// IncrBy increments the integer value of a key by the given amount
	IncrBy(ctx context.Context, key string, value int64) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HSet sets field in the hash stored at key to value
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGet returns the value associated with field in the hash stored at key
	HGet(ctx context.Context, key, field string) (string, error)

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HDel deletes one or more fields from the hash stored at key
	HDel(ctx context.Context, key string, fields ...string) error

	// HLen returns the number of fields in the hash stored at key
	HLen(ctx context.Context, key string) (int64, error)

	// HIncrBy increments the integer value of a hash field by the given number
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// ZSetOps defines sorted set operations (crucial for leaderboard)
type ZSetOps interface {
	// ZAdd adds one or more members with scores to a sorted set
	ZAdd(ctx context.Context, key string, members ...ZMember) error

	// ZRem removes one or more members from a sorted set
	ZRem(ctx context.Context, key string, members ...string) error

	// ZScore returns the score of a member in a sorted set
	ZScore(ctx context.Context, key, member string) (float64, error)

	// ZRange returns members in a sorted set by index range (ascending order)
	// start and stop are zero-based indexes
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRangeWithScores returns members with scores in a sorted set by index range
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRevRange returns members in a sorted set by index range (descending order)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRevRangeWithScores returns members with scores in descending order
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRank returns the rank of a member in a sorted set (ascending order, 0-based)
	// Returns -1 if the member does not exist
	ZRank(ctx context.Context, key, member string) (int64, error)

	// ZRevRank returns the rank of a member in a sorted set (descending order, 0-based)
	// Returns -1 if the member does not exist
	ZRevRank(ctx context.Context, key, member string) (int64, error)

	// ZCard returns the number of members in a sorted set
	ZCard(ctx context.Context, key string) (int64, error)
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a distributed lock
	Unlock(ctx context.Context, key string) error

	// ExtendLock extends the TTL of an existing lock
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}

// PubSubOps defines publish/subscribe operations for cross-instance fan-out
type PubSubOps interface {
	// Publish publishes a message to the given channel
	Publish(ctx context.Context, channel string, message interface{}) error

	// Subscribe subscribes to the given channels and returns an active subscription.
	// The subscription delivers messages until Close is called.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription represents an active pub/sub subscription
type Subscription interface {
	// Messages returns the channel on which received messages are delivered.
	// The channel is closed when the subscription is closed.
	Messages() <-chan Message

	// Close unsubscribes from all channels and releases the subscription
	Close() error
}

// Message is a single pub/sub message
type Message struct {
	Channel string
	Payload string
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
