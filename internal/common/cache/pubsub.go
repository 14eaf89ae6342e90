package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// subscriptionBuffer is the delivery channel capacity per subscription.
// Slow consumers block the pump goroutine, not the Redis connection.
const subscriptionBuffer = 256

// Publish publishes a message to the given channel.
func (r *RedisCache) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to the given channels. It blocks until the server
// confirms the subscription so callers never miss messages published after
// Subscribe returns.
func (r *RedisCache) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("channels cannot be empty")
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan Message, subscriptionBuffer),
	}
	go sub.pump()
	return sub, nil
}

// redisSubscription implements Subscription over a go-redis PubSub.
type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan Message
	once     sync.Once
}

// pump copies messages from the go-redis channel into the subscription
// channel until the underlying PubSub is closed.
func (s *redisSubscription) pump() {
	defer close(s.messages)
	for msg := range s.pubsub.Channel() {
		s.messages <- Message{Channel: msg.Channel, Payload: msg.Payload}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
