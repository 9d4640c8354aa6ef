package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub connects to redis and complies with the pubsub interface
func NewRedisPubSub(ctx context.Context, addr, password string, db int) (*RedisPubSub, error) {
	rClient := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	retryTicker := time.NewTicker(time.Second * 2)
	defer retryTicker.Stop()

	// retry ping
	var pingErr error
	for range 5 {
		if pingErr = rClient.Ping(ctx).Err(); pingErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = rClient.Close()
			return nil, ctx.Err()
		case <-retryTicker.C:
		}
	}
	if pingErr != nil {
		_ = rClient.Close()
		return nil, fmt.Errorf("failed to ping redis instance: %w", pingErr)
	}

	return NewFromClient(rClient), nil
}

func NewFromClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the subscription to be confirmed before returning so nothing published
// afterwards is missed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisPubSub) Close() error {
	return r.client.Close()
}
