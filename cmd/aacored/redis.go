package main

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisPubSub adapts *redis.Client to eventbus.PubSubClient, so
// internal/eventbus never imports the concrete driver.
type redisPubSub struct {
	client *redis.Client
}

func (r *redisPubSub) Publish(ctx context.Context, channel string, message []byte) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *redisPubSub) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	msgs := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		sub.Close()
	}, nil
}
