package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "qms:queue:"

type RedisBroker struct {
	client *redis.Client
	buffer int
}

func NewRedisBroker(client *redis.Client, buffer int) *RedisBroker {
	return &RedisBroker{client: client, buffer: bufferSize(buffer)}
}

func (b *RedisBroker) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisChannelPrefix+change.QueueID, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, queueID string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if queueID == "" {
		pubsub = b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	} else {
		pubsub = b.client.Subscribe(ctx, redisChannelPrefix+queueID)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	box := newMailbox(b.buffer)
	messages := pubsub.Channel()
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()
	go func() {
		defer box.close()
		for msg := range messages {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Printf("realtime redis decode error channel=%s: %v", msg.Channel, err)
				continue
			}
			box.put(change)
		}
	}()
	return newSubscription(box.out, cancel), nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
