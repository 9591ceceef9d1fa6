// Package realtime carries "something changed in queue X" signals between the
// engine and observers. A signal names the table that changed and nothing else;
// receivers re-fetch authoritative state. Delivery is at-least-once and unordered.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	TableQueues        = "queues"
	TableTokens        = "tokens"
	TableQueueEvents   = "queue_events"
	TableQueueSettings = "queue_settings"
	TableServiceTypes  = "service_types"
)

type Change struct {
	QueueID   string    `json:"queue_id"`
	Table     string    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
}

// Broker fans change signals out to subscribers. Subscribing with an empty
// queue ID receives every queue's signals.
type Broker interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, queueID string) (*Subscription, error)
	Close() error
}

type Subscription struct {
	C      <-chan Change
	cancel context.CancelFunc
	once   sync.Once
}

func newSubscription(c <-chan Change, cancel context.CancelFunc) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close stops delivery; C is closed shortly after.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type Config struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	Buffer        int
}

func Open(cfg Config) (Broker, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewHub(cfg.Buffer), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisBroker(client, cfg.Buffer), nil
	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("qms-queue-dashboard"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		return NewNATSBroker(conn, cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

func bufferSize(n int) int {
	if n <= 0 {
		return 16
	}
	return n
}
