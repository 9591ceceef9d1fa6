package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "qms.queue."

type NATSBroker struct {
	conn   *nats.Conn
	buffer int
}

func NewNATSBroker(conn *nats.Conn, buffer int) *NATSBroker {
	return &NATSBroker{conn: conn, buffer: bufferSize(buffer)}
}

func (b *NATSBroker) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.conn.Publish(natsSubjectPrefix+change.QueueID, payload)
}

func (b *NATSBroker) Subscribe(ctx context.Context, queueID string) (*Subscription, error) {
	subject := natsSubjectPrefix + queueID
	if queueID == "" {
		subject = natsSubjectPrefix + "*"
	}
	messages := make(chan *nats.Msg, b.buffer)
	sub, err := b.conn.ChanSubscribe(subject, messages)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	box := newMailbox(b.buffer)
	go func() {
		defer box.close()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case msg := <-messages:
				var change Change
				if err := json.Unmarshal(msg.Data, &change); err != nil {
					log.Printf("realtime nats decode error subject=%s: %v", msg.Subject, err)
					continue
				}
				box.put(change)
			}
		}
	}()
	return newSubscription(box.out, cancel), nil
}

func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}
