package main

import (
	"context"
	"testing"
	"time"

	"qms/queue-dashboard/internal/realtime"
)

func TestRelayForwardsUntilClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := realtime.NewHub(8)
	sub, err := source.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe source: %v", err)
	}
	local := realtime.NewHub(8)
	observer, err := local.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe local: %v", err)
	}

	_ = source.Publish(ctx, realtime.Change{QueueID: "q1", Table: realtime.TableTokens})
	_ = source.Publish(ctx, realtime.Change{QueueID: "q2", Table: realtime.TableTokens})

	done := make(chan int, 1)
	go func() { done <- relay(sub, local) }()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case change := <-observer.C:
			if change.Table != realtime.TableTokens {
				t.Fatalf("unexpected change %+v", change)
			}
			seen[change.QueueID] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for relayed changes, got %v", seen)
		}
	}
	if !seen["q1"] || !seen["q2"] {
		t.Fatalf("expected both queues relayed, got %v", seen)
	}

	sub.Close()
	select {
	case count := <-done:
		if count != 2 {
			t.Fatalf("expected 2 relayed changes, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatalf("relay did not stop after close")
	}
}
