package main

import (
	"testing"

	"qms/queue-dashboard/internal/config"
)

func TestServerConfig(t *testing.T) {
	got := serverConfig(config.Config{})
	if got.Concurrency != 10 || got.Queues["default"] != 1 {
		t.Fatalf("unexpected defaults %+v", got)
	}

	got = serverConfig(config.Config{NotifyQueue: "notifications", NotifyConcurrency: 4})
	if got.Concurrency != 4 || got.Queues["notifications"] != 1 || len(got.Queues) != 1 {
		t.Fatalf("unexpected config %+v", got)
	}
	if got.ErrorHandler == nil {
		t.Fatalf("expected an error handler")
	}
}
