package main

import (
	"testing"

	"qms/queue-dashboard/internal/config"
	"qms/queue-dashboard/internal/engine"
	"qms/queue-dashboard/internal/notify"
	"qms/queue-dashboard/internal/store/memory"
)

func TestOpenStore(t *testing.T) {
	st, closeStore, err := openStore(config.Config{StoreDriver: "memory"})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer closeStore()
	if _, ok := st.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}

	if _, _, err := openStore(config.Config{StoreDriver: "postgres"}); err == nil {
		t.Fatalf("expected error for postgres without DSN")
	}
	if _, _, err := openStore(config.Config{StoreDriver: "sqlite"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenNotifier(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		want    engine.Notifier
		wantErr bool
	}{
		{"default", config.Config{}, notify.LogNotifier{}, false},
		{"log", config.Config{Notifier: "log"}, notify.LogNotifier{}, false},
		{"none", config.Config{Notifier: "none"}, engine.NopNotifier{}, false},
		{"asynq without redis", config.Config{Notifier: "asynq"}, nil, true},
		{"unknown", config.Config{Notifier: "pager"}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, closeNotifier, err := openNotifier(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer closeNotifier()
			if got != tc.want {
				t.Fatalf("expected %T, got %T", tc.want, got)
			}
		})
	}
}
