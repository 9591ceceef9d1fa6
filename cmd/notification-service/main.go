package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-dashboard/internal/config"
	"qms/queue-dashboard/internal/notify"
	"qms/queue-dashboard/internal/telemetry"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("notification-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if cfg.RedisAddr == "" {
		log.Fatalf("notification-service requires REDIS_ADDR")
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		serverConfig(cfg),
	)

	worker := notify.NewWorker(notify.NewProvider(cfg.SMSProvider, cfg.SMSWebhookToken), notify.WorkerConfig{
		NearFrontTemplate: cfg.NearFrontTemplate,
		ServedTemplate:    cfg.ServedTemplate,
	})
	mux := asynq.NewServeMux()
	worker.Register(mux)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("asynq server: %v", err)
	}

	metrics := http.NewServeMux()
	metrics.Handle("/metrics", promhttp.Handler())
	metrics.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:         ":" + cfg.NotifyPort,
		Handler:      metrics,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("notification-service listening on %s queue=%s provider=%s", server.Addr, cfg.NotifyQueue, cfg.SMSProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	srv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func serverConfig(cfg config.Config) asynq.Config {
	queue := cfg.NotifyQueue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.NotifyConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Printf("notification task failed type=%s retry=%d/%d: %v", task.Type(), retried, maxRetry, err)
		}),
	}
}
