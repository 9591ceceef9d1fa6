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
	"qms/queue-dashboard/internal/gateway"
	"qms/queue-dashboard/internal/httpapi"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store/postgres"
	"qms/queue-dashboard/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("realtime-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if cfg.BrokerDriver == "" || cfg.BrokerDriver == "memory" {
		log.Fatalf("realtime-service needs a shared broker, set BROKER_DRIVER to redis or nats")
	}
	broker, err := realtime.Open(realtime.Config{
		Driver:        cfg.BrokerDriver,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		NATSURL:       cfg.NATSURL,
		Buffer:        cfg.HubBuffer,
	})
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	defer broker.Close()

	var lookup gateway.QueueLookup
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()
		lookup = postgres.NewStore(pool)
	}

	hub := realtime.NewHub(cfg.HubBuffer)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := broker.Subscribe(ctx, "")
	if err != nil {
		log.Fatalf("broker subscribe: %v", err)
	}
	go relay(sub, hub)

	gw := gateway.New(hub, lookup, gateway.Config{
		MaxSubscriptions: cfg.MaxSubscriptions,
		AllowedOrigins:   cfg.AllowedOrigins,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/realtime/", gw.SockJSHandler("/realtime"))
	mux.Handle("/ws", gw.WebSocketHandler())

	server := &http.Server{
		Addr:         ":" + cfg.RealtimePort,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "realtime-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("realtime-service listening on %s broker=%s", server.Addr, cfg.BrokerDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// relay copies broker signals into the local hub until the subscription ends.
func relay(sub *realtime.Subscription, hub *realtime.Hub) int {
	count := 0
	for change := range sub.C {
		hub.Broadcast(change)
		count++
	}
	log.Printf("broker subscription closed after %d changes", count)
	return count
}
