package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-dashboard/internal/analytics"
	"qms/queue-dashboard/internal/config"
	"qms/queue-dashboard/internal/engine"
	"qms/queue-dashboard/internal/gateway"
	"qms/queue-dashboard/internal/httpapi"
	"qms/queue-dashboard/internal/notify"
	"qms/queue-dashboard/internal/realtime"
	"qms/queue-dashboard/internal/store"
	"qms/queue-dashboard/internal/store/memory"
	"qms/queue-dashboard/internal/store/postgres"
	"qms/queue-dashboard/internal/telemetry"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

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

	notifier, closeNotifier, err := openNotifier(cfg)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}
	defer closeNotifier()

	eng := engine.New(st, broker, notifier, engine.Options{
		Timeout:               cfg.OperationTimeout,
		DefaultServiceMinutes: cfg.DefaultServiceMinutes,
		NearFrontThreshold:    cfg.NearFrontThreshold,
		Location:              cfg.Location,
	})

	var cache analytics.Cache
	if cfg.AnalyticsCache && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		cache = analytics.NewRedisCache(client)
	}
	aggregator := analytics.NewAggregator(st, cache, analytics.Options{
		CacheTTL: cfg.AnalyticsCacheTTL,
		Location: cfg.Location,
	})

	handler := httpapi.NewHandler(eng, aggregator)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		ManagerPerMinute: cfg.ManagerRateLimitPerMinute,
		ManagerBurst:     cfg.ManagerRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	// An in-process hub can only be observed from this process, so the
	// gateway is mounted here. Shared brokers are served by realtime-service.
	if hub, ok := broker.(*realtime.Hub); ok {
		gw := gateway.New(hub, st, gateway.Config{
			MaxSubscriptions: cfg.MaxSubscriptions,
			AllowedOrigins:   cfg.AllowedOrigins,
		})
		mux.Handle("/realtime/", gw.SockJSHandler("/realtime"))
		mux.Handle("/ws", gw.WebSocketHandler())
	}
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s store=%s broker=%s notifier=%s", server.Addr, cfg.StoreDriver, cfg.BrokerDriver, cfg.Notifier)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.AutoServeInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.AutoServeInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.AutoServeInterval)
			count, err := eng.AutoServe(ctx)
			cancel()
			if err != nil {
				log.Printf("auto-serve error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("auto-serve served %d tokens", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("postgres store requires DB_DSN")
		}
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openNotifier(cfg config.Config) (engine.Notifier, func(), error) {
	switch cfg.Notifier {
	case "", "log":
		return notify.LogNotifier{}, func() {}, nil
	case "none":
		return engine.NopNotifier{}, func() {}, nil
	case "asynq":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("asynq notifier requires REDIS_ADDR")
		}
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		enqueuer := notify.NewEnqueuer(client, notify.EnqueuerConfig{
			Queue:     cfg.NotifyQueue,
			MaxRetry:  cfg.NotifyMaxRetry,
			Retention: 24 * time.Hour,
		})
		return enqueuer, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}
