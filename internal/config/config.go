// Package config loads settings for every binary from the environment. A .env
// file is read first, and CONFIG_FILE may name a YAML file of the same keys that
// fills in whatever the environment leaves unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string
	RealtimePort string
	NotifyPort   string

	StoreDriver string
	DatabaseURL string

	BrokerDriver  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	HubBuffer     int

	OperationTimeout      time.Duration
	DefaultServiceMinutes int
	NearFrontThreshold    int
	Location              *time.Location
	AutoServeInterval     time.Duration

	AnalyticsCache    bool
	AnalyticsCacheTTL time.Duration

	Notifier          string
	NotifyQueue       string
	NotifyMaxRetry    int
	NotifyConcurrency int
	SMSProvider       string
	SMSWebhookToken   string
	NearFrontTemplate string
	ServedTemplate    string

	RateLimitPerMinute        int
	RateLimitBurst            int
	ManagerRateLimitPerMinute int
	ManagerRateLimitBurst     int

	AllowedOrigins   []string
	MaxSubscriptions int
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env error: %v", err)
	}
	file := map[string]string{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			log.Printf("config file error path=%s: %v", path, err)
		} else {
			file = values
		}
	}
	return fromSource(source{file: file, env: os.Getenv})
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	values := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case nil:
			continue
		case []interface{}:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			values[key] = strings.Join(items, ",")
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	return values, nil
}

type source struct {
	file map[string]string
	env  func(string) string
}

func (s source) get(key string) string {
	if value := s.env(key); value != "" {
		return value
	}
	return s.file[key]
}

func fromSource(s source) Config {
	cfg := Config{
		Port:         readString(s, "PORT", "8080"),
		RealtimePort: readString(s, "REALTIME_PORT", "8085"),
		NotifyPort:   readString(s, "NOTIF_PORT", "8082"),

		DatabaseURL: s.get("DB_DSN"),

		BrokerDriver:  readString(s, "BROKER_DRIVER", "memory"),
		RedisAddr:     s.get("REDIS_ADDR"),
		RedisPassword: s.get("REDIS_PASSWORD"),
		RedisDB:       readInt(s, "REDIS_DB", 0),
		NATSURL:       readString(s, "NATS_URL", "nats://127.0.0.1:4222"),
		HubBuffer:     readInt(s, "REALTIME_BUFFER", 16),

		OperationTimeout:      readDurationSeconds(s, "OPERATION_TIMEOUT_SECONDS", 5),
		DefaultServiceMinutes: readInt(s, "DEFAULT_SERVICE_MINUTES", 15),
		NearFrontThreshold:    readInt(s, "NEAR_FRONT_THRESHOLD", 3),
		Location:              readLocation(s, "TIMEZONE"),
		AutoServeInterval:     readDurationSeconds(s, "AUTO_SERVE_INTERVAL_SECONDS", 30),

		AnalyticsCacheTTL: readDurationSeconds(s, "ANALYTICS_CACHE_SECONDS", 300),

		NotifyQueue:       readString(s, "NOTIF_QUEUE", "notifications"),
		NotifyMaxRetry:    readInt(s, "NOTIF_MAX_ATTEMPTS", 3),
		NotifyConcurrency: readInt(s, "NOTIF_CONCURRENCY", 10),
		SMSProvider:       s.get("NOTIF_SMS_PROVIDER"),
		SMSWebhookToken:   s.get("NOTIF_SMS_WEBHOOK_TOKEN"),
		NearFrontTemplate: s.get("NOTIF_NEAR_FRONT_TEMPLATE"),
		ServedTemplate:    s.get("NOTIF_SERVED_TEMPLATE"),

		RateLimitPerMinute:        readInt(s, "RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt(s, "RATE_LIMIT_BURST", 30),
		ManagerRateLimitPerMinute: readInt(s, "MANAGER_RATE_LIMIT_PER_MIN", 600),
		ManagerRateLimitBurst:     readInt(s, "MANAGER_RATE_LIMIT_BURST", 120),

		AllowedOrigins:   readList(s, "REALTIME_ALLOWED_ORIGINS"),
		MaxSubscriptions: readInt(s, "REALTIME_MAX_SUBSCRIPTIONS", 32),
	}

	storeDefault := "memory"
	if cfg.DatabaseURL != "" {
		storeDefault = "postgres"
	}
	cfg.StoreDriver = readString(s, "STORE_DRIVER", storeDefault)

	notifierDefault := "log"
	if cfg.RedisAddr != "" {
		notifierDefault = "asynq"
	}
	cfg.Notifier = readString(s, "NOTIFIER", notifierDefault)
	cfg.AnalyticsCache = readBool(s, "ANALYTICS_CACHE", cfg.RedisAddr != "")
	return cfg
}

func readString(s source, key, fallback string) string {
	if value := strings.TrimSpace(s.get(key)); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(s source, key string, fallback int) time.Duration {
	value := readInt(s, key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(s source, key string, fallback int) int {
	raw := s.get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(s source, key string, fallback bool) bool {
	raw := s.get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(s source, key string) []string {
	var values []string
	for _, item := range strings.Split(s.get(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	return values
}

func readLocation(s source, key string) *time.Location {
	name := strings.TrimSpace(s.get(key))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("unknown timezone %q, using UTC: %v", name, err)
		return time.UTC
	}
	return loc
}
