package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string
	GRPCAddr string

	OrdersGRPCHost string
	OrdersGRPCPort int
	OrdersTimeout  time.Duration

	RedisAddr      string
	RedisPass      string
	RedisDB        int
	RatingCacheTTL time.Duration

	KafkaEnabled bool
	KafkaBrokers []string // list of broker addresses, e.g. ["localhost:9092","localhost:9093"]
	KafkaTopic   string

	CORSAllowedOrigins []string
	RateLimitPerMinute int64
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8040"),
		GRPCAddr:           getEnv("GRPC_ADDR", ":8041"),
		OrdersGRPCHost:     getEnv("ORDERS_GRPC_HOST", "order-service"),
		OrdersGRPCPort:     getEnvAsInt("ORDERS_GRPC_PORT", 50051),
		OrdersTimeout:      getEnvAsDuration("ORDERS_TIMEOUT", 3*time.Second),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:          getEnv("REDIS_PASS", ""),
		RedisDB:            getEnvAsInt("REDIS_DB", 0),
		RatingCacheTTL:     getEnvAsDuration("RATING_CACHE_TTL", time.Minute),
		KafkaEnabled:       getEnvAsBool("KAFKA_ENABLED", true),
		KafkaBrokers:       parseCSVEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "reviews"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", "http://localhost:4200"),
		RateLimitPerMinute: int64(getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60)),
	}
}

// OrdersTarget is the gRPC dial target of the order authority.
func (c AppConfig) OrdersTarget() string {
	return fmt.Sprintf("%s:%d", c.OrdersGRPCHost, c.OrdersGRPCPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func parseCSVEnv(key, fallback string) []string {
	val := getEnv(key, fallback)
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
