package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort    int
	MetricsPort int
	DatabaseURL string

	KafkaBrokers []string
	SendTopic    string

	RedisAddr     string
	RedisPassword string

	TelegramToken     string
	TelegramAPIURL    string
	WhatsAppBridgeURL string

	DefaultChannel     string
	DefaultCountryCode string

	SendMaxAttempts int
	SendRetryDelay  time.Duration
	SendWorkers     int

	OTLPEndpoint string
	ServiceName  string
}

func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	} else {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.SendTopic = getEnv("SEND_TOPIC", "notifications.send")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramAPIURL = getEnv("TELEGRAM_API_URL", "https://api.telegram.org")
	cfg.WhatsAppBridgeURL = getEnv("WHATSAPP_BRIDGE_URL", "http://localhost:3001")

	cfg.DefaultChannel = getEnv("DEFAULT_CHANNEL", "mock")
	cfg.DefaultCountryCode = getEnv("DEFAULT_COUNTRY_CODE", "+33")

	attempts, err := getEnvInt("SEND_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	cfg.SendMaxAttempts = attempts

	delay, err := getEnvDuration("SEND_RETRY_DELAY", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.SendRetryDelay = delay

	workers, err := getEnvInt("SEND_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	cfg.SendWorkers = workers

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}
