package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                      string
	DatabaseURL               string
	NotificationTTL           time.Duration
	NotificationRetention     time.Duration
	SweepInterval             time.Duration
	RateLimitPerMinute        int
	RateLimitBurst            int
	SessionRateLimitPerMinute int
	SessionRateLimitBurst     int
	OTLPEndpoint              string
	OTLPInsecure              bool
	TraceSampleRatio          float64
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                      port,
		DatabaseURL:               os.Getenv("DB_DSN"),
		NotificationTTL:           readDurationSeconds("NOTIFICATION_TTL_SECONDS", 86400),
		NotificationRetention:     readDurationSeconds("NOTIFICATION_RETENTION_SECONDS", 86400),
		SweepInterval:             readDurationSeconds("NOTIFICATION_SWEEP_INTERVAL_SECONDS", 3600),
		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		SessionRateLimitPerMinute: readInt("SESSION_RATE_LIMIT_PER_MIN", 600),
		SessionRateLimitBurst:     readInt("SESSION_RATE_LIMIT_BURST", 120),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:              readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:          readFloat("TRACE_SAMPLE_RATIO", 1.0),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
