package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisMaxRetries   int

	AvgServiceMinutes int
	UpcomingCount     int
	CompletionGrace   time.Duration
	AlmostThreshold   int

	RateLimitPerMinute        int
	RateLimitBurst            int
	PatientRateLimitPerMinute int
	PatientRateLimitBurst     int

	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	return Config{
		Port:         port,
		StoreBackend: backend,
		DatabaseURL:  os.Getenv("DB_DSN"),
		RedisURL:     os.Getenv("REDIS_URL"),

		RedisPoolSize:     readInt("REDIS_POOL_SIZE", 10),
		RedisMinIdleConns: readInt("REDIS_MIN_IDLE_CONNS", 5),
		RedisDialTimeout:  readDurationSeconds("REDIS_DIAL_TIMEOUT_SECONDS", 30),
		RedisReadTimeout:  readDurationSeconds("REDIS_READ_TIMEOUT_SECONDS", 10),
		RedisMaxRetries:   readInt("REDIS_MAX_RETRIES", 3),

		AvgServiceMinutes: readInt("AVG_SERVICE_MINUTES", 5),
		UpcomingCount:     readInt("UPCOMING_COUNT", 4),
		CompletionGrace:   readDurationSeconds("COMPLETION_GRACE_SECONDS", 3),
		AlmostThreshold:   readInt("ALMOST_TURN_THRESHOLD", 3),

		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		PatientRateLimitPerMinute: readInt("PATIENT_RATE_LIMIT_PER_MIN", 60),
		PatientRateLimitBurst:     readInt("PATIENT_RATE_LIMIT_BURST", 10),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
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
