package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string

	StoreBackend   string
	DBDSN          string
	MongoURI       string
	MongoDatabase  string
	MigrateOnStart bool
	StoreTimeout   time.Duration

	JWTSecret string

	RedisAddr         string
	RedisPassword     string
	BookingRateLimit  int
	BookingRateWindow time.Duration

	CompletionSchedule  string
	OrphanSlotGrace     time.Duration
	CompensationTimeout time.Duration

	TelegramToken  string
	TelegramChatID string
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	return FromEnv()
}

// FromEnv читает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	storeTimeout, err := getEnvAsDuration("STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvAsInt("BOOKING_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	rateWindow, err := getEnvAsDuration("BOOKING_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	migrate, err := getEnvAsBool("MIGRATE_ON_START", true)
	if err != nil {
		return nil, err
	}
	orphanGrace, err := getEnvAsDuration("ORPHAN_SLOT_GRACE", time.Minute)
	if err != nil {
		return nil, err
	}
	compensationTimeout, err := getEnvAsDuration("COMPENSATION_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:         getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DBDSN:               os.Getenv("DB_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDatabase:       getEnv("MONGO_DATABASE", "interview_booking"),
		MigrateOnStart:      migrate,
		StoreTimeout:        storeTimeout,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		BookingRateLimit:    rateLimit,
		BookingRateWindow:   rateWindow,
		CompletionSchedule:  getEnv("COMPLETION_SCHEDULE", "@every 5m"),
		OrphanSlotGrace:     orphanGrace,
		CompensationTimeout: compensationTimeout,
		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:      os.Getenv("TELEGRAM_CHAT_ID"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for %s backend", BackendPostgres)
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for %s backend", BackendMongo)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.BookingRateLimit <= 0 || c.BookingRateWindow <= 0 {
		return fmt.Errorf("BOOKING_RATE_LIMIT and BOOKING_RATE_WINDOW must be positive")
	}
	if c.CompensationTimeout <= 0 {
		return fmt.Errorf("COMPENSATION_TIMEOUT must be positive")
	}
	if c.OrphanSlotGrace < 0 {
		return fmt.Errorf("ORPHAN_SLOT_GRACE must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// TelegramEnabled включает ленту событий в канал
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvAsDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
