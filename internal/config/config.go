package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Scanner     ScannerConfig
	Dispatcher  DispatcherConfig
	Anomaly     AnomalyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection, ingress queue and fan-out settings
type RabbitMQConfig struct {
	URL                     string
	EventsExchange          string
	EventsQueue             string
	EventsRoutingKey        string
	DLQQueue                string
	PrefetchCount           int
	NotificationsExchange   string
	NotificationsRoutingKey string
}

// ScannerConfig holds due date scanner settings
type ScannerConfig struct {
	Interval        time.Duration
	ReminderOffsets []int
	Location        *time.Location
	TickTimeout     time.Duration
}

// DispatcherConfig holds notification dispatcher settings
type DispatcherConfig struct {
	Timeout time.Duration
}

// AnomalyConfig holds consumption anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	HistorySize               int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	offsets, err := getEnvAsInts("SCANNER_REMINDER_OFFSETS", []int{7, 3, 0})
	if err != nil {
		return nil, err
	}

	// The zone name is sent to Postgres for due-date lookups, so it must be an IANA name
	tz := getEnv("SCANNER_TIMEZONE", "UTC")
	if tz == "Local" {
		return nil, fmt.Errorf("SCANNER_TIMEZONE must name a zone, not %q", tz)
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("SCANNER_TIMEZONE %q is not a valid time zone: %w", tz, err)
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "utility-billing-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                     getEnv("RABBITMQ_URL", ""),
			EventsExchange:          getEnv("RABBITMQ_EVENTS_EXCHANGE", "utility-billing.events.exchange"),
			EventsQueue:             getEnv("RABBITMQ_EVENTS_QUEUE", "utility-billing.notification-events.queue"),
			EventsRoutingKey:        getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "billing.event.#"),
			DLQQueue:                getEnv("RABBITMQ_DLQ_QUEUE", "utility-billing.notification-events.dlq"),
			PrefetchCount:           getEnvAsInt("RABBITMQ_PREFETCH", 10),
			NotificationsExchange:   getEnv("RABBITMQ_NOTIFICATIONS_EXCHANGE", "utility-billing.notifications.exchange"),
			NotificationsRoutingKey: getEnv("RABBITMQ_NOTIFICATIONS_ROUTING_KEY", "notification.stored"),
		},
		Scanner: ScannerConfig{
			Interval:        getEnvAsDuration("SCANNER_INTERVAL", time.Hour),
			ReminderOffsets: offsets,
			Location:        location,
			TickTimeout:     getEnvAsDuration("SCANNER_TICK_TIMEOUT", 5*time.Minute),
		},
		Dispatcher: DispatcherConfig{
			Timeout: getEnvAsDuration("DISPATCHER_TIMEOUT", 10*time.Second),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			HistorySize:               getEnvAsInt("ANOMALY_HISTORY_SIZE", 6),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Scanner.Interval <= 0 {
		return nil, fmt.Errorf("SCANNER_INTERVAL must be positive, got %s", cfg.Scanner.Interval)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInts parses a comma-separated list of non-negative integers
func getEnvAsInts(key string, defaultValue []int) ([]int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	var values []int
	for _, part := range strings.Split(valueStr, ",") {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < 0 {
			return nil, fmt.Errorf("%s must be a comma-separated list of non-negative integers, got %q", key, valueStr)
		}
		values = append(values, value)
	}
	return values, nil
}
