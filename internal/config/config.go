package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	ServiceID   string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// NATS (inbound detections and outbound notifications)
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration

	// Ingestion
	// Bounded intake queue; producers block when it is full rather than
	// dropping detections.
	IngestBufferSize int
	IngestSubject    string
	IngestQueueGroup string

	// Escalation scheduler
	SweepInterval      time.Duration
	MaxEscalationLevel int
	StormThreshold     int
	StormWindow        time.Duration
	RetentionAge       time.Duration

	// Notification dispatch
	NotifySubject       string
	WebhookURL          string
	DefaultTeam         string
	DispatchMaxAttempts int
	DispatchBackoffBase time.Duration
	DispatchBackoffMax  time.Duration

	// Simulated detection feed
	SimulatorEnabled  bool
	SimulatorInterval time.Duration

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceID:   getEnv("SERVICE_ID", "watchtower-1"),
		Port:        getEnvInt("PORT", 8600),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// NATS
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),

		// Ingestion
		IngestBufferSize: getEnvInt("INGEST_BUFFER_SIZE", 256),
		IngestSubject:    getEnv("INGEST_SUBJECT", "detections.ingest"),
		IngestQueueGroup: getEnv("INGEST_QUEUE_GROUP", "watchtower-ingest"),

		// Escalation scheduler
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		MaxEscalationLevel: getEnvInt("MAX_ESCALATION_LEVEL", 2),
		StormThreshold:     getEnvInt("STORM_THRESHOLD", 10),
		StormWindow:        getEnvDuration("STORM_WINDOW", 5*time.Minute),
		RetentionAge:       getEnvDuration("RETENTION_AGE", 72*time.Hour),

		// Notification dispatch
		NotifySubject:       getEnv("NOTIFY_SUBJECT", "alerts.notify"),
		WebhookURL:          getEnv("WEBHOOK_URL", ""),
		DefaultTeam:         getEnv("DEFAULT_TEAM", "operations"),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchBackoffBase: getEnvDuration("DISPATCH_BACKOFF_BASE", 500*time.Millisecond),
		DispatchBackoffMax:  getEnvDuration("DISPATCH_BACKOFF_MAX", 30*time.Second),

		// Simulated detection feed
		SimulatorEnabled:  getEnvBool("SIMULATOR_ENABLED", false),
		SimulatorInterval: getEnvDuration("SIMULATOR_INTERVAL", 5*time.Second),

		// Swagger Configuration
		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 8600),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
