package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int
	LogLevel           string

	// AI backend
	AIBackendURL     string
	AIBackendTimeout time.Duration

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP (optional fan-out of data-changed events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// AMQPQueueMode is "instance" (each server gets its own exclusive queue
	// and sees every message) or "shared" (one durable queue; each message
	// reaches a single server).
	AMQPQueueMode string

	// Sessions
	SessionTTL       time.Duration
	SessionCacheSize int

	// Google Sheets export (optional)
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

const DefaultAIBackendURL = "http://localhost:8000"

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		AIBackendURL:     strings.TrimRight(getEnv("AI_BACKEND_URL", DefaultAIBackendURL), "/"),
		AIBackendTimeout: getEnvDuration("AI_BACKEND_TIMEOUT", 30*time.Second),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finary.db"),

		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "finary"),
		AMQPQueue:     getEnv("AMQP_QUEUE", "data_changed"),
		AMQPQueueMode: getEnv("AMQP_QUEUE_MODE", "instance"),

		SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionCacheSize: getEnvInt("SESSION_CACHE_SIZE", 1000),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Finary"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate AI backend URL
	if parsedURL, err := url.Parse(c.AIBackendURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AI backend URL '%s': %v", c.AIBackendURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid AI backend URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.AIBackendTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid AI backend timeout %v: must be at least 1 second", c.AIBackendTimeout))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueueMode != "instance" && c.AMQPQueueMode != "shared" {
			errors = append(errors, fmt.Sprintf("invalid AMQP queue mode '%s': must be 'instance' or 'shared'", c.AMQPQueueMode))
		}
	}

	// Validate session scope
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.SessionCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid session cache size %d: must be at least 1", c.SessionCacheSize))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// AMQPEnabled reports whether events are fanned out through a broker.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// SheetsExportEnabled reports whether a spreadsheet is configured for export.
func (c *Config) SheetsExportEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
