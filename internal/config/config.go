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
	Port string

	// Backend selection: "memory" or "sqlite"
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP (recompute request queue); empty URL disables the queue and
	// falls back to in-process recompute dispatch.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Engine timing
	RecomputeQuietWindow time.Duration // coalescing window between a write and the recompute request
	CapRefreshInterval   time.Duration // refresh delay for inactive categories' cap snapshot
	InfoMessageTTL       time.Duration // expiry for informational feedback messages
	WriteTimeout         time.Duration // per allocation write / publish

	// Worker
	SweepInterval time.Duration // periodic recompute sweep over stale months

	// Sheets mirror (optional)
	MirrorSpreadsheetID string
	MirrorSheetName     string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8082"),
		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/envelope.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "envelope"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "recompute_months"),

		RecomputeQuietWindow: getEnvDuration("RECOMPUTE_QUIET_WINDOW", time.Second),
		CapRefreshInterval:   getEnvDuration("CAP_REFRESH_INTERVAL", 400*time.Millisecond),
		InfoMessageTTL:       getEnvDuration("INFO_MESSAGE_TTL", 5*time.Second),
		WriteTimeout:         getEnvDuration("WRITE_TIMEOUT", 10*time.Second),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),

		MirrorSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		MirrorSheetName:     getEnv("MIRROR_SHEET_NAME", "Months"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "memory", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
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
	}

	if c.RecomputeQuietWindow < 50*time.Millisecond || c.RecomputeQuietWindow > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recompute quiet window %v: must be between 50ms and 1m", c.RecomputeQuietWindow))
	}
	if c.CapRefreshInterval < 10*time.Millisecond || c.CapRefreshInterval > 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid cap refresh interval %v: must be between 10ms and 10s", c.CapRefreshInterval))
	}
	if c.InfoMessageTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid info message TTL %v: must be at least 1 second", c.InfoMessageTTL))
	}
	if c.SweepInterval < time.Second || c.SweepInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be between 1s and 24h", c.SweepInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
