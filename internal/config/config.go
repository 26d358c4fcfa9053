package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string

	APIBaseURL   string
	APIKey       string
	ProbeTimeout time.Duration
	RetryDelay   time.Duration

	IntervalMinutes int
	AnchorHour      int
	AnchorMinute    int
	MaxConcurrency  int
	Timezone        string

	QuietHoursStart  int
	QuietHoursEnd    int
	NotifyOnRecovery bool
	CustomText       string

	SMTPEnabled  bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AdminEmail   string

	WebhookEnabled bool
	WebhookURL     string

	RetentionDays int
	ShutdownGrace time.Duration
	HTTPPort      string
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "modelwatch.db"),

		APIBaseURL:   getEnv("API_BASE_URL", ""),
		APIKey:       getEnv("API_KEY", ""),
		ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", 60*time.Second),
		RetryDelay:   getEnvDuration("RETRY_DELAY", 3*time.Minute),

		IntervalMinutes: getEnvInt("INTERVAL_MINUTES", 60),
		AnchorHour:      getEnvInt("ANCHOR_HOUR", 0),
		AnchorMinute:    getEnvInt("ANCHOR_MINUTE", 0),
		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 0),
		Timezone:        getEnv("TIMEZONE", "Asia/Shanghai"),

		QuietHoursStart:  getEnvInt("QUIET_HOURS_START", 23),
		QuietHoursEnd:    getEnvInt("QUIET_HOURS_END", 8),
		NotifyOnRecovery: getEnvBool("NOTIFY_ON_RECOVERY", true),
		CustomText:       getEnv("CUSTOM_NOTIFICATION_TEXT", ""),

		SMTPEnabled:  getEnvBool("SMTP_ENABLED", false),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		AdminEmail:   getEnv("ADMIN_EMAIL", ""),

		WebhookEnabled: getEnvBool("WEBHOOK_ENABLED", false),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		RetentionDays: getEnvInt("RETENTION_DAYS", 90),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
	}
}

// Validate rejects values the scheduler and dispatcher cannot work with.
func (c *Config) Validate() error {
	if c.IntervalMinutes < 1 {
		return fmt.Errorf("INTERVAL_MINUTES must be >= 1, got %d", c.IntervalMinutes)
	}
	if c.AnchorHour < 0 || c.AnchorHour > 23 {
		return fmt.Errorf("ANCHOR_HOUR must be in [0,23], got %d", c.AnchorHour)
	}
	if c.AnchorMinute < 0 || c.AnchorMinute > 59 {
		return fmt.Errorf("ANCHOR_MINUTE must be in [0,59], got %d", c.AnchorMinute)
	}
	if c.QuietHoursStart < 0 || c.QuietHoursStart > 23 || c.QuietHoursEnd < 0 || c.QuietHoursEnd > 23 {
		return fmt.Errorf("quiet hours must be in [0,23], got start=%d end=%d", c.QuietHoursStart, c.QuietHoursEnd)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a boolean.
func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
