package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 60*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 3*time.Minute, cfg.RetryDelay)
	assert.Equal(t, 60, cfg.IntervalMinutes)
	assert.Equal(t, 0, cfg.AnchorHour)
	assert.Equal(t, "Asia/Shanghai", cfg.Timezone)
	assert.Equal(t, 23, cfg.QuietHoursStart)
	assert.Equal(t, 8, cfg.QuietHoursEnd)
	assert.True(t, cfg.NotifyOnRecovery)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("API_BASE_URL", "https://api.example.com/v1")
	t.Setenv("PROBE_TIMEOUT", "30s")
	t.Setenv("INTERVAL_MINUTES", "15")
	t.Setenv("ANCHOR_HOUR", "2")
	t.Setenv("NOTIFY_ON_RECOVERY", "false")
	t.Setenv("TIMEZONE", "UTC")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "https://api.example.com/v1", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 15, cfg.IntervalMinutes)
	assert.Equal(t, 2, cfg.AnchorHour)
	assert.False(t, cfg.NotifyOnRecovery)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("INTERVAL_MINUTES", "often")
	t.Setenv("PROBE_TIMEOUT", "soon")
	t.Setenv("NOTIFY_ON_RECOVERY", "maybe")

	cfg := Load()
	assert.Equal(t, 60, cfg.IntervalMinutes)
	assert.Equal(t, 60*time.Second, cfg.ProbeTimeout)
	assert.True(t, cfg.NotifyOnRecovery)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			IntervalMinutes: 60,
			AnchorHour:      0,
			AnchorMinute:    0,
			QuietHoursStart: 23,
			QuietHoursEnd:   8,
			Timezone:        "Asia/Shanghai",
		}
	}

	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.IntervalMinutes = 0 }},
		{"anchor hour high", func(c *Config) { c.AnchorHour = 24 }},
		{"anchor minute high", func(c *Config) { c.AnchorMinute = 60 }},
		{"quiet start negative", func(c *Config) { c.QuietHoursStart = -1 }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Asia/Shanghai"}
	loc := cfg.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}
