package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CANCEL_CUTOFF", "")
	t.Setenv("EARLY_JOIN_MINUTES", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, 30*time.Hour, cfg.CancelCutoff)
	assert.Equal(t, 48*time.Hour, cfg.SlotNotice)
	assert.Equal(t, 5, cfg.EarlyJoinMinutes)
	assert.Equal(t, 30, cfg.LateJoinMinutes)
	assert.Equal(t, 3, cfg.MaxExtensions)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE", " Postgres ")
	t.Setenv("CANCEL_CUTOFF", "24h")
	t.Setenv("LATE_JOIN_MINUTES", "10")
	t.Setenv("REQUIRE_PAYMENT", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Storage)
	assert.Equal(t, 24*time.Hour, cfg.CancelCutoff)
	assert.Equal(t, 10, cfg.LateJoinMinutes)
	assert.True(t, cfg.RequirePayment)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SLOT_NOTICE", "two days")
	t.Setenv("MAX_EXTENSIONS", "three")

	cfg := Load()

	assert.Equal(t, 48*time.Hour, cfg.SlotNotice)
	assert.Equal(t, 3, cfg.MaxExtensions)
}

func TestPolicyResolvesLocation(t *testing.T) {
	cfg := &Config{PracticeTimezone: "Asia/Kolkata", EarlyJoinMinutes: 5, LateJoinMinutes: 30}
	p := cfg.Policy()
	assert.Equal(t, "Asia/Kolkata", p.Location.String())
	assert.Equal(t, 5*time.Minute, p.EarlyJoin)
	assert.Equal(t, 30*time.Minute, p.LateJoin)

	cfg.PracticeTimezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, cfg.Policy().Location)
}
