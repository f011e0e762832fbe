package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	LogFormat          string
	Storage            string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling policy
	PracticeTimezone  string
	SlotNotice        time.Duration
	BookingNotice     time.Duration
	CancelCutoff      time.Duration
	NoShowGrace       time.Duration
	EarlyJoinMinutes  int
	LateJoinMinutes   int
	ExtensionMinutes  int
	MaxExtensions     int
	SlotStep          time.Duration
	RecurrenceHorizon time.Duration
	RequirePayment    bool
	MeetingBaseURL    string

	// Background jobs
	SweepSchedule    string
	ReminderSchedule string
	JobLockTTL       time.Duration

	// Email delivery
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Policy is the subset of configuration the scheduling core consumes.
type Policy struct {
	Location          *time.Location
	SlotNotice        time.Duration
	BookingNotice     time.Duration
	CancelCutoff      time.Duration
	NoShowGrace       time.Duration
	EarlyJoin         time.Duration
	LateJoin          time.Duration
	ExtensionMinutes  int
	MaxExtensions     int
	SlotStep          time.Duration
	RecurrenceHorizon time.Duration
	RequirePayment    bool
}

// Load reads configuration from environment variables, after merging an
// optional .env file in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		Storage:            strings.ToLower(strings.TrimSpace(getEnv("STORAGE", "memory"))),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		PracticeTimezone:  getEnv("PRACTICE_TIMEZONE", "Asia/Kolkata"),
		SlotNotice:        getEnvAsDuration("SLOT_NOTICE", 48*time.Hour),
		BookingNotice:     getEnvAsDuration("BOOKING_NOTICE", 48*time.Hour),
		CancelCutoff:      getEnvAsDuration("CANCEL_CUTOFF", 30*time.Hour),
		NoShowGrace:       getEnvAsDuration("NO_SHOW_GRACE", 15*time.Minute),
		EarlyJoinMinutes:  getEnvAsInt("EARLY_JOIN_MINUTES", 5),
		LateJoinMinutes:   getEnvAsInt("LATE_JOIN_MINUTES", 30),
		ExtensionMinutes:  getEnvAsInt("EXTENSION_MINUTES", 10),
		MaxExtensions:     getEnvAsInt("MAX_EXTENSIONS", 3),
		SlotStep:          getEnvAsDuration("SLOT_STEP", 30*time.Minute),
		RecurrenceHorizon: getEnvAsDuration("RECURRENCE_HORIZON", 365*24*time.Hour),
		RequirePayment:    getEnvAsBool("REQUIRE_PAYMENT", false),
		MeetingBaseURL:    getEnv("MEETING_BASE_URL", "https://meet.example.com/room"),

		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 1m"),
		ReminderSchedule: getEnv("REMINDER_SCHEDULE", "@every 5m"),
		JobLockTTL:       getEnvAsDuration("JOB_LOCK_TTL", 50*time.Second),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Therapy Sessions"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Policy resolves the scheduling policy. An unknown timezone falls back to UTC.
func (c *Config) Policy() Policy {
	loc, err := time.LoadLocation(c.PracticeTimezone)
	if err != nil {
		loc = time.UTC
	}
	return Policy{
		Location:          loc,
		SlotNotice:        c.SlotNotice,
		BookingNotice:     c.BookingNotice,
		CancelCutoff:      c.CancelCutoff,
		NoShowGrace:       c.NoShowGrace,
		EarlyJoin:         time.Duration(c.EarlyJoinMinutes) * time.Minute,
		LateJoin:          time.Duration(c.LateJoinMinutes) * time.Minute,
		ExtensionMinutes:  c.ExtensionMinutes,
		MaxExtensions:     c.MaxExtensions,
		SlotStep:          c.SlotStep,
		RecurrenceHorizon: c.RecurrenceHorizon,
		RequirePayment:    c.RequirePayment,
	}
}

// DefaultPolicy returns the production scheduling rules in UTC.
func DefaultPolicy() Policy {
	return Policy{
		Location:          time.UTC,
		SlotNotice:        48 * time.Hour,
		BookingNotice:     48 * time.Hour,
		CancelCutoff:      30 * time.Hour,
		NoShowGrace:       15 * time.Minute,
		EarlyJoin:         5 * time.Minute,
		LateJoin:          30 * time.Minute,
		ExtensionMinutes:  10,
		MaxExtensions:     3,
		SlotStep:          30 * time.Minute,
		RecurrenceHorizon: 365 * 24 * time.Hour,
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
