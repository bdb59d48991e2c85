package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Video provider
	VideoSDKAPIKey     string
	VideoSDKSecret     string
	VideoSDKBaseURL    string
	VideoSDKTimeout    time.Duration
	VideoSDKTokenTTL   time.Duration
	VideoSDKMaxRetries int

	// Slot lattice
	SlotGranularity    time.Duration
	SlotWindows        string
	SlotTimezone       string
	SlotEnforceWindows bool
	SlotHoldTTL        time.Duration

	// Provisioning and lifecycle
	MeetingPersistAttempts int
	MeetingPersistBackoff  time.Duration
	CompensationTimeout    time.Duration
	ReconcileEnabled       bool
	ReconcileInterval      time.Duration
	ReconcileGrace         time.Duration
	LifecycleAllowReopen   bool
	DirectoryCacheTTL      time.Duration

	// Outbox delivery
	OutboxInterval      time.Duration
	OutboxBatch         int
	EventsQueueURL      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		VideoSDKAPIKey:     getEnv("VIDEOSDK_API_KEY", ""),
		VideoSDKSecret:     getEnv("VIDEOSDK_SECRET", ""),
		VideoSDKBaseURL:    getEnv("VIDEOSDK_BASE_URL", "https://api.videosdk.live"),
		VideoSDKTimeout:    getEnvAsDuration("VIDEOSDK_TIMEOUT", 10*time.Second),
		VideoSDKTokenTTL:   getEnvAsDuration("VIDEOSDK_TOKEN_TTL", 2*time.Hour),
		VideoSDKMaxRetries: getEnvAsInt("VIDEOSDK_MAX_RETRIES", 2),

		SlotGranularity:    getEnvAsDuration("SLOT_GRANULARITY", 10*time.Minute),
		SlotWindows:        getEnv("SLOT_WINDOWS", "09:00-10:30,17:00-18:30"),
		SlotTimezone:       getEnv("SLOT_TIMEZONE", "UTC"),
		SlotEnforceWindows: getEnvAsBool("SLOT_ENFORCE_WINDOWS", false),
		SlotHoldTTL:        getEnvAsDuration("SLOT_HOLD_TTL", 30*time.Second),

		MeetingPersistAttempts: getEnvAsInt("MEETING_PERSIST_ATTEMPTS", 3),
		MeetingPersistBackoff:  getEnvAsDuration("MEETING_PERSIST_BACKOFF", 200*time.Millisecond),
		CompensationTimeout:    getEnvAsDuration("COMPENSATION_TIMEOUT", 10*time.Second),
		ReconcileEnabled:       getEnvAsBool("RECONCILE_ENABLED", true),
		ReconcileInterval:      getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileGrace:         getEnvAsDuration("RECONCILE_GRACE", 15*time.Minute),
		LifecycleAllowReopen:   getEnvAsBool("LIFECYCLE_ALLOW_REOPEN", false),
		DirectoryCacheTTL:      getEnvAsDuration("DIRECTORY_CACHE_TTL", 5*time.Minute),

		OutboxInterval:      getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatch:         getEnvAsInt("OUTBOX_BATCH", 50),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telehealth Clinic"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// Validate reports settings the API cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Env == "production" && c.AuthJWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
	}
	if c.Env == "production" && (c.VideoSDKAPIKey == "" || c.VideoSDKSecret == "") {
		errs = append(errs, errors.New("VIDEOSDK_API_KEY and VIDEOSDK_SECRET are required in production"))
	}
	if c.SlotGranularity <= 0 || (24*time.Hour)%c.SlotGranularity != 0 {
		errs = append(errs, fmt.Errorf("SLOT_GRANULARITY %s must divide a day", c.SlotGranularity))
	}
	if _, err := time.LoadLocation(c.SlotTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SLOT_TIMEZONE: %w", err))
	}
	if c.MeetingPersistAttempts < 1 {
		errs = append(errs, errors.New("MEETING_PERSIST_ATTEMPTS must be at least 1"))
	}
	switch c.EmailProvider {
	case "stub", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q must be sendgrid, ses or stub", c.EmailProvider))
	}
	return errors.Join(errs...)
}

// VideoSDKConfigured reports whether real provider credentials are present.
func (c *Config) VideoSDKConfigured() bool {
	return c.VideoSDKAPIKey != "" && c.VideoSDKSecret != ""
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
