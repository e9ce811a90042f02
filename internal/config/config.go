package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port    string
	Debug   bool
	BaseURL string

	// Schedule configuration
	SchedulerInterval   time.Duration
	CampaignConcurrency int
	TimeZone            string

	// Persistence
	DatabasePath  string
	CampaignsFile string

	// Azure Storage configuration (analysis archive)
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// X API
	XAPIBaseURL      string
	XBearerToken     string
	XUserAccessToken string
	XAPIRPS          float64
	XAPIBurst        int

	// AI providers
	XAIAPIKey       string
	XAIBaseURL      string
	GrokModel       string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Link tracking
	BitlyAccessToken string

	// Reply limits
	HourlyReplyLimit int
	MinReplyDelay    time.Duration

	// Analysis tuning
	MaxPostsPerUser     int
	PostsPerSeedUser    int
	PostsPerCandidate   int
	InteractionsPerPost int
	AIGateBatchSize     int
	MaxRateLimitWait    time.Duration

	// Pacing between upstream calls during analysis
	PostBatchSize  int
	PostBatchPause time.Duration
	SeedUserPause  time.Duration
	UserBatchSize  int
	UserBatchPause time.Duration

	EventHistorySize int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		Debug:   getBoolEnv("DEBUG", false),
		BaseURL: strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),

		SchedulerInterval:   getDurationEnv("SCHEDULER_INTERVAL", 5*time.Minute),
		CampaignConcurrency: getIntEnv("CAMPAIGN_CONCURRENCY", 4),
		TimeZone:            getEnv("TIMEZONE", "UTC"),

		DatabasePath:  getEnv("DATABASE_PATH", "campaigns.db"),
		CampaignsFile: getEnv("CAMPAIGNS_FILE", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "campaign-archive"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		XAPIBaseURL:      strings.TrimRight(getEnv("X_API_BASE_URL", "https://api.twitter.com/2"), "/"),
		XBearerToken:     getEnv("X_BEARER_TOKEN", ""),
		XUserAccessToken: getEnv("X_USER_ACCESS_TOKEN", ""),
		XAPIRPS:          getFloatEnv("X_API_RPS", 2.0),
		XAPIBurst:        getIntEnv("X_API_BURST", 10),

		XAIAPIKey:       getEnv("XAI_API_KEY", ""),
		XAIBaseURL:      getEnv("XAI_BASE_URL", "https://api.x.ai/v1"),
		GrokModel:       getEnv("GROK_MODEL", "grok-3"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		BitlyAccessToken: getEnv("BITLY_ACCESS_TOKEN", ""),

		HourlyReplyLimit: getIntEnv("HOURLY_REPLY_LIMIT", 30),
		MinReplyDelay:    getDurationEnv("MIN_REPLY_DELAY", 120*time.Second),

		MaxPostsPerUser:     getIntEnv("MAX_POSTS_PER_USER", 5),
		PostsPerSeedUser:    getIntEnv("POSTS_PER_SEED_USER", 20),
		PostsPerCandidate:   getIntEnv("POSTS_PER_CANDIDATE", 50),
		InteractionsPerPost: getIntEnv("INTERACTIONS_PER_POST", 50),
		AIGateBatchSize:     getIntEnv("AI_GATE_BATCH_SIZE", 20),
		MaxRateLimitWait:    getDurationEnv("MAX_RATE_LIMIT_WAIT", 15*time.Minute),

		PostBatchSize:  getIntEnv("PACING_POST_BATCH_SIZE", 5),
		PostBatchPause: getDurationEnv("PACING_POST_BATCH_PAUSE", 2*time.Second),
		SeedUserPause:  getDurationEnv("PACING_SEED_USER_PAUSE", 3*time.Second),
		UserBatchSize:  getIntEnv("PACING_USER_BATCH_SIZE", 10),
		UserBatchPause: getDurationEnv("PACING_USER_BATCH_PAUSE", 2*time.Second),

		EventHistorySize: getIntEnv("EVENT_HISTORY_SIZE", 100),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Location returns the time zone used for daily reply accounting
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) validate() error {
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}

	if c.CampaignConcurrency < 1 {
		return fmt.Errorf("CAMPAIGN_CONCURRENCY must be at least 1")
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.TimeZone, err)
	}

	if c.HourlyReplyLimit <= 0 {
		return fmt.Errorf("HOURLY_REPLY_LIMIT must be positive")
	}

	if c.MinReplyDelay < 0 {
		return fmt.Errorf("MIN_REPLY_DELAY must not be negative")
	}

	if c.AIGateBatchSize <= 0 || c.MaxPostsPerUser <= 0 {
		return fmt.Errorf("AI_GATE_BATCH_SIZE and MAX_POSTS_PER_USER must be positive")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
