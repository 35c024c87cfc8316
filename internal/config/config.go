// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	RedisURL        string // optional; enables the cross-instance session directory
	GRPCHealthPort  string // optional; enables the gRPC health service
	Gemini          GeminiConfig
	Upstream        UpstreamConfig
	Capability      CapabilityConfig
	Session         SessionConfig
	Retention       RetentionConfig
	ConversationLog ConversationLogConfig
}

// GeminiConfig selects the generation backend.
type GeminiConfig struct {
	APIKey    string
	UseVertex bool
	Project   string
	Location  string
	LiveModel string // bidirectional streaming model
	TextModel string // single-shot model for search, crop advice and image analysis
}

// UpstreamConfig holds external collaborator endpoints.
type UpstreamConfig struct {
	ProfileURL       string
	MarketURL        string
	MarketAPIKey     string
	SchemesURL       string
	CrisisSchemesURL string
	YouTubeURL       string
	YouTubeAPIKey    string
}

// CapabilityConfig bounds capability invocations.
type CapabilityConfig struct {
	Timeout     time.Duration
	Retries     int
	CacheTTL    time.Duration
	CacheSize   int
	MaxRecords  int
	MaxTutorial int
}

// SessionConfig tunes per-connection sessions.
type SessionConfig struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	QueueSize         int
	GracePeriod       time.Duration
	SetupTimeout      time.Duration
	ProfileTimeout    time.Duration
}

// RetentionConfig controls pruning of stored conversations.
type RetentionConfig struct {
	TurnRetention time.Duration
	Schedule      string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8082"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/advisor.db"),
		RedisURL:       getEnv("REDIS_URL", ""),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		Gemini: GeminiConfig{
			APIKey:    getEnv("GOOGLE_API_KEY", ""),
			UseVertex: getEnvBool("GOOGLE_GENAI_USE_VERTEXAI", false),
			Project:   getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Location:  getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
			LiveModel: getEnv("GEMINI_LIVE_MODEL", "gemini-2.0-flash-live-001"),
			TextModel: getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		},
		Upstream: UpstreamConfig{
			ProfileURL:       getEnv("PROFILE_URL", ""),
			MarketURL:        getEnv("MARKET_URL", "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"),
			MarketAPIKey:     getEnv("MARKET_API_KEY", ""),
			SchemesURL:       getEnv("SCHEMES_URL", ""),
			CrisisSchemesURL: getEnv("CRISIS_SCHEMES_URL", ""),
			YouTubeURL:       getEnv("YOUTUBE_SEARCH_URL", "https://www.googleapis.com/youtube/v3/search"),
			YouTubeAPIKey:    getEnv("YOUTUBE_API_KEY", ""),
		},
		Capability: CapabilityConfig{
			Timeout:     getEnvDuration("CAPABILITY_TIMEOUT", 10*time.Second),
			Retries:     getEnvInt("CAPABILITY_RETRIES", 1),
			CacheTTL:    getEnvDuration("CAPABILITY_CACHE_TTL", 5*time.Minute),
			CacheSize:   getEnvInt("CAPABILITY_CACHE_SIZE", 32),
			MaxRecords:  getEnvInt("CAPABILITY_MAX_RECORDS", 20),
			MaxTutorial: getEnvInt("CAPABILITY_MAX_TUTORIALS", 5),
		},
		Session: SessionConfig{
			HeartbeatInterval: getEnvDuration("SESSION_HEARTBEAT_INTERVAL", 30*time.Second),
			IdleTimeout:       getEnvDuration("SESSION_IDLE_TIMEOUT", 15*time.Minute),
			QueueSize:         getEnvInt("SESSION_QUEUE_SIZE", 64),
			GracePeriod:       getEnvDuration("SESSION_GRACE_PERIOD", 5*time.Second),
			SetupTimeout:      getEnvDuration("SESSION_SETUP_TIMEOUT", 15*time.Second),
			ProfileTimeout:    getEnvDuration("SESSION_PROFILE_TIMEOUT", 3*time.Second),
		},
		Retention: RetentionConfig{
			TurnRetention: getEnvDuration("TURN_RETENTION", 30*24*time.Hour),
			Schedule:      getEnv("RETENTION_SCHEDULE", "@every 1h"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Gemini.UseVertex && c.Gemini.Project == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when GOOGLE_GENAI_USE_VERTEXAI is set")
	}
	if c.Gemini.LiveModel == "" || c.Gemini.TextModel == "" {
		return fmt.Errorf("GEMINI_LIVE_MODEL and GEMINI_TEXT_MODEL cannot be empty")
	}
	if c.Capability.Timeout <= 0 {
		return fmt.Errorf("CAPABILITY_TIMEOUT must be > 0")
	}
	if c.Capability.Retries < 0 {
		return fmt.Errorf("CAPABILITY_RETRIES must be >= 0")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("SESSION_HEARTBEAT_INTERVAL must be > 0")
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("SESSION_QUEUE_SIZE must be > 0")
	}
	if c.Session.GracePeriod < 0 {
		return fmt.Errorf("SESSION_GRACE_PERIOD must be >= 0")
	}
	if c.Session.ProfileTimeout <= 0 {
		return fmt.Errorf("SESSION_PROFILE_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// GeminiConfigured reports whether enough credentials exist to reach the backend.
func (c *Config) GeminiConfigured() bool {
	if c.Gemini.UseVertex {
		return c.Gemini.Project != ""
	}
	return c.Gemini.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
