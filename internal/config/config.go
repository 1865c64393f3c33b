package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the visibility server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Webhook   WebhookConfig
	Registry  RegistryConfig
	LLM       LLMConfig
	Finalizer FinalizerConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type WebhookConfig struct {
	// Secret authenticates workers via static bearer token or as the HMAC key
	// for signed requests.
	Secret string
	// MaxSkew bounds how old a signed request's timestamp may be.
	MaxSkew time.Duration
	// MaxBodyBytes caps webhook bodies before parsing.
	MaxBodyBytes int64
	// MinContentLength is the floor below which extracted content is treated
	// as a failure (login pages, error screens).
	MinContentLength int
}

type RegistryConfig struct {
	TTL time.Duration
}

type LLMConfig struct {
	Provider string
	// SignalTimeout bounds one signal-extraction call; AnswerTimeout bounds
	// one direct-answer call (heavier, longer outputs).
	SignalTimeout time.Duration
	AnswerTimeout time.Duration
	MaxAttempts   int
	// Circuit breaker: failures in-window before opening, window width, and
	// how long an open breaker rejects calls.
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type FinalizerConfig struct {
	DebounceWindow time.Duration
}

type SchedulerConfig struct {
	TickInterval      time.Duration
	MaxPerTick        int
	StaleBatchTimeout time.Duration
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VISIBILITY_PORT", 8080),
			Env:  envString("VISIBILITY_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Webhook: WebhookConfig{
			Secret:           os.Getenv("RPA_WEBHOOK_SECRET"),
			MaxSkew:          envDuration("WEBHOOK_MAX_SKEW", 300*time.Second),
			MaxBodyBytes:     int64(envInt("WEBHOOK_MAX_BODY_BYTES", 2<<20)),
			MinContentLength: envInt("WEBHOOK_MIN_CONTENT_LENGTH", 100),
		},
		Registry: RegistryConfig{
			TTL: envDuration("WORKER_TTL", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider:         os.Getenv("LLM_PROVIDER"),
			SignalTimeout:    envDuration("LLM_SIGNAL_TIMEOUT", 45*time.Second),
			AnswerTimeout:    envDuration("LLM_ANSWER_TIMEOUT", 90*time.Second),
			MaxAttempts:      envInt("LLM_MAX_ATTEMPTS", 3),
			BreakerThreshold: envInt("LLM_BREAKER_THRESHOLD", 5),
			BreakerWindow:    envDuration("LLM_BREAKER_WINDOW", time.Minute),
			BreakerCooldown:  envDuration("LLM_BREAKER_COOLDOWN", 30*time.Second),
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Finalizer: FinalizerConfig{
			DebounceWindow: envDuration("FINALIZE_DEBOUNCE", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			TickInterval:      envDuration("SCHEDULER_TICK_INTERVAL", time.Hour),
			MaxPerTick:        envInt("SCHEDULER_MAX_PER_TICK", 25),
			StaleBatchTimeout: envDuration("STALE_BATCH_TIMEOUT", 2*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("RPA_WEBHOOK_SECRET is required")
	}

	if c.LLM.Provider == "" {
		return fmt.Errorf("LLM_PROVIDER is required")
	}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of openai, anthropic, mock; got %q", c.LLM.Provider)
	}

	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER is openai")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER is anthropic")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
