package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chatbot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	GenAIMode           string
	OpenAIBaseURL       string
	OpenAIAPIKey        string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int

	TavilyBaseURL string
	TavilyAPIKey  string

	// Per-collaborator call budgets. Every outbound call in the message
	// pipeline carries one of these; a timeout follows the same failure
	// policy as an outright error from that collaborator.
	StoreTimeout       time.Duration
	EmbedTimeout       time.Duration
	MemoryQueryTimeout time.Duration
	WebSearchTimeout   time.Duration
	GenerateTimeout    time.Duration
	FinalizeTimeout    time.Duration

	ShortTermLimit int
	MemoryTopK     int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "chatbot"),
		AllowAnyOrigin:      false,
		DatabaseURL:         envTrimmed("DATABASE_URL"),
		JWTSecret:           envTrimmed("JWT_SECRET"),
		GenAIMode:           envOrDefault("GENAI_MODE", "auto"),
		OpenAIBaseURL:       envTrimmed("OPENAI_BASE_URL"),
		OpenAIAPIKey:        envTrimmed("OPENAI_API_KEY"),
		ChatModel:           envOrDefault("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:      envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: 768,
		TavilyBaseURL:       envOrDefault("TAVILY_BASE_URL", "https://api.tavily.com"),
		TavilyAPIKey:        envTrimmed("TAVILY_API_KEY"),
		ShutdownTimeout:     15 * time.Second,
		TokenTTL:            7 * 24 * time.Hour,
		StoreTimeout:        5 * time.Second,
		EmbedTimeout:        10 * time.Second,
		MemoryQueryTimeout:  3 * time.Second,
		WebSearchTimeout:    8 * time.Second,
		GenerateTimeout:     45 * time.Second,
		FinalizeTimeout:     20 * time.Second,
		ShortTermLimit:      20,
		MemoryTopK:          5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreTimeout, err = durationFromEnv("STORE_TIMEOUT", cfg.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedTimeout, err = durationFromEnv("EMBED_TIMEOUT", cfg.EmbedTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryQueryTimeout, err = durationFromEnv("MEMORY_QUERY_TIMEOUT", cfg.MemoryQueryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WebSearchTimeout, err = durationFromEnv("WEB_SEARCH_TIMEOUT", cfg.WebSearchTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerateTimeout, err = durationFromEnv("GENERATE_TIMEOUT", cfg.GenerateTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FinalizeTimeout, err = durationFromEnv("FINALIZE_TIMEOUT", cfg.FinalizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDimensions, err = intFromEnv("EMBEDDING_DIMENSIONS", cfg.EmbeddingDimensions)
	if err != nil {
		return Config{}, err
	}
	cfg.ShortTermLimit, err = intFromEnv("SHORT_TERM_LIMIT", cfg.ShortTermLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.GenAIMode))
	switch mode {
	case "auto", "openai", "mock":
		cfg.GenAIMode = mode
	default:
		return Config{}, fmt.Errorf("GENAI_MODE must be auto, openai or mock, got %q", cfg.GenAIMode)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EmbeddingDimensions <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if cfg.ShortTermLimit <= 0 {
		return Config{}, fmt.Errorf("SHORT_TERM_LIMIT must be positive")
	}
	if cfg.MemoryTopK <= 0 {
		return Config{}, fmt.Errorf("MEMORY_TOP_K must be positive")
	}
	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("TOKEN_TTL must be at least 1m")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
