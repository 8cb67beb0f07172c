package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role identifies who a prompt segment speaks for.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Segment is one ordered piece of the prompt sent to the model.
type Segment struct {
	Role Role
	Text string
}

// Generator produces an assistant reply from an ordered prompt.
type Generator interface {
	Generate(ctx context.Context, segments []Segment) (string, error)
}

// Embedder maps text to a vector suitable for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls provider construction.
type Config struct {
	Mode                string
	BaseURL             string
	APIKey              string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// New builds a Generator and Embedder pair for the configured mode.
func New(cfg Config) (Generator, Embedder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			c := NewOpenAIClient(cfg)
			return c, c, nil
		}
		return NewMockGenerator(), NewMockEmbedder(cfg.EmbeddingDimensions), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, nil, errors.New("genai: API key is required for openai mode")
		}
		c := NewOpenAIClient(cfg)
		return c, c, nil
	case "mock":
		return NewMockGenerator(), NewMockEmbedder(cfg.EmbeddingDimensions), nil
	default:
		return nil, nil, fmt.Errorf("genai: unsupported mode %q", cfg.Mode)
	}
}
