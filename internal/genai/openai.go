package genai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/GobindChoudhary/AI-Chatbot/internal/reliability"
)

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
	maxAttempts    = 2
)

// OpenAIClient talks to any OpenAI-compatible chat and embeddings endpoint.
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	embedModel string
	dimensions int
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, segments []Segment) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(make([]openai.ChatCompletionMessageParamUnion, 0, len(segments))),
		Model:    openai.F(c.chatModel),
	}
	for _, seg := range segments {
		var content any = seg.Text
		params.Messages.Value = append(params.Messages.Value, openai.ChatCompletionMessageParam{
			Role:    openai.F(roleParam(seg.Role)),
			Content: openai.F(content),
		})
	}

	var completion *openai.ChatCompletion
	err := c.withRetry(ctx, func() error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](
			openai.EmbeddingNewParamsInputArrayOfStrings([]string{text}),
		),
		Model: openai.F(c.embedModel),
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.F(int64(c.dimensions))
	}

	var resp *openai.CreateEmbeddingResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.client.Embeddings.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response had no data")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// withRetry runs fn once and retries a single time on a retryable HTTP status.
func (c *OpenAIClient) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		var apiErr *openai.Error
		if !errors.As(err, &apiErr) || !reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return err
		}
	}
	return err
}

func roleParam(r Role) openai.ChatCompletionMessageParamRole {
	switch r {
	case RoleSystem:
		return openai.ChatCompletionMessageParamRoleSystem
	case RoleAssistant:
		return openai.ChatCompletionMessageParamRoleAssistant
	default:
		return openai.ChatCompletionMessageParamRoleUser
	}
}
