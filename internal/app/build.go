// Package app wires configuration, stores, providers, and the HTTP
// surface into a runnable service.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GobindChoudhary/AI-Chatbot/internal/auth"
	"github.com/GobindChoudhary/AI-Chatbot/internal/chat"
	"github.com/GobindChoudhary/AI-Chatbot/internal/config"
	"github.com/GobindChoudhary/AI-Chatbot/internal/genai"
	"github.com/GobindChoudhary/AI-Chatbot/internal/httpapi"
	"github.com/GobindChoudhary/AI-Chatbot/internal/memory"
	"github.com/GobindChoudhary/AI-Chatbot/internal/observability"
	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
	"github.com/GobindChoudhary/AI-Chatbot/internal/webctx"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *chat.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pool, caches) after in-flight pipelines drain.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	messages, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("message store init failed: %w", err)
	}

	memories := memory.NewChromemStore()

	generator, embedder, err := genai.New(genai.Config{
		Mode:                cfg.GenAIMode,
		BaseURL:             cfg.OpenAIBaseURL,
		APIKey:              cfg.OpenAIAPIKey,
		ChatModel:           cfg.ChatModel,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		_ = messages.Close()
		return nil, fmt.Errorf("genai provider init failed: %w", err)
	}

	var fetcher webctx.Fetcher
	var cachedFetcher *webctx.CachedFetcher
	if strings.TrimSpace(cfg.TavilyAPIKey) != "" {
		cachedFetcher, err = webctx.NewCachedFetcher(webctx.NewTavilyFetcher(cfg.TavilyBaseURL, cfg.TavilyAPIKey), 0)
		if err != nil {
			_ = messages.Close()
			return nil, fmt.Errorf("web fetcher init failed: %w", err)
		}
		fetcher = cachedFetcher
	} else {
		logger.Info("web context fetcher disabled, TAVILY_API_KEY not set")
	}

	orchestrator := chat.NewOrchestrator(
		messages,
		memories,
		embedder,
		generator,
		fetcher,
		webctx.NeedsLiveContext,
		metrics,
		logger,
		chat.Options{
			ShortTermLimit: cfg.ShortTermLimit,
			MemoryTopK:     cfg.MemoryTopK,
			Timeouts: chat.Timeouts{
				Store:       cfg.StoreTimeout,
				Embed:       cfg.EmbedTimeout,
				MemoryQuery: cfg.MemoryQueryTimeout,
				WebSearch:   cfg.WebSearchTimeout,
				Generate:    cfg.GenerateTimeout,
				Finalize:    cfg.FinalizeTimeout,
			},
		},
	)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authn := auth.NewAuthenticator(issuer, messages)

	api := httpapi.New(cfg, messages, memories, authn, orchestrator, metrics, logger)

	cleanup := func() error {
		orchestrator.Drain()
		var errs []string
		if cachedFetcher != nil {
			cachedFetcher.Close()
		}
		if err := memories.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := messages.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
