// Package llm suggests song title and artist for a video through an LLM.
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bilimusic/internal/core"
)

// Provider names accepted in core.LLMConfig.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client LLMClient
}

type LLMClient interface {
	ExtractSongInfo(ctx context.Context, videoTitle, uploader string) (*core.Track, error)
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client LLMClient
	var err error

	switch strings.ToLower(config.Provider) {
	case ProviderOpenAI:
		client, err = NewOpenAIClient(config, logger)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(config, logger)
	case ProviderOllama:
		client, err = NewOllamaClient(config, logger)
	case ProviderNone, "":
		return &Provider{
			config: config,
			logger: logger,
			client: &NoOpClient{},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return &Provider{
		config: config,
		logger: logger,
		client: client,
	}, nil
}

// Enabled reports whether a real provider is configured.
func (p *Provider) Enabled() bool {
	_, noop := p.client.(*NoOpClient)
	return !noop
}

// SuggestTrack asks the model for the song behind videoTitle.
func (p *Provider) SuggestTrack(ctx context.Context, videoTitle, uploader string) (*core.Track, error) {
	if strings.TrimSpace(videoTitle) == "" {
		return nil, fmt.Errorf("empty video title")
	}

	track, err := p.client.ExtractSongInfo(ctx, videoTitle, uploader)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Song suggested",
		zap.String("provider", p.config.Provider),
		zap.String("video_title", videoTitle),
		zap.String("title", track.Title),
		zap.String("artist", track.Artist))

	return track, nil
}

type NoOpClient struct{}

func (n *NoOpClient) ExtractSongInfo(context.Context, string, string) (*core.Track, error) {
	return nil, ErrNotConfigured
}
