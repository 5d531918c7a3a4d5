package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/config"
	"github.com/ibeckermayer/mentionbot/internal/generator"
	"github.com/ibeckermayer/mentionbot/internal/generator/providers"
	"github.com/ibeckermayer/mentionbot/internal/types"
)

// NewGenerator builds the generation chain. Backends run by role, vision
// first, whatever their order in the file; those without an API key are
// left out.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*generator.Generator, error) {
	backends := make([]generator.Backend, 0, len(cfg.Generation.Backends))
	for _, bc := range cfg.Generation.Backends {
		if bc.APIKey == "" {
			logger.Warn("skipping generation backend without API key", zap.String("backend", bc.Name))
			continue
		}
		completer, err := newCompleter(ctx, bc, cfg.Generation.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %s: %w", bc.Name, err)
		}
		kind, capability := roleKind(bc.Role)
		backends = append(backends, generator.Backend{
			Name:       bc.Name,
			Kind:       kind,
			Capability: capability,
			Completer:  completer,
		})
	}

	opts := generator.Options{
		SystemPrompt:   cfg.Generation.SystemPrompt,
		FallbackReply:  cfg.Generation.FallbackReply,
		MaxReplyLength: cfg.Generation.MaxReplyLength,
		CallTimeout:    cfg.CallTimeout(),
		Window:         generator.NewWindow(cfg.Generation.HistoryTurns, cfg.Generation.HistoryThreads),
		Logger:         logger,
	}
	if cfg.Generation.SaveExchanges {
		dir, err := config.DataDir()
		if err != nil {
			return nil, err
		}
		transcript, err := generator.NewDirTranscript(filepath.Join(dir, "llm"))
		if err != nil {
			return nil, err
		}
		opts.Transcript = transcript
	}

	gen := generator.New(backends, opts)
	names := make([]string, 0, len(backends))
	for _, b := range gen.Backends() {
		names = append(names, b.Name+"/"+string(b.Kind))
	}
	logger.Info("generation chain", zap.Strings("backends", names))
	return gen, nil
}

func newCompleter(ctx context.Context, bc config.BackendConfig, maxTokens int) (providers.Completer, error) {
	switch bc.Provider {
	case config.ProviderAnthropic:
		return providers.NewAnthropicProvider(bc.APIKey, bc.Model, maxTokens), nil
	case config.ProviderGemini:
		return providers.NewGeminiProvider(ctx, bc.APIKey, bc.Model, maxTokens)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", bc.Provider)
	}
}

func roleKind(role string) (types.BackendKind, generator.Capability) {
	switch role {
	case config.RoleVision:
		return types.BackendVision, generator.CapabilityVision
	case config.RoleSecondaryText:
		return types.BackendSecondaryText, generator.CapabilityText
	default:
		return types.BackendPrimaryText, generator.CapabilityText
	}
}
