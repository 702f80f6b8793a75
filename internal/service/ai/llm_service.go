package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/zhouzirui/echosketch/backend/internal/config"
)

// ErrEmptyCompletion is returned by providers when the model produced no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Provider 是底层大模型的最小抽象：给定系统指令与用户输入，返回一段文本。
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, query string) (string, error)
}

// Service enhances raw transcripts into image-generation prompts.
type Service struct {
	provider        Provider
	fallbackOnError bool
}

// NewService 根据配置选择提供方；未配置任何凭证时进入占位模式。
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	if !cfg.Enabled() {
		log.Printf("[ai] 未配置提示词增强模型，使用占位模式")
		return NewServiceWithProvider(nil, cfg.FallbackOnError), nil
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case config.ProviderArk:
		provider, err = NewArkProvider(ctx, cfg)
	case config.ProviderGemini:
		provider, err = NewGeminiProvider(ctx, cfg)
	default:
		err = fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}

	log.Printf("[ai] 提示词增强使用 %s", provider.Name())
	return NewServiceWithProvider(provider, cfg.FallbackOnError), nil
}

// NewServiceWithProvider wires an explicit provider. A nil provider means
// placeholder mode.
func NewServiceWithProvider(provider Provider, fallbackOnError bool) *Service {
	return &Service{provider: provider, fallbackOnError: fallbackOnError}
}

// Enabled reports whether a real model backs the service.
func (s *Service) Enabled() bool {
	return s != nil && s.provider != nil
}

// Enhance 将原始转写扩写为图像生成提示词。
func (s *Service) Enhance(ctx context.Context, transcript string) (string, error) {
	if !s.Enabled() {
		return PlaceholderPrompt(transcript), nil
	}

	enhanced, err := s.provider.Complete(ctx, SystemInstruction, BuildQuery(transcript))
	if err == nil {
		enhanced = strings.TrimSpace(enhanced)
		if enhanced == "" {
			err = ErrEmptyCompletion
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if !s.fallbackOnError {
			return "", fmt.Errorf("failed to enhance prompt: %w", err)
		}
		log.Printf("[ai] 提示词增强失败，使用兜底提示词: %v", err)
		return FallbackPrompt(transcript), nil
	}

	log.Printf("[ai] enhanced prompt via %s, length=%d", s.provider.Name(), len(enhanced))
	return enhanced, nil
}

// Close releases provider resources such as the Gemini client.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if closer, ok := s.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
