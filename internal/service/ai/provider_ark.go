package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/echosketch/backend/internal/config"
)

// ArkProvider runs the enhancement through an eino chain over an Ark chat model.
type ArkProvider struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

var _ Provider = (*ArkProvider)(nil)

// NewArkProvider 使用配置创建 Ark 模型并编译提示词链。
func NewArkProvider(ctx context.Context, cfg config.AIConfig) (*ArkProvider, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainProvider(ctx, chatModel)
}

// NewChainProvider compiles the system+query template in front of any eino chat model.
func NewChainProvider(ctx context.Context, chatModel model.ChatModel) (*ArkProvider, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile enhance chain: %w", err)
	}

	return &ArkProvider{chain: runnable}, nil
}

func (p *ArkProvider) Name() string { return config.ProviderArk }

// Complete invokes the compiled chain once.
func (p *ArkProvider) Complete(ctx context.Context, system, query string) (string, error) {
	response, err := p.chain.Invoke(ctx, map[string]any{
		"system": system,
		"query":  query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run enhance chain: %w", err)
	}
	if response == nil {
		return "", ErrEmptyCompletion
	}
	return response.Content, nil
}
