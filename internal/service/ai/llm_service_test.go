package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	output string
	err    error

	system string
	query  string
	calls  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, system, query string) (string, error) {
	f.calls++
	f.system = system
	f.query = query
	return f.output, f.err
}

func TestEnhanceWithoutProviderReturnsPlaceholder(t *testing.T) {
	svc := NewServiceWithProvider(nil, true)

	got, err := svc.Enhance(context.Background(), "a red bicycle")
	require.NoError(t, err)
	assert.Equal(t, `A creative interpretation of: "a red bicycle"`, got)
	assert.False(t, svc.Enabled())
}

func TestEnhanceTrimsProviderOutput(t *testing.T) {
	provider := &fakeProvider{output: "  A red bicycle leaning on a brick wall, golden hour\n"}
	svc := NewServiceWithProvider(provider, true)

	got, err := svc.Enhance(context.Background(), "a red bicycle")
	require.NoError(t, err)
	assert.Equal(t, "A red bicycle leaning on a brick wall, golden hour", got)
	assert.Equal(t, SystemInstruction, provider.system)
	assert.Contains(t, provider.query, `"a red bicycle"`)
	assert.Contains(t, provider.query, "MUST be the primary focus")
}

func TestEnhanceFallsBackOnProviderError(t *testing.T) {
	svc := NewServiceWithProvider(&fakeProvider{err: errors.New("quota exceeded")}, true)

	got, err := svc.Enhance(context.Background(), "a tree")
	require.NoError(t, err)
	assert.Equal(t, "A detailed, high-quality image of a tree, photorealistic, professional photography, cinematic lighting", got)
}

func TestEnhanceFallsBackOnEmptyOutput(t *testing.T) {
	svc := NewServiceWithProvider(&fakeProvider{output: "   "}, true)

	got, err := svc.Enhance(context.Background(), "a tree")
	require.NoError(t, err)
	assert.Equal(t, FallbackPrompt("a tree"), got)
}

func TestEnhancePropagatesErrorWhenFallbackDisabled(t *testing.T) {
	cause := errors.New("quota exceeded")
	svc := NewServiceWithProvider(&fakeProvider{err: cause}, false)

	_, err := svc.Enhance(context.Background(), "a tree")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestEnhancePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewServiceWithProvider(&fakeProvider{err: context.Canceled}, true)

	_, err := svc.Enhance(ctx, "a tree")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeChatModel struct {
	reply *schema.Message
	input []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return m.reply, nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	return schema.StreamReaderFromArray([]*schema.Message{m.reply}), nil
}

func (m *fakeChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

func TestChainProviderRendersSystemAndQuery(t *testing.T) {
	chatModel := &fakeChatModel{reply: schema.AssistantMessage("an oak tree at dawn", nil)}
	provider, err := NewChainProvider(context.Background(), chatModel)
	require.NoError(t, err)

	got, err := provider.Complete(context.Background(), "be precise", BuildQuery("an oak {tree}"))
	require.NoError(t, err)
	assert.Equal(t, "an oak tree at dawn", got)

	require.Len(t, chatModel.input, 2)
	assert.Equal(t, schema.System, chatModel.input[0].Role)
	assert.Equal(t, "be precise", chatModel.input[0].Content)
	assert.Equal(t, schema.User, chatModel.input[1].Role)
	assert.Contains(t, chatModel.input[1].Content, `"an oak {tree}"`)
}
