package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helixar/internal/config"
	"helixar/internal/models"
)

type fakeChatModel struct {
	reply string
	err   error
	seen  [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = append(f.seen, input)
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func newTestClient(t *testing.T, fake *fakeChatModel) (*Client, *int32) {
	t.Helper()
	var builds int32
	prev := chatModelFactory
	chatModelFactory = func(_ context.Context, provider string, _ config.ProviderConfig, modelID string) (model.ToolCallingChatModel, error) {
		atomic.AddInt32(&builds, 1)
		return fake, nil
	}
	t.Cleanup(func() { chatModelFactory = prev })

	cfg := config.Default()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, &builds
}

func TestCompleteSendsSystemInstructionAndPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "Here is your plan."}
	client, _ := newTestClient(t, fake)

	reply, err := client.Complete(context.Background(), models.ModelFlash, "Plan my week", "Be brief.")
	require.NoError(t, err)
	assert.Equal(t, "Here is your plan.", reply)

	require.Len(t, fake.seen, 1)
	sent := fake.seen[0]
	require.Len(t, sent, 2)
	assert.Equal(t, schema.System, sent[0].Role)
	assert.Equal(t, "Be brief.", sent[0].Content)
	assert.Equal(t, schema.User, sent[1].Role)
	assert.Equal(t, "Plan my week", sent[1].Content)
}

func TestCompleteEmptyReplyUsesFallback(t *testing.T) {
	client, _ := newTestClient(t, &fakeChatModel{reply: "   "})

	reply, err := client.Complete(context.Background(), models.ModelPro, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply)
}

func TestCompleteProviderError(t *testing.T) {
	client, _ := newTestClient(t, &fakeChatModel{err: errors.New("quota exceeded")})

	_, err := client.Complete(context.Background(), models.ModelFlash, "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestCompleteRejectsBlankPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "unused"}
	client, _ := newTestClient(t, fake)

	_, err := client.Complete(context.Background(), models.ModelFlash, "  ", "")
	require.Error(t, err)
	assert.Empty(t, fake.seen)
}

func TestChatModelBuiltOncePerModel(t *testing.T) {
	client, builds := newTestClient(t, &fakeChatModel{reply: "ok"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Complete(ctx, models.ModelFlash, "hi", "")
		require.NoError(t, err)
	}
	_, err := client.Complete(ctx, models.ModelPro, "hi", "")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(builds))
}

func TestNewClientUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Completion.Provider = "mistral"
	_, err := NewClient(cfg)
	require.Error(t, err)
}
