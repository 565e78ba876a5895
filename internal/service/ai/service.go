package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"helixar/internal/config"
	"helixar/internal/metrics"
	"helixar/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// FallbackReply is returned when the provider answers without any text.
const FallbackReply = "I'm sorry, I couldn't generate a response."

const claudeMaxTokens = 3000

type generateFunc func(ctx context.Context, messages []*schema.Message) (*schema.Message, error)

// chatModelFactory is swapped out in tests.
var chatModelFactory = newChatModel

// Client produces one complete assistant reply per call. It does not retry, time out or stream.
type Client struct {
	provider string
	provCfg  config.ProviderConfig
	tools    []tool.BaseTool

	mu      sync.Mutex
	runners map[models.ModelType]generateFunc
}

// NewClient prepares a completion client for the configured provider. Chat models are
// created lazily, once per model id.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provider := cfg.Completion.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if provCfg.APIKey == "" {
		log.WithField("provider", provider).Warn("no api key configured, completions will fail")
	}
	var tools []tool.BaseTool
	if cfg.Completion.WebSearch {
		tools = newSearchTools(cfg.Completion)
	}
	return &Client{
		provider: provider,
		provCfg:  provCfg,
		tools:    tools,
		runners:  make(map[models.ModelType]generateFunc),
	}, nil
}

// Complete sends the prompt with the system instruction to modelID and returns the reply text.
func (c *Client) Complete(ctx context.Context, modelID models.ModelType, prompt, systemInstruction string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt cannot be empty")
	}
	gen, err := c.runnerFor(ctx, modelID)
	if err != nil {
		return "", err
	}

	messages := make([]*schema.Message, 0, 2)
	if systemInstruction != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: systemInstruction})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: prompt})

	start := time.Now()
	resp, err := gen(ctx, messages)
	if err != nil {
		metrics.ObserveCompletion(string(modelID), metrics.OutcomeFailure, time.Since(start))
		return "", fmt.Errorf("generate completion: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		metrics.ObserveCompletion(string(modelID), metrics.OutcomeFallback, time.Since(start))
		return FallbackReply, nil
	}
	metrics.ObserveCompletion(string(modelID), metrics.OutcomeSuccess, time.Since(start))
	return resp.Content, nil
}

func (c *Client) runnerFor(ctx context.Context, modelID models.ModelType) (generateFunc, error) {
	if modelID == "" {
		return nil, errors.New("model id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen, ok := c.runners[modelID]; ok {
		return gen, nil
	}

	chatModel, err := chatModelFactory(ctx, c.provider, c.provCfg, string(modelID))
	if err != nil {
		return nil, fmt.Errorf("init %s chat model %s: %w", c.provider, modelID, err)
	}

	var gen generateFunc
	if len(c.tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: c.tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		gen = func(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
			return agent.Generate(ctx, messages)
		}
	} else {
		gen = func(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
			return chatModel.Generate(ctx, messages)
		}
	}
	c.runners[modelID] = gen
	return gen, nil
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelID string) (model.ToolCallingChatModel, error) {
	switch provider {
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelID,
		})
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelID,
			APIKey:  provCfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelID,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}
