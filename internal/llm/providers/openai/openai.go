// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Corphon/ContinuityTrackerMCP/internal/llm"
)

const defaultModel = openai.GPT4oMini

// Provider OpenAI兼容接口的提供商实现
type Provider struct {
	client       *openai.Client
	defaultModel string
}

func init() {
	llm.RegisterProvider("openai", New)
}

// New 根据配置创建OpenAI提供商
// base_url 可指向任何兼容OpenAI协议的服务
func New(config map[string]string) (llm.Provider, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, errors.New("缺少 api_key 配置")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := config["base_url"]; baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	model := config["default_model"]
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: model,
	}, nil
}

// Name 提供商标识
func (p *Provider) Name() string {
	return "openai"
}

// CompleteText 执行一次聊天补全
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI返回空响应")
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
