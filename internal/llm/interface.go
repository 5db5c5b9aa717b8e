// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CompletionRequest 文本生成请求
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// CompletionResponse 文本生成响应
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Provider LLM服务提供商接口
type Provider interface {
	// Name 提供商标识
	Name() string

	// CompleteText 执行一次文本生成
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ProviderFactory 根据配置创建提供商实例
type ProviderFactory func(config map[string]string) (Provider, error)

// ErrUnknownProvider 请求了未注册的提供商
var ErrUnknownProvider = errors.New("未知的LLM提供商")

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProviderFactory)
)

// RegisterProvider 注册提供商工厂，由各提供商包的init调用
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// CreateProvider 按名称创建提供商实例
func CreateProvider(name string, config map[string]string) (Provider, error) {
	registryMu.RLock()
	factory, exists := registry[name]
	registryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return factory(config)
}

// AvailableProviders 已注册的提供商名称
func AvailableProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
