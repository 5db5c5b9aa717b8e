// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/llm"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

// LLMService LLM生成服务
// 包装提供商接口，负责提示词构造、响应解析与结果缓存
type LLMService struct {
	provider llm.Provider

	cache      map[string]cachedCompletion
	cacheMutex sync.RWMutex

	logger zerolog.Logger
}

type cachedCompletion struct {
	text      string
	timestamp time.Time
}

const completionCacheExpiry = 30 * time.Minute

// NewLLMService 创建LLM服务
func NewLLMService(provider llm.Provider, logger zerolog.Logger) *LLMService {
	return &LLMService{
		provider: provider,
		cache:    make(map[string]cachedCompletion),
		logger:   logger.With().Str("component", "llm_service").Logger(),
	}
}

// NewEmptyLLMService 创建未配置提供商的空服务
// 引擎核心功能不依赖LLM，未配置时生成类接口返回明确错误
func NewEmptyLLMService(logger zerolog.Logger) *LLMService {
	return NewLLMService(nil, logger)
}

// IsReady 判断是否已配置提供商
func (s *LLMService) IsReady() bool {
	return s.provider != nil
}

// SetProvider 更换提供商并清空缓存
func (s *LLMService) SetProvider(provider llm.Provider) {
	s.cacheMutex.Lock()
	s.provider = provider
	s.cache = make(map[string]cachedCompletion)
	s.cacheMutex.Unlock()
}

// GenerateProgressionStages 生成事件在场景跨度上的逐场外观描述
// headings 与跨度场次一一对应，返回的阶段数等于 len(headings)
func (s *LLMService) GenerateProgressionStages(event *models.ContinuityEvent, headings []string) ([]string, error) {
	if !s.IsReady() {
		return nil, apperrors.NewProcessingError("LLM服务未配置", nil)
	}

	var sceneList strings.Builder
	for i, heading := range headings {
		fmt.Fprintf(&sceneList, "%d. 场景 %d: %s\n", i+1, event.StartScene+i, heading)
	}

	prompt := fmt.Sprintf(`你是影视化妆与服装部门的连续性顾问。
角色 %s 发生了一次连续性事件（类别: %s）：
%s

该事件从场景 %d 持续到场景 %d，痊愈周期约 %d 天。
以下是跨度内的每一场戏：
%s
请为每一场戏给出该事件此时的外观状态描述（如伤口的愈合程度、淤青颜色变化）。

要求：
1. 必须返回严格的JSON字符串数组，不要任何其他文字
2. 数组长度必须正好为 %d，与场景列表一一对应
3. 每条描述限一句话，使用化妆部门可直接执行的措辞

Return a strict JSON array of strings, for example:
["fresh cut, bright red, slightly swollen", "scabbing begins, redness fading"]`,
		event.Character, event.Category, event.Description,
		event.StartScene, event.StartScene+len(headings)-1, event.HealingDays,
		sceneList.String(), len(headings))

	text, err := s.complete(prompt)
	if err != nil {
		return nil, err
	}

	stages, err := parseStringArray(text)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("解析渐变阶段响应失败")
		return nil, apperrors.NewProcessingError("解析生成结果失败", err)
	}
	if len(stages) != len(headings) {
		return nil, apperrors.NewProgressionLengthMismatch(len(headings), len(stages))
	}

	return stages, nil
}

// GenerateAppearanceSuggestion 根据前序状态与进行中事件生成入场外观建议
func (s *LLMService) GenerateAppearanceSuggestion(character string, previous *models.CharacterSceneState, activeEvents []*models.ContinuityEvent) (string, error) {
	if !s.IsReady() {
		return "", apperrors.NewProcessingError("LLM服务未配置", nil)
	}

	var background strings.Builder
	if previous != nil {
		fmt.Fprintf(&background, "上一次出场（场景 %d）的离场状态：\n", previous.SceneIndex)
		for _, dept := range models.Departments {
			if v := previous.CarryFor(dept); v != "" {
				fmt.Fprintf(&background, "- %s: %s\n", dept, v)
			}
		}
	}
	if len(activeEvents) > 0 {
		background.WriteString("进行中的连续性事件：\n")
		for _, event := range activeEvents {
			fmt.Fprintf(&background, "- [%s] %s（始于场景 %d）\n", event.Category, event.Description, event.StartScene)
		}
	}

	prompt := fmt.Sprintf(`你是影视化妆与服装部门的连续性顾问。
为角色 %s 的下一场戏给出入场外观建议。

%s
请综合前序状态和进行中事件，用一段简洁的中文描述该角色入场时发型、化妆、服装和身体状况应当呈现的样子。只返回描述本身。`,
		character, background.String())

	return s.complete(prompt)
}

// complete 带缓存的一次生成调用
func (s *LLMService) complete(prompt string) (string, error) {
	key := cacheKey(prompt)

	s.cacheMutex.RLock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.timestamp) < completionCacheExpiry {
		s.cacheMutex.RUnlock()
		return entry.text, nil
	}
	s.cacheMutex.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := s.provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   2048,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("LLM生成失败: %w", err)
	}

	s.cacheMutex.Lock()
	s.cache[key] = cachedCompletion{text: resp.Text, timestamp: time.Now()}
	s.cacheMutex.Unlock()

	return resp.Text, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// ------------------------------------------------
// 响应解析

// parseStringArray 容错解析LLM返回的字符串数组
// 依次尝试：严格JSON数组 → 清理代码围栏后再试 → 对象数组取文本字段 → 按行拆分
func parseStringArray(text string) ([]string, error) {
	var stages []string
	if err := json.Unmarshal([]byte(text), &stages); err == nil {
		return stages, nil
	}

	cleaned := cleanJSONString(text)
	if err := json.Unmarshal([]byte(cleaned), &stages); err == nil {
		return stages, nil
	}

	// 有些模型会返回 [{"scene":1,"state":"..."}] 形式
	var objects []map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &objects); err == nil {
		for _, obj := range objects {
			for _, key := range []string{"state", "description", "stage", "text"} {
				if v, ok := obj[key].(string); ok {
					stages = append(stages, v)
					break
				}
			}
		}
		if len(stages) > 0 {
			return stages, nil
		}
	}

	// 最后按非空行拆分
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" {
			stages = append(stages, line)
		}
	}
	if len(stages) > 0 {
		return stages, nil
	}

	return nil, fmt.Errorf("无法从响应中解析字符串数组")
}

// cleanJSONString 去除代码围栏和数组外的多余文字
func cleanJSONString(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
