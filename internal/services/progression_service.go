// internal/services/progression_service.go
package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

// HealingReport 某场戏的痊愈评估
// 痊愈进度与显式生命周期相互独立：事件可以已结束但未愈合，也可以
// 满愈合但仍标记为进行中
type HealingReport struct {
	EventID         string `json:"event_id"`
	Scene           int    `json:"scene"`
	Percent         int    `json:"percent"`
	FullyHealed     bool   `json:"fully_healed"`
	LifecycleActive bool   `json:"lifecycle_active"`
	TimelineState   string `json:"timeline_state,omitempty"`
}

// ProgressionService 渐变与痊愈计算服务
type ProgressionService struct {
	productions *ProductionService
	states      *StateService
	events      *EventService
	tasks       *TaskService
	llm         *LLMService
	feed        *ChangeFeed
	logger      zerolog.Logger
}

// NewProgressionService 创建渐变服务
func NewProgressionService(
	productions *ProductionService,
	states *StateService,
	events *EventService,
	tasks *TaskService,
	llm *LLMService,
	feed *ChangeFeed,
	logger zerolog.Logger,
) *ProgressionService {
	return &ProgressionService{
		productions: productions,
		states:      states,
		events:      events,
		tasks:       tasks,
		llm:         llm,
		feed:        feed,
		logger:      logger.With().Str("component", "progression_service").Logger(),
	}
}

// HealingProgress 线性痊愈模型：每过一场按 100/healingDays 递增，封顶100
func HealingProgress(event *models.ContinuityEvent, scene int) int {
	if scene <= event.StartScene {
		return 0
	}
	healingDays := event.HealingDays
	if healingDays <= 0 {
		healingDays = defaultHealingDays
	}

	percent := (scene - event.StartScene) * 100 / healingDays
	if percent > 100 {
		percent = 100
	}
	return percent
}

// HealingStatus 评估事件在某场戏的痊愈状态
func (s *ProgressionService) HealingStatus(productionID, eventID string, scene int) (*HealingReport, error) {
	event, err := s.events.GetEvent(productionID, eventID)
	if err != nil {
		return nil, err
	}

	percent := HealingProgress(event, scene)
	report := &HealingReport{
		EventID:         event.ID,
		Scene:           scene,
		Percent:         percent,
		FullyHealed:     percent >= 100,
		LifecycleActive: event.IsActiveAt(scene),
	}
	if entry, ok := event.TimelineAt(scene); ok {
		report.TimelineState = entry.State
	}
	return report, nil
}

// ApplyProgression 将渐变阶段逐场套用到事件的场景跨度上
// 要求事件已有固定结束场景，阶段数必须等于跨度场次数
// 每场写入generated时间线条目；角色在演员表中的场次同时幂等追加变更备注
func (s *ProgressionService) ApplyProgression(productionID, eventID string, stages []string) (*models.ContinuityEvent, error) {
	var result *models.ContinuityEvent
	var touched []int

	err := s.productions.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		event, ok := data.Events[eventID]
		if !ok {
			return apperrors.NewEventNotFound(eventID)
		}
		if event.EndScene == nil {
			return apperrors.NewValidationError("事件尚未设定结束场景，无法套用渐变阶段", nil)
		}
		// 场次表可能在事件结束后被整体替换缩短，跨度必须重新校验
		if *event.EndScene >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(*event.EndScene, len(data.Scenes))
		}

		span := *event.EndScene - event.StartScene + 1
		if len(stages) != span {
			return apperrors.NewProgressionLengthMismatch(span, len(stages))
		}

		field := changeFieldForCategory(event.Category)
		for i, stage := range stages {
			scene := event.StartScene + i
			upsertTimeline(event, scene, stage, models.SourceGenerated)

			if data.Scenes[scene].HasCastMember(event.Character) {
				note := fmt.Sprintf("[%s] %s", event.Category, stage)
				s.states.appendChangeNote(data, scene, event.Character, field, note)
				touched = append(touched, scene)
			}
		}

		event.CachedStages = stages
		event.SortRecords()
		event.LastUpdated = time.Now()
		data.Production.LastUpdated = event.LastUpdated

		s.productions.saveEvents(data)
		s.productions.saveStates(data)
		s.productions.saveProduction(data)

		result = event.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeProgression,
		Character:    result.Character,
		EventID:      result.ID,
		Scenes:       touched,
	})

	return result, nil
}

// GenerateProgression 异步生成渐变阶段
// 返回任务ID，生成结果缓存在事件上，套用仍需显式调用 ApplyProgression
func (s *ProgressionService) GenerateProgression(productionID, eventID string) (string, error) {
	event, err := s.events.GetEvent(productionID, eventID)
	if err != nil {
		return "", err
	}
	if event.EndScene == nil {
		return "", apperrors.NewValidationError("事件尚未设定结束场景，无法生成渐变阶段", nil)
	}

	scenes, err := s.productions.Scenes(productionID)
	if err != nil {
		return "", err
	}
	if *event.EndScene >= len(scenes) {
		return "", apperrors.NewInvalidSceneRange(*event.EndScene, len(scenes))
	}

	if !s.llm.IsReady() {
		return "", apperrors.NewProcessingError("LLM服务未配置", nil)
	}

	span := *event.EndScene - event.StartScene + 1
	headings := make([]string, 0, span)
	for i := event.StartScene; i <= *event.EndScene; i++ {
		headings = append(headings, scenes[i].Heading)
	}

	taskID := s.tasks.CreateTask("generate_progression")

	go func() {
		stages, err := s.llm.GenerateProgressionStages(event, headings)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", eventID).Msg("生成渐变阶段失败")
			s.tasks.FailTask(taskID, err.Error())
			return
		}

		if _, err := s.cacheStages(productionID, eventID, stages); err != nil {
			s.tasks.FailTask(taskID, err.Error())
			return
		}

		s.tasks.CompleteTask(taskID, map[string]interface{}{
			"event_id": eventID,
			"stages":   stages,
		})
	}()

	return taskID, nil
}

// cacheStages 仅缓存生成结果，不触碰状态记录
func (s *ProgressionService) cacheStages(productionID, eventID string, stages []string) (*models.ContinuityEvent, error) {
	return s.events.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		event.CachedStages = stages
		return nil
	})
}

// changeFieldForCategory 事件类别到变更字段的映射
func changeFieldForCategory(category models.EventCategory) string {
	switch category {
	case models.CategoryWardrobeChange:
		return "wardrobe"
	case models.CategoryHairChange:
		return "hair"
	case models.CategoryMakeupChange, models.CategoryTransformation:
		return "makeup"
	default:
		return "injuries"
	}
}
