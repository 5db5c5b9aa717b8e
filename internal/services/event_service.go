// internal/services/event_service.go
package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

// EventInput 创建连续性事件的输入
type EventInput struct {
	Character   string `json:"character" binding:"required"`
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description" binding:"required"`
	StartScene  int    `json:"start_scene"`
	HealingDays int    `json:"healing_days"`
}

// 线性痊愈模型的默认天数
const defaultHealingDays = 7

// EventService 连续性事件服务
// 管理跨场景事件的生命周期、观察记录、时间线、出场集合与可见性
type EventService struct {
	productions *ProductionService
	feed        *ChangeFeed
	logger      zerolog.Logger
}

// NewEventService 创建事件服务
func NewEventService(productions *ProductionService, feed *ChangeFeed, logger zerolog.Logger) *EventService {
	return &EventService{
		productions: productions,
		feed:        feed,
		logger:      logger.With().Str("component", "event_service").Logger(),
	}
}

// CreateEvent 创建连续性事件
// 初始描述同时写入观察记录和时间线（logged来源），出场集合与可见性随即计算
func (s *EventService) CreateEvent(productionID string, input EventInput) (*models.ContinuityEvent, error) {
	var result *models.ContinuityEvent

	err := s.productions.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		if input.StartScene < 0 || input.StartScene >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(input.StartScene, len(data.Scenes))
		}
		if !data.Scenes[input.StartScene].HasCastMember(input.Character) {
			return apperrors.NewCharacterNotFound(input.Character, input.StartScene)
		}

		healingDays := input.HealingDays
		if healingDays <= 0 {
			healingDays = defaultHealingDays
		}

		now := time.Now()
		event := &models.ContinuityEvent{
			ID:          uuid.New().String(),
			Character:   input.Character,
			Category:    models.NormalizeCategory(input.Category),
			Name:        input.Name,
			Description: input.Description,
			StartScene:  input.StartScene,
			Status:      models.EventStatusActive,
			HealingDays: healingDays,
			Observations: []models.Observation{
				{Scene: input.StartScene, Description: input.Description, Timestamp: now},
			},
			Timeline: []models.TimelineEntry{
				{Scene: input.StartScene, State: input.Description, Source: models.SourceLogged},
			},
			Visibility:  []models.VisibilityRecord{},
			CreatedAt:   now,
			LastUpdated: now,
		}
		event.ActorPresence = presenceScenes(data, event)
		for _, scene := range event.ActorPresence {
			event.Visibility = append(event.Visibility, models.VisibilityRecord{
				Scene:  scene,
				Status: models.VisibilityVisible,
			})
		}

		data.Events[event.ID] = event
		data.Production.EventCount = len(data.Events)
		data.Production.LastUpdated = now

		s.productions.saveEvents(data)
		s.productions.saveProduction(data)

		result = event.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(productionID, result)
	s.logger.Info().
		Str("production_id", productionID).
		Str("event_id", result.ID).
		Str("character", result.Character).
		Str("category", string(result.Category)).
		Msg("创建连续性事件")

	return result, nil
}

// GetEvent 获取事件
func (s *EventService) GetEvent(productionID, eventID string) (*models.ContinuityEvent, error) {
	var result *models.ContinuityEvent

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		event, ok := data.Events[eventID]
		if !ok {
			return apperrors.NewEventNotFound(eventID)
		}
		result = event.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEvents 列出事件，character 非空时按角色过滤
func (s *EventService) ListEvents(productionID, character string) ([]*models.ContinuityEvent, error) {
	var result []*models.ContinuityEvent

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		for _, event := range data.Events {
			if character != "" && event.Character != character {
				continue
			}
			result = append(result, event.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartScene != result[j].StartScene {
			return result[i].StartScene < result[j].StartScene
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RecordObservation 记录某场戏的观察条目
// 同场景重复记录覆盖旧值；描述为空时删除该场景的观察和logged时间线条目
func (s *EventService) RecordObservation(productionID, eventID string, scene int, description string) (*models.ContinuityEvent, error) {
	return s.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		if scene < 0 || scene >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(scene, len(data.Scenes))
		}

		if description == "" {
			filtered := event.Observations[:0]
			for _, obs := range event.Observations {
				if obs.Scene != scene {
					filtered = append(filtered, obs)
				}
			}
			event.Observations = filtered

			entries := event.Timeline[:0]
			for _, entry := range event.Timeline {
				if entry.Scene == scene && entry.Source == models.SourceLogged {
					continue
				}
				entries = append(entries, entry)
			}
			event.Timeline = entries
			return nil
		}

		updated := false
		for i := range event.Observations {
			if event.Observations[i].Scene == scene {
				event.Observations[i].Description = description
				event.Observations[i].Timestamp = time.Now()
				updated = true
				break
			}
		}
		if !updated {
			event.Observations = append(event.Observations, models.Observation{
				Scene:       scene,
				Description: description,
				Timestamp:   time.Now(),
			})
		}

		upsertTimeline(event, scene, description, models.SourceLogged)
		event.SortRecords()
		return nil
	})
}

// EndEvent 结束事件
// 结束场景必须晚于开始场景且在范围内；可附带最终观察记录
func (s *EventService) EndEvent(productionID, eventID string, endScene int, finalObservation string) (*models.ContinuityEvent, error) {
	result, err := s.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		if endScene < 0 || endScene >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(endScene, len(data.Scenes))
		}
		if endScene <= event.StartScene {
			return apperrors.NewInvalidEndScene(endScene, event.StartScene)
		}

		event.EndScene = &endScene
		event.Status = models.EventStatusCompleted
		event.ActorPresence = mergePresence(event.ActorPresence, presenceScenes(data, event))
		ensureVisibilityRecords(event)

		if finalObservation != "" {
			updated := false
			for i := range event.Observations {
				if event.Observations[i].Scene == endScene {
					event.Observations[i].Description = finalObservation
					event.Observations[i].Timestamp = time.Now()
					updated = true
					break
				}
			}
			if !updated {
				event.Observations = append(event.Observations, models.Observation{
					Scene:       endScene,
					Description: finalObservation,
					Timestamp:   time.Now(),
				})
			}
			upsertTimeline(event, endScene, finalObservation, models.SourceLogged)
		}

		event.SortRecords()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReopenEvent 重新打开已结束的事件，生命周期恢复为进行中
func (s *EventService) ReopenEvent(productionID, eventID string) (*models.ContinuityEvent, error) {
	return s.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		event.EndScene = nil
		event.Status = models.EventStatusActive
		event.ActorPresence = mergePresence(event.ActorPresence, presenceScenes(data, event))
		ensureVisibilityRecords(event)
		event.SortRecords()
		return nil
	})
}

// SetVisibility 记录某场戏中事件是否可见
// 改回可见时遮盖手段和备注一并清除
func (s *EventService) SetVisibility(productionID, eventID string, record models.VisibilityRecord) (*models.ContinuityEvent, error) {
	return s.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		if record.Scene < 0 || record.Scene >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(record.Scene, len(data.Scenes))
		}
		if record.Status == "" {
			record.Status = models.VisibilityVisible
		}
		if record.Status == models.VisibilityVisible {
			record.Coverage = ""
			record.Note = ""
		}

		for i := range event.Visibility {
			if event.Visibility[i].Scene == record.Scene {
				event.Visibility[i] = record
				return nil
			}
		}
		event.Visibility = append(event.Visibility, record)
		event.SortRecords()
		return nil
	})
}

// RecomputeActorPresence 根据当前演员表重算出场集合
// 只增不减：手动加入的场次和范围外的历史可见性记录都不会被清除
// 新发现的出场场次补建默认可见的可见性记录
func (s *EventService) RecomputeActorPresence(productionID, eventID string) (*models.ContinuityEvent, error) {
	return s.mutate(productionID, eventID, func(data *ProductionData, event *models.ContinuityEvent) error {
		event.ActorPresence = mergePresence(event.ActorPresence, presenceScenes(data, event))
		ensureVisibilityRecords(event)
		event.SortRecords()
		return nil
	})
}

// DeleteEvent 删除事件
func (s *EventService) DeleteEvent(productionID, eventID string) error {
	err := s.productions.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		if _, ok := data.Events[eventID]; !ok {
			return apperrors.NewEventNotFound(eventID)
		}

		delete(data.Events, eventID)
		data.Production.EventCount = len(data.Events)
		data.Production.LastUpdated = time.Now()

		s.productions.saveEvents(data)
		s.productions.saveProduction(data)
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeEventDeleted,
		EventID:      eventID,
	})
	return nil
}

// ActiveEventsAt 返回生命周期覆盖某场戏的全部事件
func (s *EventService) ActiveEventsAt(productionID string, scene int) ([]*models.ContinuityEvent, error) {
	events, err := s.ListEvents(productionID, "")
	if err != nil {
		return nil, err
	}

	var result []*models.ContinuityEvent
	for _, event := range events {
		if event.IsActiveAt(scene) {
			result = append(result, event)
		}
	}
	return result, nil
}

// ActiveEventsForCharacter 返回某角色在某场戏的进行中事件
func (s *EventService) ActiveEventsForCharacter(productionID, character string, scene int) ([]*models.ContinuityEvent, error) {
	events, err := s.ListEvents(productionID, character)
	if err != nil {
		return nil, err
	}

	var result []*models.ContinuityEvent
	for _, event := range events {
		if event.IsActiveAt(scene) {
			result = append(result, event)
		}
	}
	return result, nil
}

// EventsTouchingScene 返回任何记录涉及某场戏的事件
func (s *EventService) EventsTouchingScene(productionID string, scene int) ([]*models.ContinuityEvent, error) {
	events, err := s.ListEvents(productionID, "")
	if err != nil {
		return nil, err
	}

	var result []*models.ContinuityEvent
	for _, event := range events {
		if event.TouchesScene(scene) {
			result = append(result, event)
		}
	}
	return result, nil
}

// ------------------------------------------------

// mutate 在剧集写锁下修改事件并持久化
func (s *EventService) mutate(productionID, eventID string, fn func(*ProductionData, *models.ContinuityEvent) error) (*models.ContinuityEvent, error) {
	var result *models.ContinuityEvent

	err := s.productions.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}
		event, ok := data.Events[eventID]
		if !ok {
			return apperrors.NewEventNotFound(eventID)
		}

		if err := fn(data, event); err != nil {
			return err
		}

		event.LastUpdated = time.Now()
		data.Production.LastUpdated = event.LastUpdated

		s.productions.saveEvents(data)
		s.productions.saveProduction(data)

		result = event.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(productionID, result)
	return result, nil
}

func (s *EventService) publish(productionID string, event *models.ContinuityEvent) {
	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeEvent,
		Character:    event.Character,
		EventID:      event.ID,
	})
}

// presenceScenes 计算角色在事件生命周期内出现在演员表中的场次
func presenceScenes(data *ProductionData, event *models.ContinuityEvent) []int {
	var scenes []int
	for i := event.StartScene; i < len(data.Scenes); i++ {
		if event.EndScene != nil && i > *event.EndScene {
			break
		}
		if data.Scenes[i].HasCastMember(event.Character) {
			scenes = append(scenes, i)
		}
	}
	return scenes
}

// ensureVisibilityRecords 为缺少记录的出场场次补建默认可见的可见性记录
func ensureVisibilityRecords(event *models.ContinuityEvent) {
	recorded := make(map[int]bool, len(event.Visibility))
	for _, rec := range event.Visibility {
		recorded[rec.Scene] = true
	}
	for _, scene := range event.ActorPresence {
		if !recorded[scene] {
			event.Visibility = append(event.Visibility, models.VisibilityRecord{
				Scene:  scene,
				Status: models.VisibilityVisible,
			})
		}
	}
}

// mergePresence 合并出场集合，去重升序
func mergePresence(existing, computed []int) []int {
	seen := make(map[int]bool, len(existing)+len(computed))
	var merged []int
	for _, scene := range existing {
		if !seen[scene] {
			seen[scene] = true
			merged = append(merged, scene)
		}
	}
	for _, scene := range computed {
		if !seen[scene] {
			seen[scene] = true
			merged = append(merged, scene)
		}
	}
	sort.Ints(merged)
	return merged
}

// upsertTimeline 插入或覆盖某场戏某来源的时间线条目
func upsertTimeline(event *models.ContinuityEvent, scene int, state string, source models.TimelineSource) {
	for i := range event.Timeline {
		if event.Timeline[i].Scene == scene && event.Timeline[i].Source == source {
			event.Timeline[i].State = state
			return
		}
	}
	event.Timeline = append(event.Timeline, models.TimelineEntry{
		Scene:  scene,
		State:  state,
		Source: source,
	})
}
