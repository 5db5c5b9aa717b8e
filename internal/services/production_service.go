// internal/services/production_service.go
package services

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
	"github.com/Corphon/ContinuityTrackerMCP/internal/storage"
)

const productionsDir = "productions"

// ProductionData 一部剧集的完整内存数据
type ProductionData struct {
	Production *models.Production
	Scenes     []*models.Scene
	States     map[string]*models.CharacterSceneState // "场号|角色" -> 状态
	Events     map[string]*models.ContinuityEvent     // 事件ID -> 事件
}

// ProductionService 剧集管理服务
// 维护剧集、场次、角色状态与连续性事件的内存视图，变更后尽力持久化
type ProductionService struct {
	storage *storage.FileStorage
	locks   *LockManager
	feed    *ChangeFeed
	logger  zerolog.Logger

	data   map[string]*ProductionData
	dataMu sync.RWMutex
}

// NewProductionService 创建剧集管理服务
func NewProductionService(fs *storage.FileStorage, feed *ChangeFeed, logger zerolog.Logger) *ProductionService {
	return &ProductionService{
		storage: fs,
		locks:   NewLockManager(),
		feed:    feed,
		logger:  logger.With().Str("component", "production_service").Logger(),
		data:    make(map[string]*ProductionData),
	}
}

// stateKey 状态记录的内存键
func stateKey(sceneIndex int, character string) string {
	return fmt.Sprintf("%d|%s", sceneIndex, character)
}

// CreateProduction 创建剧集
func (s *ProductionService) CreateProduction(title, description string) (*models.Production, error) {
	if title == "" {
		return nil, apperrors.NewValidationError("剧集标题不能为空", nil)
	}

	now := time.Now()
	production := &models.Production{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		LastUpdated: now,
	}

	data := &ProductionData{
		Production: production,
		Scenes:     []*models.Scene{},
		States:     make(map[string]*models.CharacterSceneState),
		Events:     make(map[string]*models.ContinuityEvent),
	}

	s.dataMu.Lock()
	s.data[production.ID] = data
	s.dataMu.Unlock()

	s.saveProduction(data)
	s.saveScenes(data)
	s.saveStates(data)
	s.saveEvents(data)

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: production.ID,
		Kind:         models.ChangeProduction,
	})

	s.logger.Info().Str("production_id", production.ID).Str("title", title).Msg("创建剧集")

	return production.Clone(), nil
}

// GetProduction 获取剧集基础信息
func (s *ProductionService) GetProduction(productionID string) (*models.Production, error) {
	var result *models.Production

	err := s.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		result = data.Production.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListProductions 列出所有剧集
func (s *ProductionService) ListProductions() ([]*models.Production, error) {
	dirs, err := s.storage.ListDirs(productionsDir)
	if err != nil {
		if !s.storage.DirExists(productionsDir) {
			return []*models.Production{}, nil
		}
		return nil, fmt.Errorf("列出剧集目录失败: %w", err)
	}

	productions := make([]*models.Production, 0, len(dirs))
	for _, id := range dirs {
		production, err := s.GetProduction(id)
		if err != nil {
			s.logger.Warn().Err(err).Str("production_id", id).Msg("加载剧集失败，跳过")
			continue
		}
		productions = append(productions, production)
	}

	sort.Slice(productions, func(i, j int) bool {
		return productions[i].CreatedAt.Before(productions[j].CreatedAt)
	})

	return productions, nil
}

// DeleteProduction 删除剧集及其全部数据
func (s *ProductionService) DeleteProduction(productionID string) error {
	return s.locks.ExecuteWithLock(productionID, func() error {
		if _, err := s.loadData(productionID); err != nil {
			return err
		}

		if err := s.storage.DeleteDir(filepath.Join(productionsDir, productionID)); err != nil {
			return fmt.Errorf("删除剧集数据失败: %w", err)
		}

		s.dataMu.Lock()
		delete(s.data, productionID)
		s.dataMu.Unlock()

		s.feed.Publish(models.ChangeDescriptor{
			ProductionID: productionID,
			Kind:         models.ChangeProduction,
		})

		s.logger.Info().Str("production_id", productionID).Msg("删除剧集")
		return nil
	})
}

// ReplaceScenes 整体替换场次表
// 场次按传入顺序重新编号为0..n-1，已有状态和事件记录保留
func (s *ProductionService) ReplaceScenes(productionID string, scenes []*models.Scene) ([]*models.Scene, error) {
	var result []*models.Scene

	err := s.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}

		for i, scene := range scenes {
			scene.Index = i
			cast := make([]string, 0, len(scene.Cast))
			for _, name := range scene.Cast {
				if name != "" {
					cast = append(cast, name)
				}
			}
			scene.Cast = cast
		}

		data.Scenes = scenes
		data.Production.SceneCount = len(scenes)
		data.Production.LastUpdated = time.Now()

		s.saveScenes(data)
		s.saveProduction(data)

		result = make([]*models.Scene, len(scenes))
		for i, scene := range scenes {
			result[i] = scene.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeScenesReplaced,
	})

	return result, nil
}

// Scenes 获取场次表
func (s *ProductionService) Scenes(productionID string) ([]*models.Scene, error) {
	var result []*models.Scene

	err := s.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		result = make([]*models.Scene, len(data.Scenes))
		for i, scene := range data.Scenes {
			result[i] = scene.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetScene 按序号获取场次
func (s *ProductionService) GetScene(productionID string, sceneIndex int) (*models.Scene, error) {
	var result *models.Scene

	err := s.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		if sceneIndex < 0 || sceneIndex >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(sceneIndex, len(data.Scenes))
		}
		result = data.Scenes[sceneIndex].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateSceneMeta 更新场次元数据，仅修改传入的字段
func (s *ProductionService) UpdateSceneMeta(productionID string, sceneIndex int, meta models.SceneMeta) (*models.Scene, error) {
	var result *models.Scene

	err := s.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		if sceneIndex < 0 || sceneIndex >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(sceneIndex, len(data.Scenes))
		}

		scene := data.Scenes[sceneIndex]
		scene.ApplyMeta(meta)
		data.Production.LastUpdated = time.Now()

		s.saveScenes(data)
		s.saveProduction(data)

		result = scene.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeSceneMeta,
		Scenes:       []int{sceneIndex},
	})

	return result, nil
}

// AddCastMember 将角色加入场次演员表
func (s *ProductionService) AddCastMember(productionID string, sceneIndex int, character string) (*models.Scene, error) {
	if character == "" {
		return nil, apperrors.NewValidationError("角色名不能为空", nil)
	}

	var result *models.Scene

	err := s.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		if sceneIndex < 0 || sceneIndex >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(sceneIndex, len(data.Scenes))
		}

		scene := data.Scenes[sceneIndex]
		if !scene.HasCastMember(character) {
			scene.Cast = append(scene.Cast, character)
			data.Production.LastUpdated = time.Now()
			s.saveScenes(data)
			s.saveProduction(data)
		}

		result = scene.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeCast,
		Character:    character,
		Scenes:       []int{sceneIndex},
	})

	return result, nil
}

// RemoveCastMember 将角色移出场次演员表
// 该场次的角色状态记录成为孤儿数据：保留在磁盘，查询时不再返回
func (s *ProductionService) RemoveCastMember(productionID string, sceneIndex int, character string) (*models.Scene, error) {
	var result *models.Scene

	err := s.locks.ExecuteWithLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}
		if sceneIndex < 0 || sceneIndex >= len(data.Scenes) {
			return apperrors.NewInvalidSceneRange(sceneIndex, len(data.Scenes))
		}

		scene := data.Scenes[sceneIndex]
		filtered := scene.Cast[:0]
		for _, name := range scene.Cast {
			if name != character {
				filtered = append(filtered, name)
			}
		}
		scene.Cast = filtered
		data.Production.LastUpdated = time.Now()

		s.saveScenes(data)
		s.saveProduction(data)

		result = scene.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeCast,
		Character:    character,
		Scenes:       []int{sceneIndex},
	})

	return result, nil
}

// Characters 汇总剧集中出现过的所有角色名
func (s *ProductionService) Characters(productionID string) ([]string, error) {
	var names []string

	err := s.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.loadData(productionID)
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, scene := range data.Scenes {
			for _, name := range scene.Cast {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// ------------------------------------------------
// 数据加载与持久化

// loadData 获取剧集内存数据，未加载时从磁盘读取
func (s *ProductionService) loadData(productionID string) (*ProductionData, error) {
	s.dataMu.RLock()
	data, exists := s.data[productionID]
	s.dataMu.RUnlock()
	if exists {
		return data, nil
	}

	dir := filepath.Join(productionsDir, productionID)
	if !s.storage.DirExists(dir) {
		return nil, apperrors.NewProductionNotFound(productionID)
	}

	data = &ProductionData{
		Production: &models.Production{},
		Scenes:     []*models.Scene{},
		States:     make(map[string]*models.CharacterSceneState),
		Events:     make(map[string]*models.ContinuityEvent),
	}

	if err := s.storage.LoadJSONFile(dir, "production.json", data.Production); err != nil {
		return nil, fmt.Errorf("加载剧集信息失败: %w", err)
	}

	if s.storage.FileExists(dir, "scenes.json") {
		if err := s.storage.LoadJSONFile(dir, "scenes.json", &data.Scenes); err != nil {
			return nil, fmt.Errorf("加载场次数据失败: %w", err)
		}
	}

	if s.storage.FileExists(dir, "states.json") {
		var states []*models.CharacterSceneState
		if err := s.storage.LoadJSONFile(dir, "states.json", &states); err != nil {
			return nil, fmt.Errorf("加载状态数据失败: %w", err)
		}
		for _, state := range states {
			data.States[stateKey(state.SceneIndex, state.Character)] = state
		}
	}

	if s.storage.FileExists(dir, "events.json") {
		var events []*models.ContinuityEvent
		if err := s.storage.LoadJSONFile(dir, "events.json", &events); err != nil {
			return nil, fmt.Errorf("加载事件数据失败: %w", err)
		}
		for _, event := range events {
			data.Events[event.ID] = event
		}
	}

	s.dataMu.Lock()
	// 并发加载时保留先到的副本
	if existing, ok := s.data[productionID]; ok {
		data = existing
	} else {
		s.data[productionID] = data
	}
	s.dataMu.Unlock()

	return data, nil
}

// 持久化失败只记录日志，内存状态保持权威
func (s *ProductionService) saveProduction(data *ProductionData) {
	dir := filepath.Join(productionsDir, data.Production.ID)
	if err := s.storage.SaveJSONFile(dir, "production.json", data.Production); err != nil {
		s.logger.Warn().Err(err).Str("production_id", data.Production.ID).Msg("保存剧集信息失败")
	}
}

func (s *ProductionService) saveScenes(data *ProductionData) {
	dir := filepath.Join(productionsDir, data.Production.ID)
	if err := s.storage.SaveJSONFile(dir, "scenes.json", data.Scenes); err != nil {
		s.logger.Warn().Err(err).Str("production_id", data.Production.ID).Msg("保存场次数据失败")
	}
}

func (s *ProductionService) saveStates(data *ProductionData) {
	states := make([]*models.CharacterSceneState, 0, len(data.States))
	for _, state := range data.States {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].SceneIndex != states[j].SceneIndex {
			return states[i].SceneIndex < states[j].SceneIndex
		}
		return states[i].Character < states[j].Character
	})

	dir := filepath.Join(productionsDir, data.Production.ID)
	if err := s.storage.SaveJSONFile(dir, "states.json", states); err != nil {
		s.logger.Warn().Err(err).Str("production_id", data.Production.ID).Msg("保存状态数据失败")
	}
}

func (s *ProductionService) saveEvents(data *ProductionData) {
	events := make([]*models.ContinuityEvent, 0, len(data.Events))
	for _, event := range data.Events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	dir := filepath.Join(productionsDir, data.Production.ID)
	if err := s.storage.SaveJSONFile(dir, "events.json", events); err != nil {
		s.logger.Warn().Err(err).Str("production_id", data.Production.ID).Msg("保存事件数据失败")
	}
}
