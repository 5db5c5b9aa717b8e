// internal/services/state_service.go
package services

import (
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

// StateService 角色场内连续性状态服务
// 负责 (场次, 角色) 维度的入场/变更/离场记录，以及跨场景的前序状态解析
type StateService struct {
	productions *ProductionService
	feed        *ChangeFeed
	logger      zerolog.Logger
}

// NewStateService 创建状态服务
func NewStateService(productions *ProductionService, feed *ChangeFeed, logger zerolog.Logger) *StateService {
	return &StateService{
		productions: productions,
		feed:        feed,
		logger:      logger.With().Str("component", "state_service").Logger(),
	}
}

// GetState 获取角色在某场戏的状态记录，无记录时返回 nil
func (s *StateService) GetState(productionID string, sceneIndex int, character string) (*models.CharacterSceneState, error) {
	var result *models.CharacterSceneState

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, scene, err := s.resolveScene(productionID, sceneIndex)
		if err != nil {
			return err
		}
		if !scene.HasCastMember(character) {
			return apperrors.NewCharacterNotFound(character, sceneIndex)
		}

		if state, ok := data.States[stateKey(sceneIndex, character)]; ok {
			result = state.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertState 更新角色在某场戏的状态记录，首次编辑时创建
// 若更新后状态为 no_change，则离场值强制等于入场值且变更字段清空
func (s *StateService) UpsertState(productionID string, sceneIndex int, character string, update models.StateUpdate) (*models.CharacterSceneState, error) {
	var result *models.CharacterSceneState

	err := s.productions.locks.ExecuteWithLock(productionID, func() error {
		data, scene, err := s.resolveScene(productionID, sceneIndex)
		if err != nil {
			return err
		}
		if !scene.HasCastMember(character) {
			return apperrors.NewCharacterNotFound(character, sceneIndex)
		}

		key := stateKey(sceneIndex, character)
		state, exists := data.States[key]
		if !exists {
			state = &models.CharacterSceneState{
				SceneIndex:   sceneIndex,
				Character:    character,
				ChangeStatus: models.ChangeStatusNoChange,
				CreatedAt:    time.Now(),
			}
			data.States[key] = state
		}

		state.ApplyUpdate(update)
		s.normalize(state)
		state.LastUpdated = time.Now()
		data.Production.LastUpdated = state.LastUpdated

		s.productions.saveStates(data)
		s.productions.saveProduction(data)

		result = state.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.feed.Publish(models.ChangeDescriptor{
		ProductionID: productionID,
		Kind:         models.ChangeState,
		Character:    character,
		Scenes:       []int{sceneIndex},
	})

	return result, nil
}

// SetNoChange 将某场戏标记为无变化：离场值回写为入场值，清空变更字段
func (s *StateService) SetNoChange(productionID string, sceneIndex int, character string) (*models.CharacterSceneState, error) {
	status := models.ChangeStatusNoChange
	return s.UpsertState(productionID, sceneIndex, character, models.StateUpdate{ChangeStatus: &status})
}

// MarkHasChanges 标记某场戏存在场内变化，离场字段开放独立编辑
func (s *StateService) MarkHasChanges(productionID string, sceneIndex int, character string) (*models.CharacterSceneState, error) {
	status := models.ChangeStatusHasChanges
	return s.UpsertState(productionID, sceneIndex, character, models.StateUpdate{ChangeStatus: &status})
}

// FindPreviousState 向前扫描，返回角色最近一次有效出场的状态记录
// 只考虑角色在演员表中且记录含有效外观数据的场次；没有更早出场时返回 nil
func (s *StateService) FindPreviousState(productionID string, sceneIndex int, character string) (*models.CharacterSceneState, error) {
	var result *models.CharacterSceneState

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, _, err := s.resolveScene(productionID, sceneIndex)
		if err != nil {
			return err
		}

		for i := sceneIndex - 1; i >= 0; i-- {
			if !data.Scenes[i].HasCastMember(character) {
				continue
			}
			state, ok := data.States[stateKey(i, character)]
			if !ok || !state.HasRecordedState() {
				continue
			}
			result = state.Clone()
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CopyForward 将前序出场的离场外观复制为本场的入场状态
// 每个部门按 exit → enter → legacy 回退链取值；没有前序出场时返回错误
func (s *StateService) CopyForward(productionID string, sceneIndex int, character string) (*models.CharacterSceneState, error) {
	previous, err := s.FindPreviousState(productionID, sceneIndex, character)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, apperrors.NewNoPriorAppearance(character)
	}

	update := models.StateUpdate{}
	for _, dept := range models.Departments {
		value := previous.CarryFor(dept)
		switch dept {
		case models.DeptHair:
			update.EnterHair = &value
		case models.DeptMakeup:
			update.EnterMakeup = &value
		case models.DeptWardrobe:
			update.EnterWardrobe = &value
		case models.DeptCondition:
			update.EnterCondition = &value
		}
	}

	return s.UpsertState(productionID, sceneIndex, character, update)
}

// StatesForScene 返回某场戏全部演员的状态记录，未编辑过的角色值为 nil
func (s *StateService) StatesForScene(productionID string, sceneIndex int) (map[string]*models.CharacterSceneState, error) {
	result := make(map[string]*models.CharacterSceneState)

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, scene, err := s.resolveScene(productionID, sceneIndex)
		if err != nil {
			return err
		}

		for _, character := range scene.Cast {
			if state, ok := data.States[stateKey(sceneIndex, character)]; ok {
				result[character] = state.Clone()
			} else {
				result[character] = nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StatesForCharacter 返回角色按场次升序的全部状态记录
func (s *StateService) StatesForCharacter(productionID, character string) ([]*models.CharacterSceneState, error) {
	var result []*models.CharacterSceneState

	err := s.productions.locks.ExecuteWithReadLock(productionID, func() error {
		data, err := s.productions.loadData(productionID)
		if err != nil {
			return err
		}

		for i, scene := range data.Scenes {
			if !scene.HasCastMember(character) {
				continue
			}
			if state, ok := data.States[stateKey(i, character)]; ok {
				result = append(result, state.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendChangeNote 幂等追加变更备注并标记 has_changes
// 供渐变应用使用，调用方需已持有剧集写锁
func (s *StateService) appendChangeNote(data *ProductionData, sceneIndex int, character, field, note string) *models.CharacterSceneState {
	key := stateKey(sceneIndex, character)
	state, exists := data.States[key]
	if !exists {
		state = &models.CharacterSceneState{
			SceneIndex:   sceneIndex,
			Character:    character,
			ChangeStatus: models.ChangeStatusNoChange,
			CreatedAt:    time.Now(),
		}
		data.States[key] = state
	}

	if !state.HasChangeNote(field, note) {
		state.AppendChangeNote(field, note)
		state.ChangeStatus = models.ChangeStatusHasChanges
		state.LastUpdated = time.Now()
	}
	return state
}

// normalize 维护 no_change 不变式
func (s *StateService) normalize(state *models.CharacterSceneState) {
	if state.ChangeStatus == "" {
		state.ChangeStatus = models.ChangeStatusNoChange
	}
	if state.ChangeStatus == models.ChangeStatusNoChange {
		for _, dept := range models.Departments {
			state.SetExitFor(dept, state.EnterFor(dept))
		}
		state.ClearChanges()
	}
}

func (s *StateService) resolveScene(productionID string, sceneIndex int) (*ProductionData, *models.Scene, error) {
	data, err := s.productions.loadData(productionID)
	if err != nil {
		return nil, nil, err
	}
	if sceneIndex < 0 || sceneIndex >= len(data.Scenes) {
		return nil, nil, apperrors.NewInvalidSceneRange(sceneIndex, len(data.Scenes))
	}
	return data, data.Scenes[sceneIndex], nil
}
