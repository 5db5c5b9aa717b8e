// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ContinuityTrackerMCP/internal/config"
	"github.com/Corphon/ContinuityTrackerMCP/internal/llm"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
	"github.com/Corphon/ContinuityTrackerMCP/internal/services"
)

// Handlers 聚合所有HTTP处理器依赖的服务
type Handlers struct {
	Productions *services.ProductionService
	States      *services.StateService
	Events      *services.EventService
	Progression *services.ProgressionService
	Tasks       *services.TaskService
	LLM         *services.LLMService
}

// ------------------------------------------------
// 剧集

type createProductionRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CreateProduction POST /api/productions
func (h *Handlers) CreateProduction(c *gin.Context) {
	var req createProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的请求参数: "+err.Error())
		return
	}

	production, err := h.Productions.CreateProduction(req.Title, req.Description)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondCreated(c, production)
}

// ListProductions GET /api/productions
func (h *Handlers) ListProductions(c *gin.Context) {
	productions, err := h.Productions.ListProductions()
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, productions)
}

// GetProduction GET /api/productions/:id
func (h *Handlers) GetProduction(c *gin.Context) {
	production, err := h.Productions.GetProduction(c.Param("id"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, production)
}

// DeleteProduction DELETE /api/productions/:id
func (h *Handlers) DeleteProduction(c *gin.Context) {
	if err := h.Productions.DeleteProduction(c.Param("id")); err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, gin.H{"deleted": true})
}

// ------------------------------------------------
// 场次

// ReplaceScenes PUT /api/productions/:id/scenes
func (h *Handlers) ReplaceScenes(c *gin.Context) {
	var scenes []*models.Scene
	if err := c.ShouldBindJSON(&scenes); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的场次数据: "+err.Error())
		return
	}

	result, err := h.Productions.ReplaceScenes(c.Param("id"), scenes)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, result)
}

// ListScenes GET /api/productions/:id/scenes
func (h *Handlers) ListScenes(c *gin.Context) {
	scenes, err := h.Productions.Scenes(c.Param("id"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, scenes)
}

// GetScene GET /api/productions/:id/scenes/:scene
func (h *Handlers) GetScene(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	scene, err := h.Productions.GetScene(c.Param("id"), sceneIndex)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, scene)
}

// UpdateSceneMeta PATCH /api/productions/:id/scenes/:scene
func (h *Handlers) UpdateSceneMeta(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	var meta models.SceneMeta
	if err := c.ShouldBindJSON(&meta); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的元数据: "+err.Error())
		return
	}

	scene, err := h.Productions.UpdateSceneMeta(c.Param("id"), sceneIndex, meta)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, scene)
}

type castRequest struct {
	Character string `json:"character" binding:"required"`
}

// AddCastMember POST /api/productions/:id/scenes/:scene/cast
func (h *Handlers) AddCastMember(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	var req castRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的请求参数: "+err.Error())
		return
	}

	scene, err := h.Productions.AddCastMember(c.Param("id"), sceneIndex, req.Character)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, scene)
}

// RemoveCastMember DELETE /api/productions/:id/scenes/:scene/cast/:character
func (h *Handlers) RemoveCastMember(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	scene, err := h.Productions.RemoveCastMember(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, scene)
}

// ListCharacters GET /api/productions/:id/characters
func (h *Handlers) ListCharacters(c *gin.Context) {
	characters, err := h.Productions.Characters(c.Param("id"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, characters)
}

// ------------------------------------------------
// 角色状态

// StatesForScene GET /api/productions/:id/scenes/:scene/states
func (h *Handlers) StatesForScene(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	states, err := h.States.StatesForScene(c.Param("id"), sceneIndex)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, states)
}

// GetState GET /api/productions/:id/scenes/:scene/states/:character
func (h *Handlers) GetState(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	state, err := h.States.GetState(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// UpsertState PUT /api/productions/:id/scenes/:scene/states/:character
func (h *Handlers) UpsertState(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	var update models.StateUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的状态数据: "+err.Error())
		return
	}

	state, err := h.States.UpsertState(c.Param("id"), sceneIndex, c.Param("character"), update)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// SetNoChange POST /api/productions/:id/scenes/:scene/states/:character/no-change
func (h *Handlers) SetNoChange(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	state, err := h.States.SetNoChange(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// MarkHasChanges POST /api/productions/:id/scenes/:scene/states/:character/has-changes
func (h *Handlers) MarkHasChanges(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	state, err := h.States.MarkHasChanges(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// FindPreviousState GET /api/productions/:id/scenes/:scene/states/:character/previous
func (h *Handlers) FindPreviousState(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	state, err := h.States.FindPreviousState(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// CopyForward POST /api/productions/:id/scenes/:scene/states/:character/copy-forward
func (h *Handlers) CopyForward(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}

	state, err := h.States.CopyForward(c.Param("id"), sceneIndex, c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, state)
}

// StatesForCharacter GET /api/productions/:id/characters/:character/states
func (h *Handlers) StatesForCharacter(c *gin.Context) {
	states, err := h.States.StatesForCharacter(c.Param("id"), c.Param("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, states)
}

// ------------------------------------------------
// 连续性事件

// CreateEvent POST /api/productions/:id/events
func (h *Handlers) CreateEvent(c *gin.Context) {
	var input services.EventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的事件数据: "+err.Error())
		return
	}

	event, err := h.Events.CreateEvent(c.Param("id"), input)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondCreated(c, event)
}

// ListEvents GET /api/productions/:id/events
// 支持 ?character= 按角色过滤，?active_at= 按生命周期过滤，?touching= 按涉及场次过滤
func (h *Handlers) ListEvents(c *gin.Context) {
	productionID := c.Param("id")

	if raw := c.Query("touching"); raw != "" {
		scene, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的场景参数: "+raw)
			return
		}
		events, err := h.Events.EventsTouchingScene(productionID, scene)
		if err != nil {
			respondAppError(c, err)
			return
		}
		respondSuccess(c, events)
		return
	}

	if raw := c.Query("active_at"); raw != "" {
		scene, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的场景参数: "+raw)
			return
		}

		character := c.Query("character")
		var events []*models.ContinuityEvent
		if character != "" {
			events, err = h.Events.ActiveEventsForCharacter(productionID, character, scene)
		} else {
			events, err = h.Events.ActiveEventsAt(productionID, scene)
		}
		if err != nil {
			respondAppError(c, err)
			return
		}
		respondSuccess(c, events)
		return
	}

	events, err := h.Events.ListEvents(productionID, c.Query("character"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, events)
}

// GetEvent GET /api/productions/:id/events/:eventId
func (h *Handlers) GetEvent(c *gin.Context) {
	event, err := h.Events.GetEvent(c.Param("id"), c.Param("eventId"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// DeleteEvent DELETE /api/productions/:id/events/:eventId
func (h *Handlers) DeleteEvent(c *gin.Context) {
	if err := h.Events.DeleteEvent(c.Param("id"), c.Param("eventId")); err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, gin.H{"deleted": true})
}

type observationRequest struct {
	Scene       int    `json:"scene"`
	Description string `json:"description"`
}

// RecordObservation PUT /api/productions/:id/events/:eventId/observations
func (h *Handlers) RecordObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的观察数据: "+err.Error())
		return
	}

	event, err := h.Events.RecordObservation(c.Param("id"), c.Param("eventId"), req.Scene, req.Description)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

type endEventRequest struct {
	EndScene         int    `json:"end_scene"`
	FinalObservation string `json:"final_observation"`
}

// EndEvent POST /api/productions/:id/events/:eventId/end
func (h *Handlers) EndEvent(c *gin.Context) {
	var req endEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的请求参数: "+err.Error())
		return
	}

	event, err := h.Events.EndEvent(c.Param("id"), c.Param("eventId"), req.EndScene, req.FinalObservation)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// ReopenEvent POST /api/productions/:id/events/:eventId/reopen
func (h *Handlers) ReopenEvent(c *gin.Context) {
	event, err := h.Events.ReopenEvent(c.Param("id"), c.Param("eventId"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// SetVisibility PUT /api/productions/:id/events/:eventId/visibility
func (h *Handlers) SetVisibility(c *gin.Context) {
	var record models.VisibilityRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的可见性数据: "+err.Error())
		return
	}

	event, err := h.Events.SetVisibility(c.Param("id"), c.Param("eventId"), record)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// RecomputePresence POST /api/productions/:id/events/:eventId/presence/recompute
func (h *Handlers) RecomputePresence(c *gin.Context) {
	event, err := h.Events.RecomputeActorPresence(c.Param("id"), c.Param("eventId"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// ------------------------------------------------
// 渐变与痊愈

// HealingStatus GET /api/productions/:id/events/:eventId/healing?scene=N
func (h *Handlers) HealingStatus(c *gin.Context) {
	scene, err := strconv.Atoi(c.Query("scene"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的场景参数: "+c.Query("scene"))
		return
	}

	report, err := h.Progression.HealingStatus(c.Param("id"), c.Param("eventId"), scene)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, report)
}

type applyProgressionRequest struct {
	Stages []string `json:"stages" binding:"required"`
}

// ApplyProgression POST /api/productions/:id/events/:eventId/progression
func (h *Handlers) ApplyProgression(c *gin.Context) {
	var req applyProgressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的请求参数: "+err.Error())
		return
	}

	event, err := h.Progression.ApplyProgression(c.Param("id"), c.Param("eventId"), req.Stages)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, event)
}

// GenerateProgression POST /api/productions/:id/events/:eventId/progression/generate
func (h *Handlers) GenerateProgression(c *gin.Context) {
	taskID, err := h.Progression.GenerateProgression(c.Param("id"), c.Param("eventId"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: gin.H{"task_id": taskID}})
}

// SuggestAppearance POST /api/productions/:id/scenes/:scene/states/:character/suggest
// 综合前序状态与进行中事件生成入场外观建议
func (h *Handlers) SuggestAppearance(c *gin.Context) {
	sceneIndex, ok := h.sceneParam(c)
	if !ok {
		return
	}
	productionID := c.Param("id")
	character := c.Param("character")

	previous, err := h.States.FindPreviousState(productionID, sceneIndex, character)
	if err != nil {
		respondAppError(c, err)
		return
	}

	activeEvents, err := h.Events.ActiveEventsForCharacter(productionID, character, sceneIndex)
	if err != nil {
		respondAppError(c, err)
		return
	}

	suggestion, err := h.LLM.GenerateAppearanceSuggestion(character, previous, activeEvents)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondSuccess(c, gin.H{"suggestion": suggestion})
}

// GetTask GET /api/tasks/:taskId
func (h *Handlers) GetTask(c *gin.Context) {
	task, exists := h.Tasks.GetTask(c.Param("taskId"))
	if !exists {
		respondError(c, http.StatusNotFound, "TASK_NOT_FOUND", "任务不存在: "+c.Param("taskId"))
		return
	}
	respondSuccess(c, task)
}

// ------------------------------------------------
// LLM配置

// GetLLMConfig GET /api/config/llm
func (h *Handlers) GetLLMConfig(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	respondSuccess(c, gin.H{
		"provider":  cfg.LLMProvider,
		"available": llm.AvailableProviders(),
		"ready":     h.LLM.IsReady(),
	})
}

type updateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Settings map[string]string `json:"settings" binding:"required"`
}

// UpdateLLMConfig PUT /api/config/llm
func (h *Handlers) UpdateLLMConfig(c *gin.Context) {
	var req updateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的配置数据: "+err.Error())
		return
	}

	provider, err := llm.CreateProvider(req.Provider, req.Settings)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PROVIDER", err.Error())
		return
	}

	cfg := config.GetCurrentConfig()
	if err := cfg.UpdateLLMConfig(req.Provider, req.Settings); err != nil {
		respondError(c, http.StatusInternalServerError, "CONFIG_SAVE_FAILED", err.Error())
		return
	}

	h.LLM.SetProvider(provider)
	respondSuccess(c, gin.H{"provider": req.Provider, "ready": true})
}

// ------------------------------------------------

func (h *Handlers) sceneParam(c *gin.Context) (int, bool) {
	sceneIndex, err := strconv.Atoi(c.Param("scene"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "无效的场景索引: "+c.Param("scene"))
		return 0, false
	}
	return sceneIndex, true
}
