// internal/services/helpers_test.go
package services

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
	"github.com/Corphon/ContinuityTrackerMCP/internal/storage"
)

// testEngine 组装一套基于临时目录的完整服务
type testEngine struct {
	Productions *ProductionService
	States      *StateService
	Events      *EventService
	Progression *ProgressionService
	Tasks       *TaskService
	LLM         *LLMService
	Feed        *ChangeFeed
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := zerolog.Nop()
	fs, err := storage.NewFileStorage(t.TempDir(), logger)
	require.NoError(t, err)

	feed := NewChangeFeed(logger)
	productions := NewProductionService(fs, feed, logger)
	states := NewStateService(productions, feed, logger)
	events := NewEventService(productions, feed, logger)
	tasks := NewTaskService(logger)
	llm := NewEmptyLLMService(logger)
	progression := NewProgressionService(productions, states, events, tasks, llm, feed, logger)

	return &testEngine{
		Productions: productions,
		States:      states,
		Events:      events,
		Progression: progression,
		Tasks:       tasks,
		LLM:         llm,
		Feed:        feed,
	}
}

// newTestProduction 创建一部剧集并填充场次
// casts[i] 为第i场的演员表
func (e *testEngine) newTestProduction(t *testing.T, casts ...[]string) string {
	t.Helper()

	production, err := e.Productions.CreateProduction("测试剧集", "")
	require.NoError(t, err)

	scenes := make([]*models.Scene, len(casts))
	for i, cast := range casts {
		scenes[i] = &models.Scene{
			Number:  "场" + string(rune('A'+i)),
			Heading: "INT. 测试场景",
			Cast:    cast,
		}
	}

	_, err = e.Productions.ReplaceScenes(production.ID, scenes)
	require.NoError(t, err)

	return production.ID
}

func strPtr(s string) *string {
	return &s
}
