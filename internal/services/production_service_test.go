// internal/services/production_service_test.go
package services

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
	"github.com/Corphon/ContinuityTrackerMCP/internal/storage"
)

func TestCreateAndListProductions(t *testing.T) {
	e := newTestEngine(t)

	first, err := e.Productions.CreateProduction("剧集一", "测试描述")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = e.Productions.CreateProduction("剧集二", "")
	require.NoError(t, err)

	productions, err := e.Productions.ListProductions()
	require.NoError(t, err)
	require.Len(t, productions, 2)
	assert.Equal(t, "剧集一", productions[0].Title)

	t.Run("标题必填", func(t *testing.T) {
		_, err := e.Productions.CreateProduction("", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidationError(err))
	})
}

func TestReplaceScenesReindexes(t *testing.T) {
	e := newTestEngine(t)

	production, err := e.Productions.CreateProduction("测试剧集", "")
	require.NoError(t, err)

	scenes, err := e.Productions.ReplaceScenes(production.ID, []*models.Scene{
		{Index: 99, Number: "1", Heading: "INT. 厨房"},
		{Index: 42, Number: "1A", Heading: "EXT. 街道"},
	})
	require.NoError(t, err)

	// 索引按传入顺序重编为0..n-1，展示场号保持原样
	assert.Equal(t, 0, scenes[0].Index)
	assert.Equal(t, 1, scenes[1].Index)
	assert.Equal(t, "1A", scenes[1].Number)

	updated, err := e.Productions.GetProduction(production.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.SceneCount)
}

func TestUpdateSceneMetaPartial(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	flashback := true
	scene, err := e.Productions.UpdateSceneMeta(pid, 0, models.SceneMeta{
		StoryDay:    strPtr("第3天"),
		IsFlashback: &flashback,
	})
	require.NoError(t, err)

	assert.Equal(t, "第3天", scene.StoryDay)
	assert.True(t, scene.IsFlashback)
	assert.Equal(t, "INT. 测试场景", scene.Heading, "未传入的字段保持原值")
}

func TestCharactersAggregation(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜", "鲍里斯"},
		[]string{"安娜", "维拉"},
	)

	characters, err := e.Productions.Characters(pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"安娜", "维拉", "鲍里斯"}, characters)
}

func TestDeleteProduction(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	require.NoError(t, e.Productions.DeleteProduction(pid))

	_, err := e.Productions.GetProduction(pid)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProductionNotFound))
}

func TestDataSurvivesReload(t *testing.T) {
	logger := zerolog.Nop()
	dir := t.TempDir()

	fs, err := storage.NewFileStorage(dir, logger)
	require.NoError(t, err)

	feed := NewChangeFeed(logger)
	productions := NewProductionService(fs, feed, logger)
	states := NewStateService(productions, feed, logger)
	events := NewEventService(productions, feed, logger)

	production, err := productions.CreateProduction("持久化测试", "")
	require.NoError(t, err)

	_, err = productions.ReplaceScenes(production.ID, []*models.Scene{
		{Heading: "INT. 厨房", Cast: []string{"安娜"}},
		{Heading: "EXT. 街道", Cast: []string{"安娜"}},
	})
	require.NoError(t, err)

	_, err = states.UpsertState(production.ID, 0, "安娜", models.StateUpdate{
		EnterHair: strPtr("高马尾"),
	})
	require.NoError(t, err)

	event, err := events.CreateEvent(production.ID, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	// 以同一数据目录重建服务，模拟进程重启
	fs2, err := storage.NewFileStorage(dir, logger)
	require.NoError(t, err)

	reloaded := NewProductionService(fs2, NewChangeFeed(logger), logger)

	loaded, err := reloaded.GetProduction(production.ID)
	require.NoError(t, err)
	assert.Equal(t, "持久化测试", loaded.Title)

	scenes, err := reloaded.Scenes(production.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	reloadedStates := NewStateService(reloaded, NewChangeFeed(logger), logger)
	state, err := reloadedStates.GetState(production.ID, 0, "安娜")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "高马尾", state.EnterHair)

	reloadedEvents := NewEventService(reloaded, NewChangeFeed(logger), logger)
	loadedEvent, err := reloadedEvents.GetEvent(production.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "刀伤", loadedEvent.Description)
	assert.Equal(t, []int{0, 1}, loadedEvent.ActorPresence)
}
