// internal/services/progression_service_test.go
package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

func TestHealingProgress(t *testing.T) {
	cases := []struct {
		name        string
		startScene  int
		healingDays int
		scene       int
		want        int
	}{
		{"起始场为0", 2, 4, 2, 0},
		{"起始场之前为0", 2, 4, 1, 0},
		{"每过一场按比例递增", 2, 4, 3, 25},
		{"第5场痊愈75%", 2, 4, 5, 75},
		{"封顶100", 2, 4, 20, 100},
		{"默认周期7天", 0, 0, 3, 42},
		{"默认周期满愈合", 0, 0, 7, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := &models.ContinuityEvent{
				StartScene:  tc.startScene,
				HealingDays: tc.healingDays,
			}
			assert.Equal(t, tc.want, HealingProgress(event, tc.scene))
		})
	}
}

func TestHealingStatusIndependentOfLifecycle(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜"}, []string{"安娜"}, []string{"安娜"},
		[]string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character:   "安娜",
		Category:    "injury",
		Description: "左脸颊刀伤",
		StartScene:  0,
		HealingDays: 4,
	})
	require.NoError(t, err)

	// 事件在第2场显式结束，但痊愈进度继续按线性模型计算
	_, err = e.Events.EndEvent(pid, event.ID, 2, "")
	require.NoError(t, err)

	report, err := e.Progression.HealingStatus(pid, event.ID, 5)
	require.NoError(t, err)

	assert.Equal(t, 100, report.Percent, "(5-0)*25 封顶100")
	assert.True(t, report.FullyHealed)
	assert.False(t, report.LifecycleActive, "生命周期已结束")

	report, err = e.Progression.HealingStatus(pid, event.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 50, report.Percent)
	assert.False(t, report.FullyHealed)
	assert.True(t, report.LifecycleActive, "未愈合但仍在生命周期内")
}

func TestApplyProgressionRequiresEndScene(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	_, err = e.Progression.ApplyProgression(pid, event.ID, []string{"A", "B"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestApplyProgressionLengthMismatch(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, event.ID, 2, "")
	require.NoError(t, err)

	// 跨度为3场，只给2个阶段
	_, err = e.Progression.ApplyProgression(pid, event.ID, []string{"A", "B"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProgressionLengthMismatch))
}

func TestApplyProgressionAfterSceneListShrink(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜"}, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, event.ID, 3, "")
	require.NoError(t, err)

	// 场次表整体替换后只剩2场，事件的结束场景落在范围外
	_, err = e.Productions.ReplaceScenes(pid, []*models.Scene{
		{Heading: "INT. 新场景一", Cast: []string{"安娜"}},
		{Heading: "INT. 新场景二", Cast: []string{"安娜"}},
	})
	require.NoError(t, err)

	stages := []string{"鲜红微肿", "开始结痂", "痂皮变暗", "疤痕淡化"}
	_, err = e.Progression.ApplyProgression(pid, event.ID, stages)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidSceneRange))

	// 拒绝发生在任何写入之前，时间线和状态记录都保持原样
	reloaded, err := e.Events.GetEvent(pid, event.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.CachedStages)
	for _, entry := range reloaded.Timeline {
		assert.NotEqual(t, models.SourceGenerated, entry.Source)
	}
	state, err := e.States.GetState(pid, 1, "安娜")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestGenerateProgressionAfterSceneListShrink(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, event.ID, 2, "")
	require.NoError(t, err)

	_, err = e.Productions.ReplaceScenes(pid, []*models.Scene{
		{Heading: "INT. 新场景一", Cast: []string{"安娜"}},
	})
	require.NoError(t, err)

	_, err = e.Progression.GenerateProgression(pid, event.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidSceneRange))
}

func TestApplyProgressionWritesNotesAndTimeline(t *testing.T) {
	e := newTestEngine(t)
	// 安娜出现在第0、1、3场，第2场缺席
	pid := e.newTestProduction(t,
		[]string{"安娜"},
		[]string{"安娜"},
		[]string{"鲍里斯"},
		[]string{"安娜"},
	)

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, event.ID, 3, "")
	require.NoError(t, err)

	stages := []string{"鲜红微肿", "开始结痂", "痂皮变暗", "疤痕淡化"}
	event, err = e.Progression.ApplyProgression(pid, event.ID, stages)
	require.NoError(t, err)

	assert.Equal(t, stages, event.CachedStages)

	// 每场都有generated时间线条目，含安娜缺席的第2场
	// 第0场有创建时的logged条目，按优先规则单独验证
	for i := 1; i < len(stages); i++ {
		entry, ok := event.TimelineAt(i)
		require.True(t, ok, "第%d场应有时间线条目", i)
		assert.Equal(t, stages[i], entry.State)
		assert.Equal(t, models.SourceGenerated, entry.Source)
	}

	// 出场场次写入伤况变更备注并标记has_changes，缺席场次不写
	for _, scene := range []int{0, 1, 3} {
		state, err := e.States.GetState(pid, scene, "安娜")
		require.NoError(t, err)
		require.NotNil(t, state, "第%d场应有状态记录", scene)
		assert.Equal(t, models.ChangeStatusHasChanges, state.ChangeStatus)
		assert.Contains(t, state.ChangeInjuries, "[injury] "+stages[scene])
	}

	t.Run("重复套用幂等", func(t *testing.T) {
		_, err := e.Progression.ApplyProgression(pid, event.ID, stages)
		require.NoError(t, err)

		state, err := e.States.GetState(pid, 0, "安娜")
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(state.ChangeInjuries, stages[0]), "同一备注不重复追加")
	})

	t.Run("第0场logged时间线优先于generated", func(t *testing.T) {
		entry, ok := event.TimelineAt(0)
		require.True(t, ok)
		assert.Equal(t, models.SourceLogged, entry.Source)
		assert.Equal(t, "刀伤", entry.State)
	})
}

func TestApplyProgressionCategoryRouting(t *testing.T) {
	cases := []struct {
		category string
		field    string
	}{
		{"injury", "injuries"},
		{"wardrobe_change", "wardrobe"},
		{"hair_change", "hair"},
		{"makeup_change", "makeup"},
		{"transformation", "makeup"},
		{"prop", "injuries"},
	}

	for _, tc := range cases {
		t.Run(tc.category, func(t *testing.T) {
			assert.Equal(t, tc.field, changeFieldForCategory(models.EventCategory(tc.category)))
		})
	}
}

func TestGenerateProgressionRequiresConfiguredLLM(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, event.ID, 1, "")
	require.NoError(t, err)

	_, err = e.Progression.GenerateProgression(pid, event.ID)
	require.Error(t, err)
}
