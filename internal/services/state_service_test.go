// internal/services/state_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

func TestUpsertStateCreatesRecord(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	state, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		EnterHair:     strPtr("高马尾"),
		EnterWardrobe: strPtr("蓝色连衣裙"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, state.SceneIndex)
	assert.Equal(t, "安娜", state.Character)
	assert.Equal(t, "高马尾", state.EnterHair)
	assert.Equal(t, models.ChangeStatusNoChange, state.ChangeStatus)

	// no_change 不变式：离场值等于入场值
	assert.Equal(t, "高马尾", state.ExitHair)
	assert.Equal(t, "蓝色连衣裙", state.ExitWardrobe)
	assert.False(t, state.CreatedAt.IsZero())
}

func TestUpsertStateNoChangeClearsChangeFields(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	status := models.ChangeStatusHasChanges
	_, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		EnterHair:    strPtr("高马尾"),
		ChangeStatus: &status,
		ChangeHair:   strPtr("被雨淋湿"),
		ExitHair:     strPtr("湿发披散"),
	})
	require.NoError(t, err)

	state, err := e.States.SetNoChange(pid, 0, "安娜")
	require.NoError(t, err)

	assert.Equal(t, models.ChangeStatusNoChange, state.ChangeStatus)
	assert.Empty(t, state.ChangeHair)
	assert.Equal(t, state.EnterHair, state.ExitHair)
}

func TestUpsertStateValidation(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	t.Run("角色不在演员表", func(t *testing.T) {
		_, err := e.States.UpsertState(pid, 0, "鲍里斯", models.StateUpdate{})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeCharacterNotFound))
	})

	t.Run("场景索引越界", func(t *testing.T) {
		_, err := e.States.UpsertState(pid, 5, "安娜", models.StateUpdate{})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidSceneRange))
	})

	t.Run("剧集不存在", func(t *testing.T) {
		_, err := e.States.UpsertState("missing", 0, "安娜", models.StateUpdate{})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeProductionNotFound))
	})
}

func TestGetStateReturnsNilWhenUnedited(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	state, err := e.States.GetState(pid, 0, "安娜")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFindPreviousStateSkipsGapsAndEmptyRecords(t *testing.T) {
	e := newTestEngine(t)
	// 安娜出现在第0、2、4场，第1、3场缺席
	pid := e.newTestProduction(t,
		[]string{"安娜"},
		[]string{"鲍里斯"},
		[]string{"安娜"},
		[]string{"鲍里斯"},
		[]string{"安娜"},
	)

	_, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		EnterHair: strPtr("高马尾"),
	})
	require.NoError(t, err)

	// 第2场只有空壳记录，不应被选中
	_, err = e.States.UpsertState(pid, 2, "安娜", models.StateUpdate{})
	require.NoError(t, err)

	previous, err := e.States.FindPreviousState(pid, 4, "安娜")
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, 0, previous.SceneIndex)
}

func TestFindPreviousStateFirstAppearance(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	previous, err := e.States.FindPreviousState(pid, 0, "安娜")
	require.NoError(t, err)
	assert.Nil(t, previous)
}

func TestCopyForwardFallbackChain(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	// 发型有离场值，化妆只有入场值，服装只有旧版字段
	status := models.ChangeStatusHasChanges
	_, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		ChangeStatus: &status,
		EnterMakeup:  strPtr("淡妆"),
		ExitHair:     strPtr("湿发披散"),
	})
	require.NoError(t, err)

	// 旧版字段直接写入内存记录，模拟拆分前的老文档
	data, err := e.Productions.loadData(pid)
	require.NoError(t, err)
	data.States[stateKey(0, "安娜")].LegacyWardrobe = "蓝色连衣裙"

	state, err := e.States.CopyForward(pid, 1, "安娜")
	require.NoError(t, err)

	assert.Equal(t, "湿发披散", state.EnterHair, "exit优先")
	assert.Equal(t, "淡妆", state.EnterMakeup, "无exit时回退enter")
	assert.Equal(t, "蓝色连衣裙", state.EnterWardrobe, "无exit/enter时回退旧版字段")
	assert.Empty(t, state.EnterCondition)
}

func TestCopyForwardNoPriorAppearance(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	_, err := e.States.CopyForward(pid, 1, "安娜")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPriorAppearance))
}

func TestStatesForSceneIncludesUneditedCast(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜", "鲍里斯"})

	_, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		EnterHair: strPtr("高马尾"),
	})
	require.NoError(t, err)

	states, err := e.States.StatesForScene(pid, 0)
	require.NoError(t, err)

	require.Len(t, states, 2)
	assert.NotNil(t, states["安娜"])
	assert.Nil(t, states["鲍里斯"])
}

func TestRemoveCastMemberOrphansState(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	_, err := e.States.UpsertState(pid, 0, "安娜", models.StateUpdate{
		EnterHair: strPtr("高马尾"),
	})
	require.NoError(t, err)

	_, err = e.Productions.RemoveCastMember(pid, 0, "安娜")
	require.NoError(t, err)

	// 移出演员表后状态查询不再返回该角色
	_, err = e.States.GetState(pid, 0, "安娜")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCharacterNotFound))

	// 重新加入后记录恢复可见
	_, err = e.Productions.AddCastMember(pid, 0, "安娜")
	require.NoError(t, err)

	state, err := e.States.GetState(pid, 0, "安娜")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "高马尾", state.EnterHair)
}
