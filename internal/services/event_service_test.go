// internal/services/event_service_test.go
package services

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ContinuityTrackerMCP/internal/errors"
	"github.com/Corphon/ContinuityTrackerMCP/internal/models"
)

func TestCreateEventDefaults(t *testing.T) {
	e := newTestEngine(t)
	// 安娜出现在第0、1、3场
	pid := e.newTestProduction(t,
		[]string{"安娜"},
		[]string{"安娜", "鲍里斯"},
		[]string{"鲍里斯"},
		[]string{"安娜"},
	)

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character:   "安娜",
		Category:    "injury",
		Description: "左脸颊刀伤，鲜红微肿",
		StartScene:  0,
	})
	require.NoError(t, err)

	assert.Equal(t, models.EventStatusActive, event.Status)
	assert.Nil(t, event.EndScene)
	assert.Equal(t, 7, event.HealingDays, "未指定时使用默认痊愈周期")

	// 初始描述同时写入观察记录和logged时间线
	obs, ok := event.ObservationAt(0)
	require.True(t, ok)
	assert.Equal(t, "左脸颊刀伤，鲜红微肿", obs.Description)

	entry, ok := event.TimelineAt(0)
	require.True(t, ok)
	assert.Equal(t, models.SourceLogged, entry.Source)

	// 出场集合按演员表计算，跳过缺席场次
	assert.Equal(t, []int{0, 1, 3}, event.ActorPresence)

	// 出场场次默认可见
	for _, scene := range event.ActorPresence {
		assert.Equal(t, models.VisibilityVisible, event.VisibilityAt(scene).Status)
	}
}

func TestCreateEventValidation(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	t.Run("场景越界", func(t *testing.T) {
		_, err := e.Events.CreateEvent(pid, EventInput{
			Character: "安娜", Description: "x", StartScene: 9,
		})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidSceneRange))
	})

	t.Run("角色不在起始场", func(t *testing.T) {
		_, err := e.Events.CreateEvent(pid, EventInput{
			Character: "鲍里斯", Description: "x", StartScene: 0,
		})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeCharacterNotFound))
	})

	t.Run("空类别回退other", func(t *testing.T) {
		event, err := e.Events.CreateEvent(pid, EventInput{
			Character: "安娜", Description: "x", StartScene: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, models.CategoryOther, event.Category)
	})
}

func TestRecordObservationUpsertAndRemove(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	event, err = e.Events.RecordObservation(pid, event.ID, 1, "开始结痂")
	require.NoError(t, err)
	obs, ok := event.ObservationAt(1)
	require.True(t, ok)
	assert.Equal(t, "开始结痂", obs.Description)

	// 同场景重复记录覆盖旧值
	event, err = e.Events.RecordObservation(pid, event.ID, 1, "结痂明显")
	require.NoError(t, err)
	obs, _ = event.ObservationAt(1)
	assert.Equal(t, "结痂明显", obs.Description)

	count := 0
	for _, o := range event.Observations {
		if o.Scene == 1 {
			count++
		}
	}
	assert.Equal(t, 1, count, "同场景只保留一条观察")

	// 空描述删除观察和logged时间线条目
	event, err = e.Events.RecordObservation(pid, event.ID, 1, "")
	require.NoError(t, err)
	_, ok = event.ObservationAt(1)
	assert.False(t, ok)
	_, ok = event.TimelineAt(1)
	assert.False(t, ok)
}

func TestTimelineLoggedWinsOverGenerated(t *testing.T) {
	event := &models.ContinuityEvent{
		Timeline: []models.TimelineEntry{
			{Scene: 2, State: "AI描述", Source: models.SourceGenerated},
			{Scene: 2, State: "现场记录", Source: models.SourceLogged},
		},
	}

	entry, ok := event.TimelineAt(2)
	require.True(t, ok)
	assert.Equal(t, "现场记录", entry.State)
}

func TestEndEvent(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜"}, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 1,
	})
	require.NoError(t, err)

	t.Run("结束场景不得早于或等于起始场", func(t *testing.T) {
		_, err := e.Events.EndEvent(pid, event.ID, 1, "")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidEndScene))

		_, err = e.Events.EndEvent(pid, event.ID, 0, "")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidEndScene))
	})

	t.Run("结束场景必须在范围内", func(t *testing.T) {
		_, err := e.Events.EndEvent(pid, event.ID, 10, "")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidSceneRange))
	})

	t.Run("正常结束", func(t *testing.T) {
		ended, err := e.Events.EndEvent(pid, event.ID, 3, "疤痕基本消退")
		require.NoError(t, err)

		require.NotNil(t, ended.EndScene)
		assert.Equal(t, 3, *ended.EndScene)
		assert.Equal(t, models.EventStatusCompleted, ended.Status)

		obs, ok := ended.ObservationAt(3)
		require.True(t, ok)
		assert.Equal(t, "疤痕基本消退", obs.Description)

		assert.False(t, ended.IsActiveAt(4))
		assert.True(t, ended.IsActiveAt(3))
	})
}

func TestReopenEvent(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	_, err = e.Events.EndEvent(pid, event.ID, 1, "")
	require.NoError(t, err)

	reopened, err := e.Events.ReopenEvent(pid, event.ID)
	require.NoError(t, err)

	assert.Nil(t, reopened.EndScene)
	assert.Equal(t, models.EventStatusActive, reopened.Status)
	assert.True(t, reopened.IsActiveAt(2))
}

func TestSetVisibilityClearsCoverageWhenVisible(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "手臂淤青", StartScene: 0,
	})
	require.NoError(t, err)

	event, err = e.Events.SetVisibility(pid, event.ID, models.VisibilityRecord{
		Scene:    1,
		Status:   models.VisibilityHidden,
		Coverage: "长袖衬衫",
		Note:     "导演要求遮盖",
	})
	require.NoError(t, err)

	rec := event.VisibilityAt(1)
	assert.Equal(t, models.VisibilityHidden, rec.Status)
	assert.Equal(t, "长袖衬衫", rec.Coverage)

	event, err = e.Events.SetVisibility(pid, event.ID, models.VisibilityRecord{
		Scene:  1,
		Status: models.VisibilityVisible,
	})
	require.NoError(t, err)

	rec = event.VisibilityAt(1)
	assert.Equal(t, models.VisibilityVisible, rec.Status)
	assert.Empty(t, rec.Coverage)
	assert.Empty(t, rec.Note)
}

func TestRecomputeActorPresenceAddOnly(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"鲍里斯"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, event.ActorPresence)

	// 把安娜加入第1场后重算，出场集合只增不减
	_, err = e.Productions.AddCastMember(pid, 1, "安娜")
	require.NoError(t, err)

	event, err = e.Events.RecomputeActorPresence(pid, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, event.ActorPresence)

	// 新发现的出场场次补建默认可见的可见性记录
	found := false
	for _, rec := range event.Visibility {
		if rec.Scene == 1 {
			found = true
			assert.Equal(t, models.VisibilityVisible, rec.Status)
		}
	}
	assert.True(t, found)

	// 再移出演员表，已计算的出场不丢失
	_, err = e.Productions.RemoveCastMember(pid, 1, "安娜")
	require.NoError(t, err)

	event, err = e.Events.RecomputeActorPresence(pid, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, event.ActorPresence)
}

func TestDeleteEvent(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	require.NoError(t, e.Events.DeleteEvent(pid, event.ID))

	_, err = e.Events.GetEvent(pid, event.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEventNotFound))

	err = e.Events.DeleteEvent(pid, event.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEventNotFound))
}

func TestEventQueries(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t,
		[]string{"安娜", "鲍里斯"},
		[]string{"安娜", "鲍里斯"},
		[]string{"安娜", "鲍里斯"},
	)

	injury, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)
	_, err = e.Events.EndEvent(pid, injury.ID, 1, "")
	require.NoError(t, err)

	_, err = e.Events.CreateEvent(pid, EventInput{
		Character: "鲍里斯", Category: "wardrobe_change", Description: "换上军装", StartScene: 1,
	})
	require.NoError(t, err)

	t.Run("按角色过滤", func(t *testing.T) {
		events, err := e.Events.ListEvents(pid, "安娜")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, injury.ID, events[0].ID)
	})

	t.Run("按生命周期过滤", func(t *testing.T) {
		events, err := e.Events.ActiveEventsAt(pid, 2)
		require.NoError(t, err)
		require.Len(t, events, 1, "已结束的伤口事件不再覆盖第2场")
		assert.Equal(t, models.CategoryWardrobeChange, events[0].Category)

		events, err = e.Events.ActiveEventsAt(pid, 1)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("按角色与场次过滤", func(t *testing.T) {
		events, err := e.Events.ActiveEventsForCharacter(pid, "安娜", 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, injury.ID, events[0].ID)
	})

	t.Run("涉及场次查询包含已结束事件", func(t *testing.T) {
		events, err := e.Events.EventsTouchingScene(pid, 1)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestGetEventReturnsDetachedCopy(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	// 修改读取到的副本不影响服务内部数据
	got, err := e.Events.GetEvent(pid, event.ID)
	require.NoError(t, err)
	got.Description = "被篡改"
	got.Observations = append(got.Observations, models.Observation{Scene: 2, Description: "被篡改"})

	reloaded, err := e.Events.GetEvent(pid, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "刀伤", reloaded.Description)
	assert.Len(t, reloaded.Observations, 1)

	// 后续写入不改变之前读取到的副本
	held, err := e.Events.GetEvent(pid, event.ID)
	require.NoError(t, err)
	_, err = e.Events.RecordObservation(pid, event.ID, 1, "开始结痂")
	require.NoError(t, err)
	assert.Len(t, held.Observations, 1)
}

func TestEventConcurrentReadWrite(t *testing.T) {
	e := newTestEngine(t)
	pid := e.newTestProduction(t, []string{"安娜"}, []string{"安娜"}, []string{"安娜"})

	event, err := e.Events.CreateEvent(pid, EventInput{
		Character: "安娜", Category: "injury", Description: "刀伤", StartScene: 0,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := e.Events.RecordObservation(pid, event.ID, 1+i%2, "观察"+strconv.Itoa(i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			got, err := e.Events.GetEvent(pid, event.ID)
			if err != nil {
				t.Error(err)
				return
			}
			for _, obs := range got.Observations {
				_ = obs.Description
			}
		}
	}()

	wg.Wait()
}
