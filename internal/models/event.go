// internal/models/event.go
package models

import (
	"slices"
	"sort"
	"time"
)

// EventCategory 连续性事件类别
// 开放式标签：预置常量覆盖常见类别，未知值按 other 处理
type EventCategory string

const (
	CategoryInjury         EventCategory = "injury"
	CategoryWardrobeChange EventCategory = "wardrobe_change"
	CategoryTransformation EventCategory = "transformation"
	CategoryHairChange     EventCategory = "hair_change"
	CategoryMakeupChange   EventCategory = "makeup_change"
	CategoryProp           EventCategory = "prop"
	CategoryOther          EventCategory = "other"
)

// NormalizeCategory 空值回退到 other，其余原样保留
func NormalizeCategory(raw string) EventCategory {
	if raw == "" {
		return CategoryOther
	}
	return EventCategory(raw)
}

// EventStatus 事件生命周期状态
type EventStatus string

const (
	EventStatusActive    EventStatus = "active"
	EventStatusCompleted EventStatus = "completed"
)

// TimelineSource 时间线条目来源
type TimelineSource string

const (
	SourceLogged    TimelineSource = "logged"    // 用户录入，同场景下永远优先
	SourceGenerated TimelineSource = "generated" // AI生成
)

// Observation 用户在某场戏记录的观察条目
type Observation struct {
	Scene       int       `json:"scene"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// TimelineEntry 事件时间线上某场戏的状态描述
type TimelineEntry struct {
	Scene  int            `json:"scene"`
	State  string         `json:"state"`
	Source TimelineSource `json:"source"`
}

// VisibilityStatus 某场戏中事件的可见性
type VisibilityStatus string

const (
	VisibilityVisible VisibilityStatus = "visible"
	VisibilityHidden  VisibilityStatus = "hidden"
)

// VisibilityRecord 某场戏的可见性记录
// Coverage 记录遮盖手段（绷带、服装、粉底等），仅 hidden 时有意义
type VisibilityRecord struct {
	Scene    int              `json:"scene"`
	Status   VisibilityStatus `json:"status"`
	Coverage string           `json:"coverage,omitempty"`
	Note     string           `json:"note,omitempty"`
}

// ContinuityEvent 连续性事件：跨场景持续存在或渐愈的外观变化
// （伤口、换装、形象转变等）
//
// 不变式：EndScene 非空时必须 >= StartScene；Status == completed 当且仅当
// EndScene 已设置
type ContinuityEvent struct {
	ID          string        `json:"id"`
	Character   string        `json:"character"`
	Category    EventCategory `json:"category"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description"`

	StartScene int         `json:"start_scene"`
	EndScene   *int        `json:"end_scene,omitempty"` // nil = 进行中
	Status     EventStatus `json:"status"`

	// 线性痊愈模型的天数参数，与显式生命周期相互独立
	HealingDays int `json:"healing_days"`

	Observations  []Observation      `json:"observations"`
	Timeline      []TimelineEntry    `json:"timeline"`
	ActorPresence []int              `json:"actor_presence"`
	Visibility    []VisibilityRecord `json:"visibility"`

	// 最近一次应用的AI渐变阶段缓存，仅用于重试与展示
	CachedStages []string `json:"cached_stages,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Clone 返回事件的深拷贝
// 读查询只返回拷贝，存储中的记录不会被锁外的调用方观察或修改
func (e *ContinuityEvent) Clone() *ContinuityEvent {
	clone := *e
	if e.EndScene != nil {
		end := *e.EndScene
		clone.EndScene = &end
	}
	clone.Observations = slices.Clone(e.Observations)
	clone.Timeline = slices.Clone(e.Timeline)
	clone.ActorPresence = slices.Clone(e.ActorPresence)
	clone.Visibility = slices.Clone(e.Visibility)
	clone.CachedStages = slices.Clone(e.CachedStages)
	return &clone
}

// IsActiveAt 判断事件生命周期是否覆盖某场戏
func (e *ContinuityEvent) IsActiveAt(scene int) bool {
	if scene < e.StartScene {
		return false
	}
	return e.EndScene == nil || scene <= *e.EndScene
}

// ObservationAt 返回某场戏的观察条目
func (e *ContinuityEvent) ObservationAt(scene int) (Observation, bool) {
	for _, obs := range e.Observations {
		if obs.Scene == scene {
			return obs, true
		}
	}
	return Observation{}, false
}

// TimelineAt 返回某场戏的时间线条目（logged 优先于 generated）
func (e *ContinuityEvent) TimelineAt(scene int) (TimelineEntry, bool) {
	var generated *TimelineEntry
	for i, entry := range e.Timeline {
		if entry.Scene != scene {
			continue
		}
		if entry.Source == SourceLogged {
			return entry, true
		}
		generated = &e.Timeline[i]
	}
	if generated != nil {
		return *generated, true
	}
	return TimelineEntry{}, false
}

// VisibilityAt 返回某场戏的可见性记录，未记录时默认可见
func (e *ContinuityEvent) VisibilityAt(scene int) VisibilityRecord {
	for _, rec := range e.Visibility {
		if rec.Scene == scene {
			return rec
		}
	}
	return VisibilityRecord{Scene: scene, Status: VisibilityVisible}
}

// HasPresenceAt 判断角色在某场戏是否在演员表中（按已计算的出场集合）
func (e *ContinuityEvent) HasPresenceAt(scene int) bool {
	for _, s := range e.ActorPresence {
		if s == scene {
			return true
		}
	}
	return false
}

// TouchesScene 判断事件的任何记录是否涉及某场戏
func (e *ContinuityEvent) TouchesScene(scene int) bool {
	if e.StartScene == scene {
		return true
	}
	if e.EndScene != nil && *e.EndScene == scene {
		return true
	}
	if e.HasPresenceAt(scene) {
		return true
	}
	if _, ok := e.ObservationAt(scene); ok {
		return true
	}
	if _, ok := e.TimelineAt(scene); ok {
		return true
	}
	for _, rec := range e.Visibility {
		if rec.Scene == scene {
			return true
		}
	}
	return false
}

// SortRecords 保持观察、时间线、可见性按场景升序
func (e *ContinuityEvent) SortRecords() {
	sort.Slice(e.Observations, func(i, j int) bool {
		return e.Observations[i].Scene < e.Observations[j].Scene
	})
	sort.Slice(e.Timeline, func(i, j int) bool {
		if e.Timeline[i].Scene != e.Timeline[j].Scene {
			return e.Timeline[i].Scene < e.Timeline[j].Scene
		}
		// 同场景 logged 在前
		return e.Timeline[i].Source == SourceLogged && e.Timeline[j].Source != SourceLogged
	})
	sort.Slice(e.Visibility, func(i, j int) bool {
		return e.Visibility[i].Scene < e.Visibility[j].Scene
	})
	sort.Ints(e.ActorPresence)
}
