// internal/models/scene.go
package models

import (
	"slices"
	"time"
)

// Production 表示一部被跟踪连续性的影视项目
// 它是持久化与归属的基本单元：场景表、角色状态表和连续性事件都挂在它之下
type Production struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	SceneCount  int       `json:"scene_count,omitempty"`
	EventCount  int       `json:"event_count,omitempty"`
}

// Scene 表示剧本中的一场戏
// 由外部导入协作方创建；引擎只读，仅元数据字段可通过 UpdateSceneMeta 修改
type Scene struct {
	Index       int      `json:"index"`  // 0起始的稳定索引
	Number      string   `json:"number"` // 展示用场号，可能与 index+1 不一致
	Heading     string   `json:"heading"`
	StoryDay    string   `json:"story_day,omitempty"`
	TimeOfDay   string   `json:"time_of_day,omitempty"`
	IsFlashback bool     `json:"is_flashback,omitempty"`
	IsDream     bool     `json:"is_dream,omitempty"`
	Cast        []string `json:"cast"` // 出场角色名，按剧本出场顺序
}

// SceneMeta 场景可编辑元数据的部分更新，nil 字段表示保持原值
type SceneMeta struct {
	Number      *string `json:"number,omitempty"`
	Heading     *string `json:"heading,omitempty"`
	StoryDay    *string `json:"story_day,omitempty"`
	TimeOfDay   *string `json:"time_of_day,omitempty"`
	IsFlashback *bool   `json:"is_flashback,omitempty"`
	IsDream     *bool   `json:"is_dream,omitempty"`
}

// Clone 返回剧集信息的拷贝
func (p *Production) Clone() *Production {
	clone := *p
	return &clone
}

// Clone 返回场景的深拷贝
func (s *Scene) Clone() *Scene {
	clone := *s
	clone.Cast = slices.Clone(s.Cast)
	return &clone
}

// HasCastMember 判断角色是否在这场戏的演员表中
func (s *Scene) HasCastMember(name string) bool {
	for _, member := range s.Cast {
		if member == name {
			return true
		}
	}
	return false
}

// ApplyMeta 将部分更新套用到场景元数据上
func (s *Scene) ApplyMeta(meta SceneMeta) {
	if meta.Number != nil {
		s.Number = *meta.Number
	}
	if meta.Heading != nil {
		s.Heading = *meta.Heading
	}
	if meta.StoryDay != nil {
		s.StoryDay = *meta.StoryDay
	}
	if meta.TimeOfDay != nil {
		s.TimeOfDay = *meta.TimeOfDay
	}
	if meta.IsFlashback != nil {
		s.IsFlashback = *meta.IsFlashback
	}
	if meta.IsDream != nil {
		s.IsDream = *meta.IsDream
	}
}
