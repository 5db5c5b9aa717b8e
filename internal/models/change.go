// internal/models/change.go
package models

import (
	"time"
)

// ChangeKind 变更描述符类型
type ChangeKind string

const (
	ChangeScenesReplaced ChangeKind = "scenes_replaced"
	ChangeSceneMeta      ChangeKind = "scene_meta"
	ChangeCast           ChangeKind = "cast"
	ChangeState          ChangeKind = "state"
	ChangeEvent          ChangeKind = "event"
	ChangeEventDeleted   ChangeKind = "event_deleted"
	ChangeProgression    ChangeKind = "progression"
	ChangeProduction     ChangeKind = "production"
)

// ChangeDescriptor 描述一次引擎变更
// 每个成功的写操作发布一条；展示层订阅后自行决定刷新范围，
// 引擎不直接回调任何展示代码
type ChangeDescriptor struct {
	ProductionID string     `json:"production_id"`
	Kind         ChangeKind `json:"kind"`
	Character    string     `json:"character,omitempty"`
	Scenes       []int      `json:"scenes,omitempty"`
	EventID      string     `json:"event_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
