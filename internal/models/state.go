// internal/models/state.go
package models

import (
	"strings"
	"time"
)

// Department 造型部门
type Department string

const (
	DeptHair      Department = "hair"
	DeptMakeup    Department = "makeup"
	DeptWardrobe  Department = "wardrobe"
	DeptCondition Department = "condition" // 身体状况（伤口、污渍等）
)

// Departments 按固定顺序列出所有部门
var Departments = []Department{DeptHair, DeptMakeup, DeptWardrobe, DeptCondition}

// ChangeStatus 场内变更状态
type ChangeStatus string

const (
	ChangeStatusNoChange   ChangeStatus = "no_change"
	ChangeStatusHasChanges ChangeStatus = "has_changes"
)

// CharacterSceneState 某角色在某场戏的连续性记录
// 按 (sceneIndex, character) 唯一；首次编辑时惰性创建
//
// 不变式：ChangeStatus == no_change 时，每个部门的 Exit 值必须等于 Enter 值，
// 且所有 Change* 字段为空
type CharacterSceneState struct {
	SceneIndex int    `json:"scene_index"`
	Character  string `json:"character"`

	// 入场状态
	EnterHair      string `json:"enter_hair,omitempty"`
	EnterMakeup    string `json:"enter_makeup,omitempty"`
	EnterWardrobe  string `json:"enter_wardrobe,omitempty"`
	EnterCondition string `json:"enter_condition,omitempty"`

	ChangeStatus ChangeStatus `json:"change_status,omitempty"`

	// 场内变更日志（自由文本，按部门分列）
	ChangeHair     string `json:"change_hair,omitempty"`
	ChangeMakeup   string `json:"change_makeup,omitempty"`
	ChangeWardrobe string `json:"change_wardrobe,omitempty"`
	ChangeInjuries string `json:"change_injuries,omitempty"`
	ChangeDirt     string `json:"change_dirt,omitempty"`

	// 离场状态
	// ChangeStatus == has_changes 时离场字段独立编辑，引擎不做任何推导
	ExitHair      string `json:"exit_hair,omitempty"`
	ExitMakeup    string `json:"exit_makeup,omitempty"`
	ExitWardrobe  string `json:"exit_wardrobe,omitempty"`
	ExitCondition string `json:"exit_condition,omitempty"`

	// 旧版记录在拆分入场/离场之前只有单一字段
	// 读取老文档时作为回退链的最后一级保留（exit → enter → legacy → ""）
	LegacyHair      string `json:"hair,omitempty"`
	LegacyMakeup    string `json:"makeup,omitempty"`
	LegacyWardrobe  string `json:"wardrobe,omitempty"`
	LegacyCondition string `json:"condition,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Clone 返回状态记录的拷贝，所有字段均为值类型
func (st *CharacterSceneState) Clone() *CharacterSceneState {
	clone := *st
	return &clone
}

// StateUpdate 状态记录的部分更新，nil 字段表示保持原值
type StateUpdate struct {
	EnterHair      *string `json:"enter_hair,omitempty"`
	EnterMakeup    *string `json:"enter_makeup,omitempty"`
	EnterWardrobe  *string `json:"enter_wardrobe,omitempty"`
	EnterCondition *string `json:"enter_condition,omitempty"`

	ChangeStatus *ChangeStatus `json:"change_status,omitempty"`

	ChangeHair     *string `json:"change_hair,omitempty"`
	ChangeMakeup   *string `json:"change_makeup,omitempty"`
	ChangeWardrobe *string `json:"change_wardrobe,omitempty"`
	ChangeInjuries *string `json:"change_injuries,omitempty"`
	ChangeDirt     *string `json:"change_dirt,omitempty"`

	ExitHair      *string `json:"exit_hair,omitempty"`
	ExitMakeup    *string `json:"exit_makeup,omitempty"`
	ExitWardrobe  *string `json:"exit_wardrobe,omitempty"`
	ExitCondition *string `json:"exit_condition,omitempty"`
}

// ApplyUpdate 将部分更新套用到状态记录上，不做不变式归一化
func (st *CharacterSceneState) ApplyUpdate(update StateUpdate) {
	if update.EnterHair != nil {
		st.EnterHair = *update.EnterHair
	}
	if update.EnterMakeup != nil {
		st.EnterMakeup = *update.EnterMakeup
	}
	if update.EnterWardrobe != nil {
		st.EnterWardrobe = *update.EnterWardrobe
	}
	if update.EnterCondition != nil {
		st.EnterCondition = *update.EnterCondition
	}
	if update.ChangeStatus != nil {
		st.ChangeStatus = *update.ChangeStatus
	}
	if update.ChangeHair != nil {
		st.ChangeHair = *update.ChangeHair
	}
	if update.ChangeMakeup != nil {
		st.ChangeMakeup = *update.ChangeMakeup
	}
	if update.ChangeWardrobe != nil {
		st.ChangeWardrobe = *update.ChangeWardrobe
	}
	if update.ChangeInjuries != nil {
		st.ChangeInjuries = *update.ChangeInjuries
	}
	if update.ChangeDirt != nil {
		st.ChangeDirt = *update.ChangeDirt
	}
	if update.ExitHair != nil {
		st.ExitHair = *update.ExitHair
	}
	if update.ExitMakeup != nil {
		st.ExitMakeup = *update.ExitMakeup
	}
	if update.ExitWardrobe != nil {
		st.ExitWardrobe = *update.ExitWardrobe
	}
	if update.ExitCondition != nil {
		st.ExitCondition = *update.ExitCondition
	}
}

// EnterFor 返回指定部门的入场值
func (st *CharacterSceneState) EnterFor(dept Department) string {
	switch dept {
	case DeptHair:
		return st.EnterHair
	case DeptMakeup:
		return st.EnterMakeup
	case DeptWardrobe:
		return st.EnterWardrobe
	case DeptCondition:
		return st.EnterCondition
	}
	return ""
}

// ExitFor 返回指定部门的离场值
func (st *CharacterSceneState) ExitFor(dept Department) string {
	switch dept {
	case DeptHair:
		return st.ExitHair
	case DeptMakeup:
		return st.ExitMakeup
	case DeptWardrobe:
		return st.ExitWardrobe
	case DeptCondition:
		return st.ExitCondition
	}
	return ""
}

// LegacyFor 返回指定部门的旧版单一字段值
func (st *CharacterSceneState) LegacyFor(dept Department) string {
	switch dept {
	case DeptHair:
		return st.LegacyHair
	case DeptMakeup:
		return st.LegacyMakeup
	case DeptWardrobe:
		return st.LegacyWardrobe
	case DeptCondition:
		return st.LegacyCondition
	}
	return ""
}

// CarryFor 返回该部门向后续场景传递的外观值
// 回退链：exit → enter → legacy → ""，兼容拆分前的老数据
func (st *CharacterSceneState) CarryFor(dept Department) string {
	if v := st.ExitFor(dept); v != "" {
		return v
	}
	if v := st.EnterFor(dept); v != "" {
		return v
	}
	return st.LegacyFor(dept)
}

// SetEnterFor 设置指定部门的入场值
func (st *CharacterSceneState) SetEnterFor(dept Department, value string) {
	switch dept {
	case DeptHair:
		st.EnterHair = value
	case DeptMakeup:
		st.EnterMakeup = value
	case DeptWardrobe:
		st.EnterWardrobe = value
	case DeptCondition:
		st.EnterCondition = value
	}
}

// SetExitFor 设置指定部门的离场值
func (st *CharacterSceneState) SetExitFor(dept Department, value string) {
	switch dept {
	case DeptHair:
		st.ExitHair = value
	case DeptMakeup:
		st.ExitMakeup = value
	case DeptWardrobe:
		st.ExitWardrobe = value
	case DeptCondition:
		st.ExitCondition = value
	}
}

// HasRecordedState 判断记录是否包含任何有效外观数据
// 空壳记录不作为前序状态解析的来源
func (st *CharacterSceneState) HasRecordedState() bool {
	for _, dept := range Departments {
		if st.EnterFor(dept) != "" || st.ExitFor(dept) != "" || st.LegacyFor(dept) != "" {
			return true
		}
	}
	return st.ChangeHair != "" || st.ChangeMakeup != "" || st.ChangeWardrobe != "" ||
		st.ChangeInjuries != "" || st.ChangeDirt != ""
}

// ClearChanges 清空所有场内变更字段
func (st *CharacterSceneState) ClearChanges() {
	st.ChangeHair = ""
	st.ChangeMakeup = ""
	st.ChangeWardrobe = ""
	st.ChangeInjuries = ""
	st.ChangeDirt = ""
}

// HasChangeNote 判断某条变更备注是否已存在（按整行精确匹配）
func (st *CharacterSceneState) HasChangeNote(field, note string) bool {
	log := st.changeFieldValue(field)
	for _, line := range strings.Split(log, "\n") {
		if strings.TrimSpace(line) == note {
			return true
		}
	}
	return false
}

// AppendChangeNote 追加一条变更备注到指定字段（换行分隔）
func (st *CharacterSceneState) AppendChangeNote(field, note string) {
	current := st.changeFieldValue(field)
	if current == "" {
		st.setChangeFieldValue(field, note)
		return
	}
	st.setChangeFieldValue(field, current+"\n"+note)
}

func (st *CharacterSceneState) changeFieldValue(field string) string {
	switch field {
	case "hair":
		return st.ChangeHair
	case "makeup":
		return st.ChangeMakeup
	case "wardrobe":
		return st.ChangeWardrobe
	case "injuries":
		return st.ChangeInjuries
	case "dirt":
		return st.ChangeDirt
	}
	return ""
}

func (st *CharacterSceneState) setChangeFieldValue(field, value string) {
	switch field {
	case "hair":
		st.ChangeHair = value
	case "makeup":
		st.ChangeMakeup = value
	case "wardrobe":
		st.ChangeWardrobe = value
	case "injuries":
		st.ChangeInjuries = value
	case "dirt":
		st.ChangeDirt = value
	}
}
