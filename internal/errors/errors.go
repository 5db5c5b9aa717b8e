// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// 领域错误代码，对应引擎操作的失败分类
// 所有错误都是局部且可恢复的：操作在变更前完成校验，失败不留下半成品状态
const (
	CodeNoPriorAppearance         = "NO_PRIOR_APPEARANCE"
	CodeInvalidSceneRange         = "INVALID_SCENE_RANGE"
	CodeInvalidEndScene           = "INVALID_END_SCENE"
	CodeProgressionLengthMismatch = "PROGRESSION_LENGTH_MISMATCH"
	CodeEventNotFound             = "EVENT_NOT_FOUND"
	CodeCharacterNotFound         = "CHARACTER_NOT_FOUND"
	CodeProductionNotFound        = "PRODUCTION_NOT_FOUND"
	CodeSceneNotFound             = "SCENE_NOT_FOUND"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// ------------------------------------------------
// 领域错误构造函数

// NewNoPriorAppearance 角色在此之前没有任何出场记录，无法向前复制
func NewNoPriorAppearance(character string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("角色 %s 没有更早的出场记录，无法复制前序状态", character),
		Code:    CodeNoPriorAppearance,
	}
}

// NewInvalidSceneRange 场景索引越界
func NewInvalidSceneRange(index, sceneCount int) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("场景索引 %d 超出范围 [0, %d)", index, sceneCount),
		Code:    CodeInvalidSceneRange,
	}
}

// NewInvalidEndScene 事件不能在其开始的场景（或更早）结束
func NewInvalidEndScene(scene, startScene int) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("结束场景 %d 必须晚于开始场景 %d", scene, startScene),
		Code:    CodeInvalidEndScene,
	}
}

// NewProgressionLengthMismatch AI渐变阶段数与事件场景跨度不符
func NewProgressionLengthMismatch(want, got int) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("渐变阶段数 %d 与事件场景跨度 %d 不符", got, want),
		Code:    CodeProgressionLengthMismatch,
	}
}

// NewEventNotFound 事件ID无效或已删除
func NewEventNotFound(id string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("连续性事件不存在: %s", id),
		Code:    CodeEventNotFound,
	}
}

// NewCharacterNotFound 角色不在该场戏的演员表中
func NewCharacterNotFound(character string, scene int) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("角色 %s 不在场景 %d 的演员表中", character, scene),
		Code:    CodeCharacterNotFound,
	}
}

// NewProductionNotFound 项目ID无效
func NewProductionNotFound(id string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("项目不存在: %s", id),
		Code:    CodeProductionNotFound,
	}
}

// ------------------------------------------------

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeValidation
	}
	return false
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeNotFound
	}
	return false
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeConflict
	}
	return false
}

// HasCode 检查错误链中是否包含指定领域错误代码
func HasCode(err error, code string) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code == code
	}
	return false
}

// CodeOf 返回错误的领域错误代码，非 AppError 返回空串
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code
	}
	return ""
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
