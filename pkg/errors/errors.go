// Package errors 提供统一错误辅助，不依赖 internal（设计 struct.md 4）
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
	// ErrConflict 条件更新未命中（状态已被并发修改）
	ErrConflict = errors.New("conflict")
	// ErrForbidden 调用方无权操作该资源
	ErrForbidden = errors.New("forbidden")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ValidationError 输入字段校验失败；errors.Is(err, ErrInvalidArg) 成立
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is 归入 ErrInvalidArg
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArg
}

// Invalid 构造 ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
