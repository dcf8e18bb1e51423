package types

import (
	"errors"
	"fmt"
	"time"
)

// 基础错误类型，配合 errors.Is 使用
var (
	ErrUnreadableDocument = errors.New("unreadable document")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrIndexUnavailable   = errors.New("index unavailable")
	ErrCapabilityTimeout  = errors.New("capability timeout")
)

// UnreadableDocumentError 输入不是可识别的文档，或已加密且未提供密码
type UnreadableDocumentError struct {
	Reason    string
	Encrypted bool
	Err       error
}

func (e *UnreadableDocumentError) Error() string {
	msg := "unreadable document: " + e.Reason
	if e.Encrypted {
		msg += " (encrypted)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnreadableDocumentError) Unwrap() error { return e.Err }

func (e *UnreadableDocumentError) Is(target error) bool {
	return target == ErrUnreadableDocument
}

// InvalidQueryError 查询维度不匹配或参数非法
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return "invalid query: " + e.Reason }

func (e *InvalidQueryError) Is(target error) bool { return target == ErrInvalidQuery }

// NewInvalidQueryError 构造 InvalidQueryError
func NewInvalidQueryError(format string, args ...any) error {
	return &InvalidQueryError{Reason: fmt.Sprintf(format, args...)}
}

// IndexUnavailableError 当前没有可用的索引代，可在构建完成后重试
type IndexUnavailableError struct{}

func (e *IndexUnavailableError) Error() string {
	return "index unavailable: no active generation published"
}

func (e *IndexUnavailableError) Is(target error) bool { return target == ErrIndexUnavailable }

// CapabilityTimeoutError embed/generate 调用超出预算
type CapabilityTimeoutError struct {
	Capability string
	Timeout    time.Duration
	Err        error
}

func (e *CapabilityTimeoutError) Error() string {
	return fmt.Sprintf("%s capability timed out after %s", e.Capability, e.Timeout)
}

func (e *CapabilityTimeoutError) Unwrap() error { return e.Err }

func (e *CapabilityTimeoutError) Is(target error) bool { return target == ErrCapabilityTimeout }
