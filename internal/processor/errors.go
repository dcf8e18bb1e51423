package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrIngestFailed    = errors.New("文档解析失败")
	ErrExtractFailed   = errors.New("技能抽取失败")
	ErrAnalyzeFailed   = errors.New("差距分析失败")
	ErrRetrieveFailed  = errors.New("语料检索失败")
	ErrTargetNotFound  = errors.New("目标岗位不存在")
	ErrTargetMissing   = errors.New("未指定目标岗位或技能画像")
	ErrProfileNotFound = errors.New("简历画像不存在")
)

// PipelineError 包含组件与请求标识的自定义错误
type PipelineError struct {
	RequestID string
	Component string
	Op        string
	BaseErr   error
	Detail    string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (组件:%s, 操作:%s, 请求:%s): %s", e.BaseErr, e.Component, e.Op, e.RequestID, e.Detail)
	}
	return fmt.Sprintf("%s (组件:%s, 操作:%s, 请求:%s)", e.BaseErr, e.Component, e.Op, e.RequestID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数。cause 非空时保留在错误链中，errors.Is 可同时匹配类型化错误。
func NewIngestError(requestID string, cause error) error {
	return newPipelineError(requestID, "DocumentIngestor", "parse", ErrIngestFailed, cause)
}

func NewExtractError(requestID string, cause error) error {
	return newPipelineError(requestID, "SkillExtractor", "extract", ErrExtractFailed, cause)
}

func NewAnalyzeError(requestID string, cause error) error {
	return newPipelineError(requestID, "SkillGapAnalyzer", "analyze", ErrAnalyzeFailed, cause)
}

func NewRetrieveError(requestID string, cause error) error {
	return newPipelineError(requestID, "HybridRetriever", "retrieve", ErrRetrieveFailed, cause)
}

func newPipelineError(requestID, component, op string, base, cause error) error {
	e := &PipelineError{RequestID: requestID, Component: component, Op: op, BaseErr: base}
	if cause != nil {
		e.BaseErr = fmt.Errorf("%w: %w", base, cause)
	}
	return e
}
