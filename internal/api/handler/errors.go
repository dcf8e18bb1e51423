package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"

	"career-agent-go/internal/indexer"
	"career-agent-go/internal/processor"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

// StatusFor 将领域错误映射为 HTTP 状态码
func StatusFor(err error) int {
	var corpusErr *indexer.CorpusValidationError
	switch {
	case errors.Is(err, types.ErrUnreadableDocument):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInvalidQuery),
		errors.Is(err, processor.ErrTargetNotFound),
		errors.Is(err, processor.ErrTargetMissing),
		errors.As(err, &corpusErr):
		return consts.StatusBadRequest
	case errors.Is(err, types.ErrIndexUnavailable):
		return consts.StatusServiceUnavailable
	case errors.Is(err, indexer.ErrRebuildInProgress):
		return consts.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return consts.StatusGatewayTimeout
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 输出 {"error": ...}；5xx 不向客户端暴露内部细节
func (h *Handler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := StatusFor(err)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)

	msg := err.Error()
	if status == consts.StatusInternalServerError {
		h.logger.Printf("[Handler] %s %s 失败: %v", c.Method(), c.Path(), err)
		msg = "内部错误"
	}
	body := utils.H{"error": msg}
	var pe *processor.PipelineError
	if errors.As(err, &pe) {
		body["request_id"] = pe.RequestID
		body["component"] = pe.Component
	}
	var ve *indexer.CorpusValidationError
	if errors.As(err, &ve) {
		body["details"] = ve.Errors
	}
	c.JSON(status, body)
}

func badRequest(c *app.RequestContext, msg string) {
	c.JSON(consts.StatusBadRequest, utils.H{"error": msg})
}
