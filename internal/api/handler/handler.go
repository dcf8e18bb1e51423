package handler

import (
	"context"
	"io"
	"log"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"

	"career-agent-go/internal/index"
	"career-agent-go/internal/indexer"
	"career-agent-go/internal/processor"
	"career-agent-go/internal/storage"
	"career-agent-go/internal/types"
)

const defaultMaxUploadMB = 10

// Recommender 推荐流水线，由 processor.Pipeline 实现
type Recommender interface {
	Recommend(ctx context.Context, req processor.Request) (*processor.Result, error)
	RecommendBatch(ctx context.Context, reqs []processor.Request) (*processor.BatchResult, error)
	Search(ctx context.Context, req processor.SearchRequest) (*processor.SearchResult, error)
	Ask(ctx context.Context, req processor.Request, question string) (*processor.ChatResult, error)
}

// IndexStatus 当前索引代信息，由 index.Store 实现
type IndexStatus interface {
	Status() (index.Info, error)
}

// CorpusAdmin 语料导入与索引重建，由 indexer.Rebuilder 实现
type CorpusAdmin interface {
	Import(ctx context.Context, docs []types.CorpusDocument, source string, opts ...indexer.ImportOption) (*storage.CorpusUpdatedMessage, error)
	Rebuild(ctx context.Context, reason string) (index.Info, error)
}

// Handler HTTP 处理器，只做参数解析与错误映射，业务逻辑在流水线中
type Handler struct {
	recommender Recommender
	index       IndexStatus
	admin       CorpusAdmin
	validate    *validator.Validate
	maxUpload   int64
	logger      *log.Logger
}

// Option 配置选项
type Option func(*Handler)

// WithCorpusAdmin 启用管理接口
func WithCorpusAdmin(a CorpusAdmin) Option {
	return func(h *Handler) { h.admin = a }
}

// WithMaxUploadMB 上传文件大小上限
func WithMaxUploadMB(mb int) Option {
	return func(h *Handler) {
		if mb > 0 {
			h.maxUpload = int64(mb) << 20
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler 创建处理器
func NewHandler(recommender Recommender, status IndexStatus, opts ...Option) *Handler {
	h := &Handler{
		recommender: recommender,
		index:       status,
		validate:    validator.New(),
		maxUpload:   defaultMaxUploadMB << 20,
		logger:      log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleHealth 健康检查
// GET /health
func (h *Handler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	resp := utils.H{"status": "ok"}
	if h.index != nil {
		if info, err := h.index.Status(); err == nil {
			resp["generation_id"] = info.GenerationID
		} else {
			resp["index"] = "unavailable"
		}
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleIndexStatus 当前索引代状态
// GET /api/v1/index/status
func (h *Handler) HandleIndexStatus(ctx context.Context, c *app.RequestContext) {
	if h.index == nil {
		h.writeError(ctx, c, &types.IndexUnavailableError{})
		return
	}
	info, err := h.index.Status()
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, info)
}
