package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"career-agent-go/internal/indexer"
)

// HandleImportCorpus 导入语料，异步触发索引重建
// POST /admin/v1/corpus?source=api&mode=replace
// mode=replace 时请求体即完整语料，未包含的条目下线
func (h *Handler) HandleImportCorpus(ctx context.Context, c *app.RequestContext) {
	if h.admin == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "未启用语料管理"})
		return
	}
	docs, err := indexer.ParseCorpus(c.Request.Body())
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	source := string(c.Query("source"))
	if source == "" {
		source = "api"
	}
	var opts []indexer.ImportOption
	switch mode := string(c.Query("mode")); mode {
	case "", "merge":
	case "replace":
		opts = append(opts, indexer.WithFullSync())
	default:
		badRequest(c, "mode 只能是 merge 或 replace")
		return
	}
	evt, err := h.admin.Import(ctx, docs, source, opts...)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	resp := utils.H{"imported": len(docs)}
	if evt != nil {
		resp["batch_id"] = evt.BatchID
		resp["retired"] = len(evt.RetiredIDs)
	}
	h.logger.Printf("[Handler] 导入语料 %d 条, source=%s", len(docs), source)
	c.JSON(consts.StatusAccepted, resp)
}

// HandleRebuild 同步重建索引
// POST /admin/v1/index/rebuild
func (h *Handler) HandleRebuild(ctx context.Context, c *app.RequestContext) {
	if h.admin == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "未启用语料管理"})
		return
	}
	info, err := h.admin.Rebuild(ctx, "api")
	if err != nil {
		if errors.Is(err, indexer.ErrNoCorpus) {
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
			return
		}
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, info)
}
