package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"career-agent-go/internal/processor"
	"career-agent-go/internal/types"
)

// RecommendBody JSON 形式的推荐请求，文档以 base64 编码
type RecommendBody struct {
	Group          string              `json:"group"`
	DocumentBase64 string              `json:"document_base64" validate:"required"`
	Password       string              `json:"password"`
	TargetRole     string              `json:"target_role"`
	TargetProfile  types.TargetProfile `json:"target_profile"`
	K              int                 `json:"k" validate:"gte=0,lte=100"`
}

// BatchBody 批量推荐请求
type BatchBody struct {
	Requests []RecommendBody `json:"requests" validate:"required,min=1,max=64,dive"`
}

// RetrieveBody 直接检索请求
type RetrieveBody struct {
	Text   string   `json:"text"`
	Skills []string `json:"skills"`
	K      int      `json:"k" validate:"gte=0,lte=100"`
	Kinds  []string `json:"kinds" validate:"dive,oneof=job course"`
}

// ChatBody 职业问答请求
type ChatBody struct {
	Question       string `json:"question" validate:"required,max=4000"`
	DocumentBase64 string `json:"document_base64"`
	Password       string `json:"password"`
	K              int    `json:"k" validate:"gte=0,lte=20"`
}

// HandleRecommend 单份简历推荐
// POST /api/v1/recommend
// multipart: file, target_role, target_profile(JSON), k, password
// 或 application/json: RecommendBody
func (h *Handler) HandleRecommend(ctx context.Context, c *app.RequestContext) {
	var req processor.Request
	var err error
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		req, err = h.requestFromForm(c)
	} else {
		var body RecommendBody
		if err = json.Unmarshal(c.Request.Body(), &body); err != nil {
			badRequest(c, "请求体不是合法JSON")
			return
		}
		req, err = h.requestFromBody(body)
	}
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	req.RequestID = string(c.GetHeader("X-Request-ID"))

	res, err := h.recommender.Recommend(ctx, req)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// HandleRecommendBatch 批量推荐，附带公平性报告
// POST /api/v1/recommend/batch
func (h *Handler) HandleRecommendBatch(ctx context.Context, c *app.RequestContext) {
	var body BatchBody
	if err := json.Unmarshal(c.Request.Body(), &body); err != nil {
		badRequest(c, "请求体不是合法JSON")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		badRequest(c, err.Error())
		return
	}
	reqs := make([]processor.Request, 0, len(body.Requests))
	for i, rb := range body.Requests {
		req, err := h.requestFromBody(rb)
		if err != nil {
			badRequest(c, fmt.Sprintf("requests[%d]: %v", i, err))
			return
		}
		reqs = append(reqs, req)
	}

	res, err := h.recommender.RecommendBatch(ctx, reqs)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// HandleRetrieve 自由文本或技能检索
// POST /api/v1/retrieve
func (h *Handler) HandleRetrieve(ctx context.Context, c *app.RequestContext) {
	var body RetrieveBody
	if err := json.Unmarshal(c.Request.Body(), &body); err != nil {
		badRequest(c, "请求体不是合法JSON")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		badRequest(c, err.Error())
		return
	}
	req := processor.SearchRequest{
		RequestID: string(c.GetHeader("X-Request-ID")),
		Text:      strings.TrimSpace(body.Text),
		Skills:    body.Skills,
		K:         body.K,
	}
	for _, k := range body.Kinds {
		req.Kinds = append(req.Kinds, types.CorpusKind(k))
	}

	res, err := h.recommender.Search(ctx, req)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// HandleChat 职业问答，简历可选
// POST /api/v1/chat
func (h *Handler) HandleChat(ctx context.Context, c *app.RequestContext) {
	var body ChatBody
	if err := json.Unmarshal(c.Request.Body(), &body); err != nil {
		badRequest(c, "请求体不是合法JSON")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		badRequest(c, err.Error())
		return
	}
	req := processor.Request{
		RequestID: string(c.GetHeader("X-Request-ID")),
		Password:  body.Password,
		K:         body.K,
	}
	if body.DocumentBase64 != "" {
		doc, err := base64.StdEncoding.DecodeString(body.DocumentBase64)
		if err != nil {
			badRequest(c, fmt.Sprintf("document_base64 解码失败: %v", err))
			return
		}
		if int64(len(doc)) > h.maxUpload {
			badRequest(c, fmt.Sprintf("文档超过大小上限 %d 字节", h.maxUpload))
			return
		}
		req.Document = doc
	}

	res, err := h.recommender.Ask(ctx, req, strings.TrimSpace(body.Question))
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

func (h *Handler) requestFromBody(body RecommendBody) (processor.Request, error) {
	if err := h.validate.Struct(body); err != nil {
		return processor.Request{}, err
	}
	doc, err := base64.StdEncoding.DecodeString(body.DocumentBase64)
	if err != nil {
		return processor.Request{}, fmt.Errorf("document_base64 解码失败: %w", err)
	}
	if int64(len(doc)) > h.maxUpload {
		return processor.Request{}, fmt.Errorf("文档超过大小上限 %d 字节", h.maxUpload)
	}
	return processor.Request{
		Document:      doc,
		Password:      body.Password,
		TargetRole:    body.TargetRole,
		TargetProfile: body.TargetProfile,
		K:             body.K,
		Group:         body.Group,
	}, nil
}

func (h *Handler) requestFromForm(c *app.RequestContext) (processor.Request, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return processor.Request{}, fmt.Errorf("文件未找到")
	}
	if fileHeader.Size > h.maxUpload {
		return processor.Request{}, fmt.Errorf("文件超过大小上限 %d 字节", h.maxUpload)
	}
	f, err := fileHeader.Open()
	if err != nil {
		return processor.Request{}, fmt.Errorf("打开文件失败")
	}
	defer f.Close()
	doc, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return processor.Request{}, fmt.Errorf("读取文件失败: %w", err)
	}

	req := processor.Request{
		Document:   doc,
		Password:   string(c.FormValue("password")),
		TargetRole: string(c.FormValue("target_role")),
		Group:      string(c.FormValue("group")),
	}
	if raw := c.FormValue("target_profile"); len(raw) > 0 {
		if err := json.Unmarshal(raw, &req.TargetProfile); err != nil {
			return processor.Request{}, fmt.Errorf("target_profile 不是合法JSON: %w", err)
		}
	}
	if raw := string(c.FormValue("k")); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 0 || k > 100 {
			return processor.Request{}, fmt.Errorf("k 必须是 0 到 100 之间的整数")
		}
		req.K = k
	}
	return req, nil
}
