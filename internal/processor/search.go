package processor

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

// SearchRequest 直接检索请求：自由文本与/或技能名
type SearchRequest struct {
	RequestID string
	Text      string
	Skills    []string
	K         int
	Kinds     []types.CorpusKind
}

// SearchResult 检索结果
type SearchResult struct {
	RequestID       string                  `json:"request_id"`
	Results         []types.RetrievalResult `json:"results"`
	ResolvedSkills  []string                `json:"resolved_skills"`
	UnknownSkills   []string                `json:"unknown_skills,omitempty"`
	GenerationID    string                  `json:"generation_id,omitempty"`
	Degraded        bool                    `json:"degraded"`
	DegradedReasons []string                `json:"degraded_reasons,omitempty"`
}

// Search 对语料做混合检索。技能名按分类体系别名解析为ID，
// 文本向量化失败时降级为词汇检索。
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "processor.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("query.text", tracing.SafeQueryText(req.Text)),
	)

	if req.Text == "" && len(req.Skills) == 0 {
		err := types.NewInvalidQueryError("text or skills is required")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = p.settings.DefaultK
	}

	res := &SearchResult{RequestID: req.RequestID}
	res.ResolvedSkills, res.UnknownSkills = p.resolveSkills(req.Skills)

	var opts []retrieval.RetrieveOption
	if len(req.Kinds) > 0 {
		opts = append(opts, retrieval.WithKinds(req.Kinds...))
	}

	var (
		results []types.RetrievalResult
		err     error
	)
	if req.Text != "" {
		var vec []float64
		vec, err = p.embedQuery(ctx, req.Text)
		if err == nil {
			results, err = p.Retriever.Retrieve(ctx, vec, res.ResolvedSkills, k, opts...)
		} else if ctx.Err() == nil {
			res.Degraded = true
			res.DegradedReasons = append(res.DegradedReasons, "query embedding: "+err.Error())
			results, err = p.Retriever.RetrieveLexical(ctx, res.ResolvedSkills, k, opts...)
		}
	} else {
		results, err = p.Retriever.RetrieveLexical(ctx, res.ResolvedSkills, k, opts...)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeIndex)
		if errors.Is(err, types.ErrIndexUnavailable) || errors.Is(err, types.ErrInvalidQuery) || ctx.Err() != nil {
			return nil, err
		}
		return nil, NewRetrieveError(req.RequestID, err)
	}
	if results == nil {
		results = []types.RetrievalResult{}
	}
	res.Results = results
	if p.Index != nil {
		if info, err := p.Index.Status(); err == nil {
			res.GenerationID = info.GenerationID
		}
	}
	span.SetAttributes(attribute.Int("result.count", len(results)), attribute.Bool("result.degraded", res.Degraded))
	return res, nil
}

// resolveSkills 按分类体系解析技能名，返回去重排序后的ID与无法识别的名称
func (p *Pipeline) resolveSkills(names []string) (resolved, unknown []string) {
	seen := map[string]struct{}{}
	resolved = []string{}
	for _, n := range names {
		key := taxonomy.Key(n)
		if key == "" {
			continue
		}
		if p.Taxonomy != nil {
			if ref, ok := p.Taxonomy.LookupAlias(key); ok {
				if _, dup := seen[ref.ID]; !dup {
					seen[ref.ID] = struct{}{}
					resolved = append(resolved, ref.ID)
				}
				continue
			}
		}
		unknown = append(unknown, n)
	}
	sort.Strings(resolved)
	return resolved, unknown
}
