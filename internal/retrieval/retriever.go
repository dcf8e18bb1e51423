// Package retrieval 混合检索：向量相似度 + 分类标签重叠 + 分类图邻近
package retrieval

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"career-agent-go/internal/index"
	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
	"career-agent-go/pkg/vecmath"
)

// 默认参数
const (
	DefaultAlpha               = 0.6
	DefaultCandidateMultiplier = 4
)

var tracer = otel.Tracer("career-agent-go/retrieval")

// Fuse 融合分数：alpha*semantic + (1-alpha)*lexical
func Fuse(alpha, semantic, lexical float64) float64 {
	return alpha*semantic + (1-alpha)*lexical
}

// SemanticScore 将余弦相似度 [-1,1] 映射到 [0,1]
func SemanticScore(cos float64) float64 {
	return vecmath.Clamp((1+cos)/2, 0, 1)
}

// Jaccard 两个标签集合的 Jaccard 系数；两者皆空时为 0
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	union := len(set)
	inter := 0
	seenB := make(map[string]struct{}, len(b))
	for _, x := range b {
		if _, dup := seenB[x]; dup {
			continue
		}
		seenB[x] = struct{}{}
		if _, ok := set[x]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// SortResults 排序：融合分数降序，其次词汇分数降序，最后ID升序
func SortResults(rs []types.RetrievalResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].FusedScore != rs[j].FusedScore {
			return rs[i].FusedScore > rs[j].FusedScore
		}
		if rs[i].LexicalScore != rs[j].LexicalScore {
			return rs[i].LexicalScore > rs[j].LexicalScore
		}
		return rs[i].Item.ID < rs[j].Item.ID
	})
}

// Option 检索器配置
type Option func(*HybridRetriever)

// WithAlpha 设置默认融合权重
func WithAlpha(alpha float64) Option {
	return func(r *HybridRetriever) { r.alpha = alpha }
}

// WithCandidateMultiplier ANN 候选数为 k 的倍数
func WithCandidateMultiplier(m int) Option {
	return func(r *HybridRetriever) {
		if m > 0 {
			r.multiplier = m
		}
	}
}

// WithGraphExpansion 是否用分类图邻居扩展词汇候选
func WithGraphExpansion(enabled bool) Option {
	return func(r *HybridRetriever) { r.graphExpansion = enabled }
}

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(r *HybridRetriever) { r.logger = l }
}

// HybridRetriever 在当前索引代上执行混合检索，本身无可变状态
type HybridRetriever struct {
	store          *index.Store
	tax            *taxonomy.Taxonomy
	alpha          float64
	multiplier     int
	graphExpansion bool
	logger         *log.Logger
}

// NewHybridRetriever 创建混合检索器。tax 可为 nil（不做图扩展）。
func NewHybridRetriever(store *index.Store, tax *taxonomy.Taxonomy, opts ...Option) (*HybridRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("index store is required")
	}
	r := &HybridRetriever{
		store:          store,
		tax:            tax,
		alpha:          DefaultAlpha,
		multiplier:     DefaultCandidateMultiplier,
		graphExpansion: true,
		logger:         log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(r)
	}
	if r.alpha < 0 || r.alpha > 1 {
		return nil, fmt.Errorf("alpha must be within [0,1], got %v", r.alpha)
	}
	return r, nil
}

// Alpha 返回默认融合权重
func (r *HybridRetriever) Alpha() float64 { return r.alpha }

type retrieveOptions struct {
	alpha  float64
	kinds  map[types.CorpusKind]bool
	probes int
	exact  bool
}

// RetrieveOption 单次检索选项
type RetrieveOption func(*retrieveOptions)

// WithKinds 仅返回指定类型的条目
func WithKinds(kinds ...types.CorpusKind) RetrieveOption {
	return func(o *retrieveOptions) {
		if len(kinds) == 0 {
			return
		}
		o.kinds = map[types.CorpusKind]bool{}
		for _, k := range kinds {
			o.kinds[k] = true
		}
	}
}

// WithQueryAlpha 覆盖本次检索的融合权重
func WithQueryAlpha(alpha float64) RetrieveOption {
	return func(o *retrieveOptions) { o.alpha = alpha }
}

// WithProbes 覆盖本次 ANN 查询探测的分区数
func WithProbes(n int) RetrieveOption {
	return func(o *retrieveOptions) { o.probes = n }
}

// WithExactSearch ANN 阶段改为全量扫描
func WithExactSearch() RetrieveOption {
	return func(o *retrieveOptions) { o.exact = true }
}

func (r *HybridRetriever) buildOptions(opts []RetrieveOption) (retrieveOptions, error) {
	o := retrieveOptions{alpha: r.alpha}
	for _, opt := range opts {
		opt(&o)
	}
	if o.alpha < 0 || o.alpha > 1 {
		return o, types.NewInvalidQueryError("alpha must be within [0,1], got %v", o.alpha)
	}
	return o, nil
}

func (o retrieveOptions) accept(item *types.CorpusItem) bool {
	return o.kinds == nil || o.kinds[item.Kind]
}

// Retrieve 返回至多 k 条结果，rank 从 1 开始。
// 候选集为 ANN 近邻、与查询技能共享标签的条目、以及带有分类图邻居标签的条目的并集。
func (r *HybridRetriever) Retrieve(ctx context.Context, queryVec []float64, querySkills []string, k int, opts ...RetrieveOption) ([]types.RetrievalResult, error) {
	_, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.k", k), attribute.Int("retrieval.query_skills", len(querySkills)))

	if k <= 0 {
		err := types.NewInvalidQueryError("k must be a positive integer, got %d", k)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	o, err := r.buildOptions(opts)
	if err != nil {
		return nil, err
	}
	g, err := r.store.Current()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeIndex)
		return nil, err
	}
	span.SetAttributes(attribute.String("index.generation_id", g.ID()))

	var qopts []index.QueryOption
	if o.exact {
		qopts = append(qopts, index.WithExact())
	} else if o.probes > 0 {
		qopts = append(qopts, index.WithProbes(o.probes))
	}
	if o.kinds != nil {
		qopts = append(qopts, index.WithFilter(o.accept))
	}
	neighbors, err := g.Query(queryVec, k*r.multiplier, qopts...)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	cands := make(map[string]*types.RetrievalResult, len(neighbors))
	for _, n := range neighbors {
		if !o.accept(n.Item) {
			continue
		}
		cands[n.Item.ID] = &types.RetrievalResult{Item: n.Item, SemanticScore: SemanticScore(n.Similarity())}
	}

	// 词汇候选：精确计算其语义分数
	for _, item := range g.ItemsWithTags(r.expandTags(querySkills)...) {
		if _, ok := cands[item.ID]; ok || !o.accept(item) {
			continue
		}
		cos, err := g.Similarity(queryVec, item.ID)
		if err != nil {
			return nil, err
		}
		cands[item.ID] = &types.RetrievalResult{Item: item, SemanticScore: SemanticScore(cos)}
	}

	results := finalize(cands, querySkills, o.alpha, k)
	span.SetAttributes(attribute.Int("retrieval.candidates", len(cands)), attribute.Int("retrieval.results", len(results)))
	return results, nil
}

// RetrieveLexical 降级检索：无法计算查询向量时只使用标签候选，语义分数为 0
func (r *HybridRetriever) RetrieveLexical(ctx context.Context, querySkills []string, k int, opts ...RetrieveOption) ([]types.RetrievalResult, error) {
	_, span := tracer.Start(ctx, "retrieval.RetrieveLexical")
	defer span.End()

	if k <= 0 {
		return nil, types.NewInvalidQueryError("k must be a positive integer, got %d", k)
	}
	o, err := r.buildOptions(opts)
	if err != nil {
		return nil, err
	}
	g, err := r.store.Current()
	if err != nil {
		return nil, err
	}
	cands := map[string]*types.RetrievalResult{}
	for _, item := range g.ItemsWithTags(r.expandTags(querySkills)...) {
		if o.accept(item) {
			cands[item.ID] = &types.RetrievalResult{Item: item}
		}
	}
	r.logger.Printf("降级为词汇检索: %d 个技能, %d 个候选", len(querySkills), len(cands))
	return finalize(cands, querySkills, o.alpha, k), nil
}

// expandTags 查询技能及其分类图邻居（父、子、相关）
func (r *HybridRetriever) expandTags(skills []string) []string {
	if !r.graphExpansion || r.tax == nil {
		return skills
	}
	out := append([]string(nil), skills...)
	for _, s := range skills {
		out = append(out, r.tax.Neighbors(s)...)
	}
	return out
}

func finalize(cands map[string]*types.RetrievalResult, querySkills []string, alpha float64, k int) []types.RetrievalResult {
	results := make([]types.RetrievalResult, 0, len(cands))
	for _, c := range cands {
		c.LexicalScore = Jaccard(querySkills, c.Item.TaxonomyTags)
		c.FusedScore = Fuse(alpha, c.SemanticScore, c.LexicalScore)
		results = append(results, *c)
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
