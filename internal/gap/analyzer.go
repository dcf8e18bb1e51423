// Package gap 技能差距分析：对比简历画像与目标岗位画像，并为每个缺口检索学习资源
package gap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
)

// 默认参数
const (
	DefaultMinConfidence  = 0.5
	DefaultEvidencePerGap = 3
	defaultEmbedTimeout   = 10 * time.Second
	maxConcurrentLookups  = 4
)

var tracer = otel.Tracer("career-agent-go/gap")

// EvidenceRetriever 证据检索能力，由 retrieval.HybridRetriever 实现
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, queryVec []float64, querySkills []string, k int, opts ...retrieval.RetrieveOption) ([]types.RetrievalResult, error)
	RetrieveLexical(ctx context.Context, querySkills []string, k int, opts ...retrieval.RetrieveOption) ([]types.RetrievalResult, error)
}

// Report 差距分析结果
type Report struct {
	Gaps           []types.GapEntry `json:"gaps"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
}

// Option 配置选项
type Option func(*Analyzer)

// WithMinConfidence 认定"已掌握"所需的最低置信度
func WithMinConfidence(c float64) Option {
	return func(a *Analyzer) { a.minConfidence = c }
}

// WithEvidencePerGap 每个缺口检索的证据条数
func WithEvidencePerGap(n int) Option {
	return func(a *Analyzer) { a.evidencePerGap = n }
}

// WithEvidenceKinds 证据限定的语料类型
func WithEvidenceKinds(kinds ...types.CorpusKind) Option {
	return func(a *Analyzer) { a.evidenceKinds = kinds }
}

// WithEmbedTimeout 向量化调用的超时预算
func WithEmbedTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.embedTimeout = d
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// Analyzer 技能差距分析器，无请求间共享的可变状态
type Analyzer struct {
	tax            *taxonomy.Taxonomy
	retriever      EvidenceRetriever
	embedder       embedding.Embedder
	minConfidence  float64
	evidencePerGap int
	evidenceKinds  []types.CorpusKind
	embedTimeout   time.Duration
	logger         *log.Logger
}

// NewAnalyzer 创建分析器。embedder 为 nil 时证据只走词汇检索。
func NewAnalyzer(tax *taxonomy.Taxonomy, retriever EvidenceRetriever, embedder embedding.Embedder, opts ...Option) *Analyzer {
	a := &Analyzer{
		tax:            tax,
		retriever:      retriever,
		embedder:       embedder,
		minConfidence:  DefaultMinConfidence,
		evidencePerGap: DefaultEvidencePerGap,
		evidenceKinds:  []types.CorpusKind{types.CorpusKindCourse},
		embedTimeout:   defaultEmbedTimeout,
		logger:         log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze 返回目标画像中候选人未掌握的技能，按目标权重降序、ID升序排列。
// 权重 <= 0 的条目被忽略；每个缺口附带至多 evidencePerGap 条学习资源。
func (a *Analyzer) Analyze(ctx context.Context, profile *types.ResumeProfile, target types.TargetProfile) (*Report, error) {
	ctx, span := tracer.Start(ctx, "gap.Analyze")
	defer span.End()

	report := &Report{Gaps: []types.GapEntry{}}
	for id, w := range target {
		if w <= 0 {
			continue
		}
		if profile != nil && profile.HasSkill(id, a.minConfidence) {
			continue
		}
		report.Gaps = append(report.Gaps, types.GapEntry{
			TaxonomyID:   id,
			Name:         a.displayName(id),
			TargetWeight: w,
			Evidence:     []types.RetrievalResult{},
		})
	}
	sort.Slice(report.Gaps, func(i, j int) bool {
		gi, gj := report.Gaps[i], report.Gaps[j]
		if gi.TargetWeight != gj.TargetWeight {
			return gi.TargetWeight > gj.TargetWeight
		}
		return gi.TaxonomyID < gj.TaxonomyID
	})
	span.SetAttributes(attribute.Int("gap.target_skills", len(target)), attribute.Int("gap.gaps", len(report.Gaps)))

	if len(report.Gaps) == 0 || a.retriever == nil || a.evidencePerGap <= 0 {
		return report, nil
	}

	vecs, err := a.embedAnchors(ctx, report.Gaps)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.Degraded = true
		report.DegradedReason = err.Error()
		a.logger.Printf("缺口锚点向量化失败，降级为词汇检索: %v", err)
	}
	if err := a.attachEvidence(ctx, report.Gaps, vecs); err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Analyzer) displayName(id string) string {
	if a.tax == nil {
		return id
	}
	return a.tax.Name(id)
}

func (a *Analyzer) anchorText(id string) string {
	if a.tax != nil {
		if e, ok := a.tax.Get(id); ok {
			return e.Label()
		}
	}
	return id
}

// embedAnchors 一次性向量化全部缺口的分类标签，超时转换为 CapabilityTimeoutError
func (a *Analyzer) embedAnchors(ctx context.Context, gaps []types.GapEntry) ([][]float64, error) {
	if a.embedder == nil {
		return nil, errors.New("no embedding capability configured")
	}
	texts := make([]string, len(gaps))
	for i, g := range gaps {
		texts[i] = a.anchorText(g.TaxonomyID)
	}
	embedCtx, cancel := context.WithTimeout(ctx, a.embedTimeout)
	defer cancel()
	vecs, err := a.embedder.EmbedStrings(embedCtx, texts)
	if err != nil {
		if errors.Is(embedCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &types.CapabilityTimeoutError{Capability: "embed", Timeout: a.embedTimeout, Err: err}
		}
		return nil, fmt.Errorf("embed gap anchors: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d anchors", len(vecs), len(texts))
	}
	return vecs, nil
}

// attachEvidence 并发检索每个缺口的证据，结果写入各自下标，顺序确定
func (a *Analyzer) attachEvidence(ctx context.Context, gaps []types.GapEntry, vecs [][]float64) error {
	opts := []retrieval.RetrieveOption{retrieval.WithKinds(a.evidenceKinds...)}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentLookups)
	for i := range gaps {
		i := i
		eg.Go(func() error {
			anchor := []string{gaps[i].TaxonomyID}
			var (
				res []types.RetrievalResult
				err error
			)
			if vecs != nil {
				res, err = a.retriever.Retrieve(egCtx, vecs[i], anchor, a.evidencePerGap, opts...)
			} else {
				res, err = a.retriever.RetrieveLexical(egCtx, anchor, a.evidencePerGap, opts...)
			}
			if err != nil {
				return fmt.Errorf("retrieve evidence for %s: %w", gaps[i].TaxonomyID, err)
			}
			gaps[i].Evidence = res
			return nil
		})
	}
	return eg.Wait()
}
