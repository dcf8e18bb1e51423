package processor

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"career-agent-go/internal/index"
	"career-agent-go/internal/parser"
	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/storage/models"
	"career-agent-go/internal/types"
)

//
// 能力接口
//

// TextEmbedder 文本向量化能力
type TextEmbedder interface {
	embedding.Embedder
	GetDimensions() int
}

// AdviceGenerator 文本生成能力，由 agent.Generator 实现
type AdviceGenerator interface {
	Generate(ctx context.Context, prompt string, contextDocs []string) (string, error)
}

//
// 流水线组件接口
//

// DocumentParser 文档摄取，由 parser.Ingestor 实现
type DocumentParser interface {
	Parse(ctx context.Context, data []byte, opts ...parser.ParseOption) ([]types.TextBlock, error)
}

// SectionSegmenter 章节分段，由 parser.Segmenter 实现
type SectionSegmenter interface {
	Segment(blocks []types.TextBlock) []types.Section
}

// SkillExtractor 技能抽取，由 parser.SkillExtractor 实现
type SkillExtractor interface {
	Extract(ctx context.Context, sections []types.Section) ([]types.SkillMention, error)
}

// Retriever 混合检索，由 retrieval.HybridRetriever 实现
type Retriever interface {
	Retrieve(ctx context.Context, queryVec []float64, querySkills []string, k int, opts ...retrieval.RetrieveOption) ([]types.RetrievalResult, error)
	RetrieveLexical(ctx context.Context, querySkills []string, k int, opts ...retrieval.RetrieveOption) ([]types.RetrievalResult, error)
}

// IndexStatus 当前索引代信息，由 index.Store 实现
type IndexStatus interface {
	Status() (index.Info, error)
}

//
// 存储相关接口（均为可选）
//

// ProfileCache 按文档MD5缓存简历画像，未命中时返回 (nil, nil)
type ProfileCache interface {
	GetCachedProfile(ctx context.Context, docMD5 string) (*types.ResumeProfile, error)
	CacheProfile(ctx context.Context, docMD5 string, profile *types.ResumeProfile, ttl time.Duration) error
}

// VectorCache 查询向量缓存，未命中时返回 (nil, nil)
type VectorCache interface {
	GetCachedVector(ctx context.Context, model, textMD5 string) ([]float64, error)
	CacheVector(ctx context.Context, model, textMD5 string, vec []float64, ttl time.Duration) error
}

// AuditSink 推荐结果审计
type AuditSink interface {
	SaveRecommendationAudit(ctx context.Context, audit *models.RecommendationAudit) error
}

// DocumentArchive 上传文档归档
type DocumentArchive interface {
	ArchiveDocument(ctx context.Context, profileID string, data []byte) (string, error)
}
