package index

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"career-agent-go/internal/parser"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

const defaultEmbedBatchSize = 10

var tracer = otel.Tracer("career-agent-go/index")

// PublishHook 新一代索引发布后的回调（例如持久化快照）
type PublishHook func(ctx context.Context, g *Generation)

// Store 持有当前生效的索引代。查询总是看到某一代的完整视图，
// 重建在旁路完成后通过原子指针切换发布。
type Store struct {
	current atomic.Pointer[Generation]

	rebuildMu sync.Mutex // 串行化重建，查询不受影响
	opts      BuildOptions
	batchSize int
	hooks     []PublishHook
	validate  *validator.Validate
	logger    *log.Logger
}

// StoreOption 配置选项
type StoreOption func(*Store)

// WithBuildOptions 设置构建参数
func WithBuildOptions(opts BuildOptions) StoreOption {
	return func(s *Store) { s.opts = opts }
}

// WithEmbedBatchSize 设置重建时每批向量化的文本数
func WithEmbedBatchSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithPublishHook 注册发布回调
func WithPublishHook(h PublishHook) StoreOption {
	return func(s *Store) { s.hooks = append(s.hooks, h) }
}

// WithStoreLogger 设置日志记录器
func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore 创建空的索引存储，发布第一代之前查询返回 IndexUnavailableError
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		opts:      DefaultBuildOptions(),
		batchSize: defaultEmbedBatchSize,
		validate:  validator.New(),
		logger:    log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Current 返回当前生效的索引代
func (s *Store) Current() (*Generation, error) {
	g := s.current.Load()
	if g == nil {
		return nil, &types.IndexUnavailableError{}
	}
	return g, nil
}

// Publish 原子切换到新一代索引，返回被替换的旧代（可能为 nil）
func (s *Store) Publish(ctx context.Context, g *Generation) *Generation {
	if g == nil {
		return nil
	}
	prev := s.current.Swap(g)
	info := g.Info()
	s.logger.Printf("发布索引代 %s: %d 条, 维度 %d, 分区 %d", info.GenerationID, info.Items, info.Dim, info.Lists)
	for _, h := range s.hooks {
		h(ctx, g)
	}
	return prev
}

// Status 返回当前索引代的状态
func (s *Store) Status() (Info, error) {
	g, err := s.Current()
	if err != nil {
		return Info{}, err
	}
	return g.Info(), nil
}

// Rebuild 向量化语料、在旁路构建新一代索引并发布。
// 任一步骤失败时保持当前代不变。
func (s *Store) Rebuild(ctx context.Context, docs []types.CorpusDocument, embedder embedding.Embedder) (*Generation, error) {
	ctx, span := tracer.Start(ctx, "index.Rebuild", trace.WithAttributes(attribute.Int("corpus.size", len(docs))))
	defer span.End()

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	if err := s.validateDocuments(docs); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = EmbeddingText(d)
	}
	vecs, err := parser.EmbedInBatches(ctx, embedder, texts, s.batchSize)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, fmt.Errorf("向量化语料失败: %w", err)
	}

	items := make([]*types.CorpusItem, len(docs))
	for i, d := range docs {
		items[i] = ItemFromDocument(d, vecs[i])
	}
	g, err := Build(items, s.opts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, fmt.Errorf("构建索引失败: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.Publish(ctx, g)
	span.SetAttributes(attribute.String("index.generation_id", g.ID()), attribute.Int("index.dim", g.Dim()))
	s.logger.Printf("索引重建完成, 用时 %s", time.Since(start).Round(time.Millisecond))
	return g, nil
}

func (s *Store) validateDocuments(docs []types.CorpusDocument) error {
	seen := make(map[string]struct{}, len(docs))
	for i := range docs {
		if err := s.validate.Struct(&docs[i]); err != nil {
			return fmt.Errorf("语料条目 %d (%q) 校验失败: %w", i, docs[i].ID, err)
		}
		if _, dup := seen[docs[i].ID]; dup {
			return fmt.Errorf("语料条目ID重复: %q", docs[i].ID)
		}
		seen[docs[i].ID] = struct{}{}
	}
	return nil
}

// EmbeddingText 语料条目用于向量化的文本
func EmbeddingText(d types.CorpusDocument) string {
	if d.Title == "" {
		return d.Text
	}
	return strings.TrimSpace(d.Title) + "\n" + d.Text
}

// ItemFromDocument 组合导入文档与其向量
func ItemFromDocument(d types.CorpusDocument, vec []float64) *types.CorpusItem {
	return &types.CorpusItem{
		ID:           d.ID,
		Kind:         d.Kind,
		Title:        d.Title,
		Text:         d.Text,
		Embedding:    vec,
		TaxonomyTags: append([]string(nil), d.TaxonomyTags...),
		Metadata:     d.Metadata,
	}
}
