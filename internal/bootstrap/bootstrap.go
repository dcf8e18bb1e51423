// Package bootstrap 根据配置组装流水线、索引与重建器，供服务端和命令行共用
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"career-agent-go/internal/agent"
	"career-agent-go/internal/config"
	"career-agent-go/internal/fairness"
	"career-agent-go/internal/gap"
	"career-agent-go/internal/index"
	"career-agent-go/internal/indexer"
	"career-agent-go/internal/logger"
	"career-agent-go/internal/parser"
	"career-agent-go/internal/processor"
	"career-agent-go/internal/ranking"
	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/storage"
	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
	"career-agent-go/pkg/ratelimit"
)

// App 组装完成的应用组件
type App struct {
	Config    *config.Config
	Storage   *storage.Storage
	Taxonomy  *taxonomy.Taxonomy
	Roles     *taxonomy.RoleCatalog
	Embedder  processor.TextEmbedder
	Index     *index.Store
	Rebuilder *indexer.Rebuilder
	Pipeline  *processor.Pipeline
}

// Option 组装选项
type Option func(*options)

type options struct {
	embedder  processor.TextEmbedder
	generator processor.AdviceGenerator
	verbose   bool
}

// WithEmbedder 替换向量化能力（测试或离线构建使用）
func WithEmbedder(e processor.TextEmbedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithGenerator 替换文本生成能力
func WithGenerator(g processor.AdviceGenerator) Option {
	return func(o *options) { o.generator = g }
}

// WithVerbose 组件日志输出到全局 logger，否则丢弃
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// New 组装应用。st 可为 nil，此时缓存、审计、快照与事件均不启用。
func New(ctx context.Context, cfg *config.Config, st *storage.Storage, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if st == nil {
		st = &storage.Storage{}
	}
	newLogger := func(prefix string) *log.Logger {
		if !o.verbose {
			return log.New(io.Discard, "", 0)
		}
		return log.New(logger.Logger, "["+prefix+"] ", 0)
	}

	tax, err := taxonomy.Load(cfg.Data.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("加载技能分类失败: %w", err)
	}
	var roles *taxonomy.RoleCatalog
	if cfg.Data.RolesPath != "" {
		roles, err = taxonomy.LoadRoles(cfg.Data.RolesPath, tax)
		if err != nil {
			return nil, fmt.Errorf("加载岗位目录失败: %w", err)
		}
	}

	embedder := o.embedder
	if embedder == nil {
		embedder, err = newEmbedder(cfg, st, newLogger("Embedder"))
		if err != nil {
			return nil, err
		}
	}
	generator := o.generator
	if generator == nil && cfg.Pipeline.GenerateAdvice {
		generator, err = newGenerator(cfg, newLogger("Generator"))
		if err != nil {
			logger.Warn().Err(err).Msg("建议生成不可用，跳过")
			generator = nil
		}
	}

	buildOpts := index.BuildOptions{
		MinItemsForIVF: cfg.Index.MinItemsForIVF,
		NList:          cfg.Index.NList,
		NProbe:         cfg.Index.NProbe,
		KMeansIter:     cfg.Index.KMeansIter,
		Seed:           int64(cfg.Index.Seed),
	}
	store := index.NewStore(
		index.WithBuildOptions(buildOpts),
		index.WithEmbedBatchSize(cfg.Index.EmbedBatchSize),
		index.WithStoreLogger(newLogger("IndexStore")),
	)

	rebuilder := indexer.NewRebuilder(store, embedder, rebuilderOptions(cfg, st, buildOpts, newLogger("Rebuilder"))...)

	retriever, err := retrieval.NewHybridRetriever(store, tax,
		retrieval.WithAlpha(cfg.Retrieval.Alpha),
		retrieval.WithCandidateMultiplier(cfg.Retrieval.CandidateMultiplier),
		retrieval.WithGraphExpansion(cfg.Retrieval.GraphExpansion),
		retrieval.WithLogger(newLogger("Retriever")),
	)
	if err != nil {
		return nil, fmt.Errorf("创建检索器失败: %w", err)
	}

	embedTimeout := config.GetDuration(cfg.Pipeline.EmbedTimeout, 10*time.Second)
	kinds := make([]types.CorpusKind, 0, len(cfg.Gap.EvidenceKinds))
	for _, k := range cfg.Gap.EvidenceKinds {
		kinds = append(kinds, types.CorpusKind(k))
	}
	analyzer := gap.NewAnalyzer(tax, retriever, embedder,
		gap.WithMinConfidence(cfg.Gap.MinConfidence),
		gap.WithEvidencePerGap(cfg.Gap.EvidencePerGap),
		gap.WithEvidenceKinds(kinds...),
		gap.WithEmbedTimeout(embedTimeout),
		gap.WithLogger(newLogger("GapAnalyzer")),
	)

	ingestor, err := parser.NewIngestor(ctx, parser.WithIngestorLogger(newLogger("DocumentIngestor")))
	if err != nil {
		return nil, fmt.Errorf("创建文档解析器失败: %w", err)
	}
	var matcher parser.SkillMatcher = parser.NewExactAliasMatcher(tax)
	if cfg.Segmenter.EmbeddingMatch {
		em, err := parser.NewEmbeddingMatcher(ctx, tax, embedder, cfg.Segmenter.EmbeddingMatchThreshold)
		if err != nil {
			logger.Warn().Err(err).Msg("向量技能匹配初始化失败，仅使用别名匹配")
		} else {
			matcher = parser.NewEnsembleMatcher(matcher, em)
		}
	}

	base := processor.Components{
		Parser:    ingestor,
		Segmenter: parser.NewSegmenter(cfg.Segmenter.FontDeviationThreshold),
		Extractor: parser.NewSkillExtractor(matcher),
		Analyzer:  analyzer,
		Retriever: retriever,
		Ranker: ranking.NewRanker(ranking.Weights{
			Gap:       cfg.Ranking.GapWeight,
			Relevance: cfg.Ranking.RelevanceWeight,
			Alignment: cfg.Ranking.AlignmentWeight,
		}, cfg.Ranking.TopN),
		Monitor:  fairness.NewMonitor(cfg.Fairness.Tolerance, cfg.Fairness.MaxAdjustment),
		Taxonomy: tax,
	}
	compOpts := []processor.ComponentOpt{
		processor.WithcompEmbedder(embedder),
		processor.WithcompIndex(store),
	}
	if roles != nil {
		compOpts = append(compOpts, processor.WithcompRoles(roles))
	}
	if generator != nil {
		compOpts = append(compOpts, processor.WithcompGenerator(generator))
	}
	profileTTL := 24 * time.Hour
	if st.Redis != nil {
		compOpts = append(compOpts, processor.WithcompProfileCache(st.Redis))
		profileTTL = st.Redis.ProfileCacheTTL()
	}
	if st.MySQL != nil {
		compOpts = append(compOpts, processor.WithcompAudit(st.MySQL))
	}
	if st.MinIO != nil && cfg.MinIO.DocumentBucket != "" {
		compOpts = append(compOpts, processor.WithcompArchive(st.MinIO))
	}
	setOpts := []processor.SettingOpt{
		processor.WithsetDefaultK(cfg.Retrieval.DefaultK),
		processor.WithsetTimeouts(embedTimeout, config.GetDuration(cfg.Pipeline.GenerateTimeout, 30*time.Second)),
		processor.WithsetBatchConcurrency(cfg.Pipeline.BatchConcurrency),
		processor.WithsetGenerateAdvice(cfg.Pipeline.GenerateAdvice),
		processor.WithsetMinConfidence(cfg.Gap.MinConfidence),
		processor.WithsetMitigate(cfg.Fairness.Mitigate),
		processor.WithsetProfileCacheTTL(profileTTL),
		processor.WithsetLogger(newLogger("Pipeline")),
	}
	pipeline, err := processor.NewPipeline(base, compOpts, setOpts)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Storage:   st,
		Taxonomy:  tax,
		Roles:     roles,
		Embedder:  embedder,
		Index:     store,
		Rebuilder: rebuilder,
		Pipeline:  pipeline,
	}, nil
}

// rebuilderOptions 只为已初始化的存储组件注册选项，避免 nil 指针落入接口
func rebuilderOptions(cfg *config.Config, st *storage.Storage, buildOpts index.BuildOptions, l *log.Logger) []indexer.Option {
	opts := []indexer.Option{
		indexer.WithCorpusFile(cfg.Data.CorpusPath),
		indexer.WithEmbeddingModel(cfg.Aliyun.Embedding.Model),
		indexer.WithBuildOptions(buildOpts),
		indexer.WithLogger(l),
	}
	if st.MySQL != nil {
		opts = append(opts, indexer.WithCorpusStore(st.MySQL), indexer.WithGenerationLog(st.MySQL))
		if st.RabbitMQ != nil {
			opts = append(opts, indexer.WithEvents(cfg.RabbitMQ.CorpusExchange, cfg.RabbitMQ.CorpusUpdatedKey))
		}
	}
	if st.MinIO != nil {
		opts = append(opts, indexer.WithSnapshotStore(st.MinIO))
	}
	if st.Redis != nil {
		opts = append(opts, indexer.WithLocker(st.Redis))
	}
	return opts
}

// newEmbedder 阿里云向量模型，外层依次套上限流与 Redis 查询向量缓存
func newEmbedder(cfg *config.Config, st *storage.Storage, l *log.Logger) (processor.TextEmbedder, error) {
	aliyun, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding, parser.WithEmbedderLogger(l))
	if err != nil {
		return nil, fmt.Errorf("初始化阿里云Embedder失败: %w", err)
	}
	model := cfg.Aliyun.Embedding.Model
	var embedder processor.TextEmbedder = ratelimit.NewRateLimitedEmbedder(aliyun, cfg.QPMFor(model, 1200))
	if st.Redis != nil {
		ttl := config.GetDuration(cfg.Aliyun.Embedding.CacheTTL, 7*24*time.Hour)
		embedder = processor.NewCachedEmbedder(embedder, model, st.Redis, ttl, l)
	}
	return embedder, nil
}

func newGenerator(cfg *config.Config, l *log.Logger) (processor.AdviceGenerator, error) {
	chat, err := agent.NewQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL, agent.WithQwenLogger(l))
	if err != nil {
		return nil, err
	}
	limited := ratelimit.NewRateLimitedChatModel(chat, cfg.QPMFor(cfg.Aliyun.Model, 600))
	return agent.NewGenerator(limited, agent.WithGeneratorLogger(l))
}
