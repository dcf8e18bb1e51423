package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"career-agent-go/internal/constants"
	"career-agent-go/internal/index"
	"career-agent-go/internal/storage"
	"career-agent-go/internal/storage/models"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

var tracer = otel.Tracer("career-agent-go/indexer")

// ErrRebuildInProgress 其他实例正持有重建锁
var ErrRebuildInProgress = errors.New("索引重建正在进行中")

// ErrNoCorpus 没有可用的语料来源
var ErrNoCorpus = errors.New("没有可用的语料")

// CorpusStore 语料持久化（MySQL）
type CorpusStore interface {
	UpsertCorpusItems(ctx context.Context, docs []types.CorpusDocument, event *models.OutboxMessage) error
	ListActiveCorpus(ctx context.Context) ([]types.CorpusDocument, error)
	RetireCorpusItems(ctx context.Context, ids []string) (int64, error)
}

// GenerationLog 索引代记录
type GenerationLog interface {
	SaveIndexGeneration(ctx context.Context, rec *models.IndexGenerationRecord) error
	LatestIndexGeneration(ctx context.Context) (*models.IndexGenerationRecord, error)
}

// SnapshotStore 索引快照存储（MinIO）
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *index.Snapshot) (string, error)
	LoadSnapshot(ctx context.Context, objectKey string) (*index.Snapshot, error)
}

// Locker 分布式锁（Redis）
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// Rebuilder 负责语料导入、索引重建与启动恢复。除 Store 与 Embedder 外的依赖均可为 nil。
type Rebuilder struct {
	store    *index.Store
	embedder embedding.Embedder
	model    string

	corpus      CorpusStore
	generations GenerationLog
	snapshots   SnapshotStore
	locker      Locker

	corpusPath string
	exchange   string
	routingKey string
	buildOpts  index.BuildOptions
	lockTTL    time.Duration
	logger     *log.Logger
}

// Option 配置选项
type Option func(*Rebuilder)

// WithCorpusStore 使用 MySQL 中的生效语料
func WithCorpusStore(c CorpusStore) Option { return func(r *Rebuilder) { r.corpus = c } }

// WithGenerationLog 记录每次发布的索引代
func WithGenerationLog(g GenerationLog) Option { return func(r *Rebuilder) { r.generations = g } }

// WithSnapshotStore 发布后保存快照，启动时据此恢复
func WithSnapshotStore(s SnapshotStore) Option { return func(r *Rebuilder) { r.snapshots = s } }

// WithLocker 多实例下串行化重建
func WithLocker(l Locker) Option { return func(r *Rebuilder) { r.locker = l } }

// WithCorpusFile 没有语料库时的回退语料文件
func WithCorpusFile(path string) Option { return func(r *Rebuilder) { r.corpusPath = path } }

// WithEvents 语料变更事件的交换机与路由键
func WithEvents(exchange, routingKey string) Option {
	return func(r *Rebuilder) {
		r.exchange = exchange
		r.routingKey = routingKey
	}
}

// WithEmbeddingModel 记录在索引代中的向量模型名
func WithEmbeddingModel(model string) Option { return func(r *Rebuilder) { r.model = model } }

// WithBuildOptions 恢复快照时使用的构建参数，应与 Store 一致
func WithBuildOptions(opts index.BuildOptions) Option { return func(r *Rebuilder) { r.buildOpts = opts } }

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(r *Rebuilder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRebuilder 创建重建器
func NewRebuilder(store *index.Store, embedder embedding.Embedder, opts ...Option) *Rebuilder {
	r := &Rebuilder{
		store:     store,
		embedder:  embedder,
		buildOpts: index.DefaultBuildOptions(),
		lockTTL:   constants.IndexRebuildLockTTL,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// loadCorpus 优先读取 MySQL 中的生效语料，为空时回退到语料文件
func (r *Rebuilder) loadCorpus(ctx context.Context) ([]types.CorpusDocument, string, error) {
	if r.corpus != nil {
		docs, err := r.corpus.ListActiveCorpus(ctx)
		if err != nil {
			r.logger.Printf("[Rebuilder] 读取语料库失败，尝试语料文件: %v", err)
		} else if len(docs) > 0 {
			return docs, "mysql", nil
		}
	}
	if r.corpusPath != "" {
		docs, err := LoadCorpusFile(r.corpusPath)
		if err != nil {
			return nil, "", err
		}
		return docs, "file", nil
	}
	return nil, "", ErrNoCorpus
}

// Rebuild 加载语料、重建并发布新的索引代，随后保存快照与索引代记录。
// 快照或记录失败只记日志，新索引代已生效。
func (r *Rebuilder) Rebuild(ctx context.Context, reason string) (index.Info, error) {
	ctx, span := tracer.Start(ctx, "indexer.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.String("rebuild.reason", reason))

	if r.locker != nil {
		token, err := r.locker.AcquireLock(ctx, constants.KeyIndexRebuildLock, r.lockTTL)
		if err != nil {
			// 锁服务不可用时仍在本实例内重建，Store 自身会串行化
			r.logger.Printf("[Rebuilder] 获取重建锁失败，继续本地重建: %v", err)
		} else if token == "" {
			return index.Info{}, ErrRebuildInProgress
		} else {
			defer func() {
				if _, err := r.locker.ReleaseLock(context.WithoutCancel(ctx), constants.KeyIndexRebuildLock, token); err != nil {
					r.logger.Printf("[Rebuilder] 释放重建锁失败: %v", err)
				}
			}()
		}
	}

	docs, source, err := r.loadCorpus(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return index.Info{}, err
	}
	span.SetAttributes(attribute.String("corpus.source", source), attribute.Int("corpus.size", len(docs)))
	r.logger.Printf("[Rebuilder] 开始重建 (原因: %s, 来源: %s, %d 条)", reason, source, len(docs))

	g, err := r.store.Rebuild(ctx, docs, r.embedder)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return index.Info{}, err
	}
	info := g.Info()
	r.persist(ctx, g)
	return info, nil
}

// persist 保存快照并记录索引代
func (r *Rebuilder) persist(ctx context.Context, g *index.Generation) {
	info := g.Info()
	var key string
	if r.snapshots != nil {
		k, err := r.snapshots.SaveSnapshot(ctx, g.Snapshot())
		if err != nil {
			r.logger.Printf("[Rebuilder] 保存索引快照 %s 失败: %v", info.GenerationID, err)
		} else {
			key = k
		}
	}
	if r.generations == nil {
		return
	}
	rec := &models.IndexGenerationRecord{
		GenerationID:   info.GenerationID,
		Items:          info.Items,
		Dim:            info.Dim,
		Lists:          info.Lists,
		SnapshotKey:    key,
		EmbeddingModel: r.model,
		BuiltAt:        info.BuiltAt,
	}
	if err := r.generations.SaveIndexGeneration(ctx, rec); err != nil {
		r.logger.Printf("[Rebuilder] 记录索引代 %s 失败: %v", info.GenerationID, err)
	}
}

// RestoreLatest 从最近一次保存的快照恢复索引，返回是否恢复成功
func (r *Rebuilder) RestoreLatest(ctx context.Context) (bool, error) {
	if r.generations == nil || r.snapshots == nil {
		return false, nil
	}
	rec, err := r.generations.LatestIndexGeneration(ctx)
	if err != nil {
		return false, fmt.Errorf("查询最近索引代失败: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	snap, err := r.snapshots.LoadSnapshot(ctx, rec.SnapshotKey)
	if err != nil {
		return false, fmt.Errorf("加载快照 %s 失败: %w", rec.SnapshotKey, err)
	}
	if _, err := r.RestoreSnapshot(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreSnapshot 用给定快照重建索引代并发布，向量不重新计算
func (r *Rebuilder) RestoreSnapshot(ctx context.Context, snap *index.Snapshot) (index.Info, error) {
	g, err := index.Restore(snap, r.buildOpts)
	if err != nil {
		return index.Info{}, err
	}
	r.store.Publish(ctx, g)
	r.logger.Printf("[Rebuilder] 已从快照恢复索引代 %s (%d 条)", g.ID(), g.Len())
	return g.Info(), nil
}

// Bootstrap 启动时先尝试快照恢复，失败或没有快照时全量重建
func (r *Rebuilder) Bootstrap(ctx context.Context) (index.Info, error) {
	ok, err := r.RestoreLatest(ctx)
	if err != nil {
		r.logger.Printf("[Rebuilder] 快照恢复失败，改为全量重建: %v", err)
	}
	if ok {
		return r.store.Status()
	}
	return r.Rebuild(ctx, "bootstrap")
}

// ImportOption 导入选项
type ImportOption func(*importOptions)

type importOptions struct {
	fullSync bool
}

// WithFullSync 本次导入即完整语料，库中生效但未出现在本次导入中的条目会被下线
func WithFullSync() ImportOption {
	return func(o *importOptions) { o.fullSync = true }
}

// Import 将语料写入语料库，并在同一事务中写入 corpus.updated 出站消息。
// 完整导入时先下线缺失的条目，再写入新语料。
func (r *Rebuilder) Import(ctx context.Context, docs []types.CorpusDocument, source string, opts ...ImportOption) (*storage.CorpusUpdatedMessage, error) {
	if r.corpus == nil {
		return nil, fmt.Errorf("未配置语料库")
	}
	if err := validateDocuments(docs); err != nil {
		return nil, err
	}
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}
	msg := &storage.CorpusUpdatedMessage{
		BatchID:   uuid.NewString(),
		ItemIDs:   make([]string, 0, len(docs)),
		ItemCount: len(docs),
		UpdatedAt: time.Now().UTC(),
		Source:    source,
		FullSync:  o.fullSync,
	}
	for _, d := range docs {
		msg.ItemIDs = append(msg.ItemIDs, d.ID)
	}
	if o.fullSync {
		retired, err := r.missingFromImport(ctx, docs)
		if err != nil {
			return nil, err
		}
		msg.RetiredIDs = retired
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("序列化语料变更消息失败: %w", err)
	}
	event := &models.OutboxMessage{
		AggregateID:      msg.BatchID,
		EventType:        models.EventCorpusUpdated,
		Payload:          string(payload),
		TargetExchange:   r.exchange,
		TargetRoutingKey: r.routingKey,
		Status:           models.OutboxStatusPending,
	}
	if r.exchange == "" {
		// 没有消息队列时不写出站消息，由调用方决定是否同步重建
		event = nil
	}
	// 出站消息触发的重建必须读到下线后的语料，所以下线在写入之前
	if len(msg.RetiredIDs) > 0 {
		n, err := r.corpus.RetireCorpusItems(ctx, msg.RetiredIDs)
		if err != nil {
			return nil, fmt.Errorf("下线语料失败: %w", err)
		}
		r.logger.Printf("[Rebuilder] 已下线 %d 条语料 (批次 %s)", n, msg.BatchID)
	}
	if err := r.corpus.UpsertCorpusItems(ctx, docs, event); err != nil {
		return nil, fmt.Errorf("写入语料失败: %w", err)
	}
	r.logger.Printf("[Rebuilder] 已导入 %d 条语料 (批次 %s, 来源 %s)", len(docs), msg.BatchID, source)
	return msg, nil
}

// missingFromImport 返回当前生效但不在 docs 中的条目ID，按ID排序
func (r *Rebuilder) missingFromImport(ctx context.Context, docs []types.CorpusDocument) ([]string, error) {
	active, err := r.corpus.ListActiveCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询生效语料失败: %w", err)
	}
	keep := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		keep[d.ID] = struct{}{}
	}
	var missing []string
	for _, d := range active {
		if _, ok := keep[d.ID]; !ok {
			missing = append(missing, d.ID)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// HandleCorpusUpdated 消费 corpus.updated 消息。返回 false 时消息重新入队。
func (r *Rebuilder) HandleCorpusUpdated(ctx context.Context, body []byte) bool {
	var msg storage.CorpusUpdatedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 格式错误的消息重试也无济于事
		r.logger.Printf("[Rebuilder] 丢弃无法解析的消息: %v", err)
		return true
	}
	info, err := r.Rebuild(ctx, "corpus.updated:"+msg.BatchID)
	switch {
	case err == nil:
		r.logger.Printf("[Rebuilder] 批次 %s 已生效于索引代 %s", msg.BatchID, info.GenerationID)
		return true
	case errors.Is(err, ErrRebuildInProgress):
		// 正在进行的重建会读到这批语料
		return true
	default:
		r.logger.Printf("[Rebuilder] 批次 %s 重建失败: %v", msg.BatchID, err)
		return false
	}
}
