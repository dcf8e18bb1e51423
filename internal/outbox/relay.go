package outbox // 发件箱模式（Outbox Pattern）：语料变更事件与语料写入同事务落库，由 relay 异步投递

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"career-agent-go/internal/storage/models"
	"career-agent-go/internal/tracing"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询 outbox 表的间隔
	defaultBatchSize       = 10              // 每次轮询处理的消息数
	maxRetryCount          = 5               // 发布失败的最大重试次数
)

// Publisher 消息发布器，*storage.RabbitMQ 实现了该接口
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	db              *gorm.DB
	publisher       Publisher
	logger          *log.Logger
	pollingInterval time.Duration
	batchSize       int
	done            chan struct{}
	stopOnce        sync.Once
	tracer          trace.Tracer
}

// RelayOption 配置选项
type RelayOption func(*MessageRelay)

// WithPollingInterval 设置轮询间隔
func WithPollingInterval(d time.Duration) RelayOption {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 设置每批处理的消息数
func WithBatchSize(n int) RelayOption {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewMessageRelay 创建一个新的 MessageRelay 实例
func NewMessageRelay(db *gorm.DB, publisher Publisher, logger *log.Logger, opts ...RelayOption) *MessageRelay {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("career-agent-go/outbox"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start 在后台开始轮询
func (r *MessageRelay) Start() {
	r.logger.Println("MessageRelay starting...")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				r.logger.Println("MessageRelay stopped.")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					r.logger.Printf("Error processing pending messages: %v", err)
				}
			}
		}
	}()
}

// Stop 停止轮询，可重复调用
func (r *MessageRelay) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Println("MessageRelay stopping...")
		close(r.done)
	})
}

// processPendingMessages 获取并处理一批待发布消息
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	// 空轮询不创建Span
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// FOR UPDATE SKIP LOCKED: 多实例时跳过已被其他事务锁定的行
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		r.logger.Printf("Failed to fetch pending outbox messages: %v", err)
		return err
	}
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()
	r.logger.Printf("Fetched %d pending messages to process.", len(messages))

	r.publishBatch(ctx, messages)

	for i := range messages {
		// 更新失败则整个事务回滚，消息在下次轮询中被重新拾取
		if err := tx.Save(&messages[i]).Error; err != nil {
			r.logger.Printf("Failed to update outbox message ID %d: %v", messages[i].ID, err)
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return err
		}
	}
	return tx.Commit().Error
}

// publishBatch 逐条发布并原地更新消息状态
func (r *MessageRelay) publishBatch(ctx context.Context, messages []models.OutboxMessage) (published, failed int) {
	span := trace.SpanFromContext(ctx)
	for i := range messages {
		msg := &messages[i]
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if err != nil {
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			r.logger.Printf("Failed to publish message ID %d (AggregateID: %s): %v. Retries: %d", msg.ID, msg.AggregateID, err, msg.RetryCount)
			tracing.RecordMessagingError(span, err, fmt.Sprint(msg.ID), "publish")
			if msg.RetryCount >= maxRetryCount {
				msg.Status = models.OutboxStatusFailed
				failed++
			}
			continue
		}
		now := time.Now()
		msg.Status = models.OutboxStatusPublished
		msg.ProcessedAt = &now
		msg.ErrorMessage = ""
		published++
	}
	return published, failed
}
