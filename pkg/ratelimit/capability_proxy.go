package ratelimit

import (
	"context"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedEmbedder 对向量化调用进行限流与重试的代理
type RateLimitedEmbedder struct {
	original    embedding.Embedder
	rateLimiter *TokenBucket
}

// NewRateLimitedEmbedder 创建限流向量化代理
func NewRateLimitedEmbedder(original embedding.Embedder, qpm int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, 0),
	}
}

// EmbedStrings 实现 embedding.Embedder
func (r *RateLimitedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var out [][]float64
	err := r.rateLimiter.RetryWithBackoff(ctx, func() error {
		var embedErr error
		out, embedErr = r.original.EmbedStrings(ctx, texts, opts...)
		return embedErr
	})
	return out, err
}

// GetDimensions 透传底层向量维度（若底层支持）
func (r *RateLimitedEmbedder) GetDimensions() int {
	if d, ok := r.original.(interface{ GetDimensions() int }); ok {
		return d.GetDimensions()
	}
	return 0
}

// RateLimitedChatModel 对LLM调用进行限流的代理
type RateLimitedChatModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedChatModel 创建限流LLM代理
func NewRateLimitedChatModel(original model.ToolCallingChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, 0),
	}
}

// Generate 代理 Generate，增加限流和重试
func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

// Stream 代理 Stream，只限流不重试
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Stream(ctx, messages, options...)
}

// WithTools 代理 WithTools，新模型共享同一限流器
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{original: m, rateLimiter: rl.rateLimiter}, nil
}
