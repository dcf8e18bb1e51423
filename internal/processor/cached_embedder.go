package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cloudwego/eino/components/embedding"
)

// CachedEmbedder 以 模型名+文本MD5 为键缓存向量，只对未命中的文本调用底层能力
type CachedEmbedder struct {
	inner  TextEmbedder
	model  string
	cache  VectorCache
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedEmbedder 创建带缓存的向量化能力；cache 为 nil 时直接透传
func NewCachedEmbedder(inner TextEmbedder, model string, cache VectorCache, ttl time.Duration, logger *log.Logger) *CachedEmbedder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CachedEmbedder{inner: inner, model: model, cache: cache, ttl: ttl, logger: logger}
}

// EmbedStrings 实现 embedding.Embedder。缓存读写失败不影响结果。
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if c.cache == nil {
		return c.inner.EmbedStrings(ctx, texts, opts...)
	}

	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		sum := md5.Sum([]byte(t))
		keys[i] = hex.EncodeToString(sum[:])
		vec, err := c.cache.GetCachedVector(ctx, c.model, keys[i])
		if err != nil {
			c.logger.Printf("[CachedEmbedder] 读取向量缓存失败: %v", err)
		}
		if vec != nil {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.CacheVector(ctx, c.model, keys[i], vecs[j], c.ttl); err != nil {
			c.logger.Printf("[CachedEmbedder] 写入向量缓存失败: %v", err)
		}
	}
	return out, nil
}

// GetDimensions 返回底层能力的向量维度
func (c *CachedEmbedder) GetDimensions() int { return c.inner.GetDimensions() }

var _ TextEmbedder = (*CachedEmbedder)(nil)
