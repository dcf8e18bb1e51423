package parser_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/config"
	"career-agent-go/internal/parser"
)

const envAliyunAPIKey = "ALIYUN_API_KEY"

func newFakeEmbeddingServer(t *testing.T, status int, handler func(req map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAliyunEmbedderOrdersByIndex(t *testing.T) {
	srv := newFakeEmbeddingServer(t, http.StatusOK, func(req map[string]any) any {
		assert.Equal(t, "text-embedding-v3", req["model"])
		assert.EqualValues(t, 4, req["dimensions"])
		// 故意乱序返回
		return map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0, 1, 0, 0}},
				{"index": 0, "embedding": []float64{1, 0, 0, 0}},
			},
			"usage": map[string]int{"total_tokens": 3},
		}
	})

	emb, err := parser.NewAliyunEmbedder("test-key",
		config.EmbeddingConfig{Dimensions: 4, BaseURL: srv.URL},
		parser.WithEmbedderHTTPClient(srv.Client()),
		parser.WithEmbedderLogger(log.New(io.Discard, "", 0)),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, emb.GetDimensions())

	vecs, err := emb.EmbedStrings(context.Background(), []string{"python", "sql"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{1, 0, 0, 0}, vecs[0], "结果应按 index 与输入对齐")
	assert.Equal(t, []float64{0, 1, 0, 0}, vecs[1])
}

func TestAliyunEmbedderErrors(t *testing.T) {
	_, err := parser.NewAliyunEmbedder("  ", config.EmbeddingConfig{})
	assert.Error(t, err, "空API密钥应报错")

	srv := newFakeEmbeddingServer(t, http.StatusTooManyRequests, func(map[string]any) any {
		return map[string]any{"error": map[string]string{"message": "rate limited", "type": "throttling"}}
	})
	emb, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL},
		parser.WithEmbedderHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, err = emb.EmbedStrings(context.Background(), []string{"python"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")

	short := newFakeEmbeddingServer(t, http.StatusOK, func(map[string]any) any {
		return map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float64{1}}}}
	})
	emb, err = parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: short.URL},
		parser.WithEmbedderHTTPClient(short.Client()))
	require.NoError(t, err)
	_, err = emb.EmbedStrings(context.Background(), []string{"a", "b"})
	assert.Error(t, err, "返回数量不一致应报错")

	vecs, err := emb.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

// TestAliyunEmbedderLive 调用真实接口，需要 ALIYUN_API_KEY
func TestAliyunEmbedderLive(t *testing.T) {
	apiKey := os.Getenv(envAliyunAPIKey)
	if apiKey == "" {
		t.Skipf("跳过测试：未设置 %s 环境变量", envAliyunAPIKey)
	}
	emb, err := parser.NewAliyunEmbedder(apiKey, config.EmbeddingConfig{Model: "text-embedding-v3", Dimensions: 1024})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vecs, err := emb.EmbedStrings(ctx, []string{"Go 语言后端开发", "Data analysis with SQL"})
	require.NoError(t, err, "调用向量化接口失败")
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 1024)
}
