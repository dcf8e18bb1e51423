package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"career-agent-go/internal/config"
)

const defaultEmbeddingURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"

// AliyunEmbedder 实现 embedding.Embedder 接口（OpenAI 兼容的 embeddings 端点）
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger
}

// AliyunEmbedderOption 配置选项
type AliyunEmbedderOption func(*AliyunEmbedder)

// WithEmbedderHTTPClient 替换 HTTP 客户端（测试中指向 httptest 服务）
func WithEmbedderHTTPClient(c *http.Client) AliyunEmbedderOption {
	return func(a *AliyunEmbedder) { a.httpClient = c }
}

// WithEmbedderLogger 设置日志记录器
func WithEmbedderLogger(l *log.Logger) AliyunEmbedderOption {
	return func(a *AliyunEmbedder) { a.logger = l }
}

// NewAliyunEmbedder 创建阿里云 Embedder
func NewAliyunEmbedder(apiKey string, cfg config.EmbeddingConfig, opts ...AliyunEmbedderOption) (*AliyunEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	a := &AliyunEmbedder{
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{},
		logger:     log.New(os.Stderr, "[AliyunEmbedder] ", log.LstdFlags),
	}
	if a.model == "" {
		a.model = "text-embedding-v3"
	}
	if a.baseURL == "" {
		a.baseURL = defaultEmbeddingURL
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// GetDimensions 返回配置的向量维度
func (a *AliyunEmbedder) GetDimensions() int { return a.dimensions }

// ModelName 返回模型名，用于缓存键
func (a *AliyunEmbedder) ModelName() string { return a.model }

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// EmbedStrings 实现 embedding.Embedder，返回顺序与输入一致
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	model := a.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}

	payload, err := json.Marshal(embeddingRequest{
		Input:          texts,
		Model:          model,
		Dimensions:     a.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var parsed embeddingResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return nil, fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return nil, fmt.Errorf("API调用失败, 状态码: %d, 响应: %.200s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", parsed.Error.Type, parsed.Error.Message, parsed.Error.Code)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("API返回 %d 个向量, 期望 %d", len(parsed.Data), len(texts))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	a.logger.Printf("向量化完成: %d 条文本, 维度 %d, tokens %d", len(texts), len(out[0]), parsed.Usage.TotalTokens)
	return out, nil
}
