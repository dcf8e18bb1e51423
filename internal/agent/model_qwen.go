package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// DashScope 的 OpenAI 兼容端点
	openAICompatibleQwenAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName       = "qwen-plus"
)

// QwenChatModel 通义千问对话模型（OpenAI 兼容协议），实现 model.ToolCallingChatModel。
// 本项目只用它生成建议文本，不绑定工具。
type QwenChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
	tools      []*schema.ToolInfo
	logger     *log.Logger
}

// QwenOption 配置选项
type QwenOption func(*QwenChatModel)

// WithQwenHTTPClient 替换 HTTP 客户端
func WithQwenHTTPClient(c *http.Client) QwenOption {
	return func(q *QwenChatModel) { q.httpClient = c }
}

// WithQwenLogger 设置日志记录器
func WithQwenLogger(l *log.Logger) QwenOption {
	return func(q *QwenChatModel) { q.logger = l }
}

// NewQwenChatModel 创建通义千问对话模型
func NewQwenChatModel(apiKey, modelName, apiURL string, opts ...QwenOption) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = openAICompatibleQwenAPIURL
	}
	q := &QwenChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{},
		logger:     log.New(os.Stderr, "[QwenChatModel] ", log.LstdFlags),
	}
	for _, o := range opts {
		o(q)
	}
	return q, nil
}

// ModelName 模型名，用于按模型限流
func (q *QwenChatModel) ModelName() string { return q.modelName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate 实现 model.ChatModel
func (q *QwenChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	opts := model.GetCommonOptions(&model.Options{}, options...)
	req := chatCompletionRequest{Model: q.modelName, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens}
	if opts.Model != nil && *opts.Model != "" {
		req.Model = *opts.Model
	}
	for _, m := range messages {
		if m == nil || m.Role == schema.Tool {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("没有可发送的消息")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, q.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %.300s", resp.Status, string(body))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}
	content := ""
	if c := parsed.Choices[0].Message.Content; c != nil {
		content = *c
	}
	q.logger.Printf("模型 %s 返回 %d 字符, tokens %d", req.Model, len(content), parsed.Usage.TotalTokens)
	return schema.AssistantMessage(content, nil), nil
}

// Stream 以单块流的形式返回 Generate 的结果
func (q *QwenChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := q.Generate(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 返回绑定了工具的副本；工具只被记录，不随请求发送
func (q *QwenChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	cp := *q
	cp.tools = append([]*schema.ToolInfo(nil), tools...)
	return &cp, nil
}

var _ model.ToolCallingChatModel = (*QwenChatModel)(nil)
