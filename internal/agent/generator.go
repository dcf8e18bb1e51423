// Package agent 文本生成能力：在排序完成后把推荐结果组织成职业建议
package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"career-agent-go/internal/types"
)

const defaultSystemPrompt = `You are a career advisor. Using only the supplied context, write concise, practical advice ` +
	`(at most 150 words) explaining which skills to build next and why the listed items help. ` +
	`Do not invent courses or jobs that are not in the context.`

// Generator generate(prompt, context) -> text 能力
type Generator struct {
	model        model.ToolCallingChatModel
	systemPrompt string
	logger       *log.Logger
}

// GeneratorOption 配置选项
type GeneratorOption func(*Generator)

// WithSystemPrompt 替换系统提示词
func WithSystemPrompt(p string) GeneratorOption {
	return func(g *Generator) { g.systemPrompt = p }
}

// WithGeneratorLogger 设置日志记录器
func WithGeneratorLogger(l *log.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator 基于对话模型创建生成器
func NewGenerator(m model.ToolCallingChatModel, opts ...GeneratorOption) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	g := &Generator{model: m, systemPrompt: defaultSystemPrompt, logger: log.New(io.Discard, "", 0)}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Generate 以 context 片段作为参考资料生成文本
func (g *Generator) Generate(ctx context.Context, prompt string, contextDocs []string) (string, error) {
	var user strings.Builder
	if len(contextDocs) > 0 {
		user.WriteString("Context:\n")
		for i, c := range contextDocs {
			fmt.Fprintf(&user, "[%d] %s\n", i+1, c)
		}
		user.WriteString("\n")
	}
	user.WriteString(prompt)

	msgs := []*schema.Message{
		schema.SystemMessage(g.systemPrompt),
		schema.UserMessage(user.String()),
	}
	resp, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("generate: empty response")
	}
	g.logger.Printf("生成建议 %d 字符 (context %d 条)", len(resp.Content), len(contextDocs))
	return strings.TrimSpace(resp.Content), nil
}

// AdviceRequest 生成建议所需的排序结果
type AdviceRequest struct {
	TargetRole      string
	Gaps            []types.GapEntry
	Recommendations []types.Recommendation
	MaxContext      int
}

// BuildAdvicePrompt 组装提示词与参考片段：缺口列表 + 排名靠前的推荐及其解释
func BuildAdvicePrompt(req AdviceRequest) (string, []string) {
	maxCtx := req.MaxContext
	if maxCtx <= 0 {
		maxCtx = 5
	}
	var docs []string
	for i, r := range req.Recommendations {
		if i >= maxCtx {
			break
		}
		parts := make([]string, 0, len(r.Rationale))
		for _, c := range r.Rationale {
			parts = append(parts, fmt.Sprintf("%s=%.3f", c.Feature, c.Value))
		}
		docs = append(docs, fmt.Sprintf("%s (%s, score %.3f; %s)", r.Title, r.Kind, r.Score, strings.Join(parts, ", ")))
	}

	gapNames := make([]string, 0, len(req.Gaps))
	for _, g := range req.Gaps {
		name := g.Name
		if name == "" {
			name = g.TaxonomyID
		}
		gapNames = append(gapNames, fmt.Sprintf("%s (weight %.2f)", name, g.TargetWeight))
	}

	role := req.TargetRole
	if role == "" {
		role = "the target role"
	}
	prompt := fmt.Sprintf("The candidate is aiming for %s. Missing skills: %s. Write advice referencing the context items.",
		role, orNone(strings.Join(gapNames, "; ")))
	return prompt, docs
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// ChatRequest 职业问答所需的画像摘要与检索结果
type ChatRequest struct {
	Question   string
	Skills     []string
	Sources    []types.RetrievalResult
	MaxContext int
}

// BuildChatPrompt 组装问答提示词：检索到的条目作为参考片段，问题放在最后
func BuildChatPrompt(req ChatRequest) (string, []string) {
	maxCtx := req.MaxContext
	if maxCtx <= 0 {
		maxCtx = 5
	}
	var docs []string
	for i, r := range req.Sources {
		if i >= maxCtx {
			break
		}
		if r.Item == nil {
			continue
		}
		doc := fmt.Sprintf("%s (%s; skills: %s)", r.Item.DisplayTitle(), r.Item.Kind, orNone(strings.Join(r.Item.TaxonomyTags, ", ")))
		if text := strings.TrimSpace(r.Item.Text); text != "" {
			if rs := []rune(text); len(rs) > 300 {
				text = string(rs[:300]) + "..."
			}
			doc += ": " + text
		}
		docs = append(docs, doc)
	}
	prompt := fmt.Sprintf("The candidate's skills: %s.\nQuestion: %s\nAnswer the question using the context items.",
		orNone(strings.Join(req.Skills, ", ")), strings.TrimSpace(req.Question))
	return prompt, docs
}
