package processor

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"career-agent-go/internal/agent"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

const maxQuestionRunes = 1000

// ChatResult 职业问答结果，Sources 为回答引用的检索条目
type ChatResult struct {
	RequestID       string                  `json:"request_id"`
	Answer          string                  `json:"answer,omitempty"`
	Sources         []types.RetrievalResult `json:"sources"`
	ProfileID       string                  `json:"profile_id,omitempty"`
	GenerationID    string                  `json:"generation_id,omitempty"`
	Degraded        bool                    `json:"degraded"`
	DegradedReasons []string                `json:"degraded_reasons,omitempty"`
}

func (r *ChatResult) degrade(reason string) {
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}

// Ask 结合简历画像（可选）回答职业问题。
// 以问题加画像技能检索语料作为参考资料，再交给生成能力作答；
// 向量化失败时退回词汇检索，生成失败或超时时只返回检索条目并标记降级。
func (p *Pipeline) Ask(ctx context.Context, req Request, question string) (*ChatResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "processor.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("query.text", tracing.SafeQueryText(question)),
	)

	question = strings.TrimSpace(question)
	if question == "" {
		err := types.NewInvalidQueryError("question is required")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if r := []rune(question); len(r) > maxQuestionRunes {
		question = string(r[:maxQuestionRunes])
	}
	k := req.K
	if k <= 0 {
		k = p.settings.DefaultK
	}
	res := &ChatResult{RequestID: req.RequestID}

	var (
		skills []string
		names  []string
		query  = question
	)
	if len(req.Document) > 0 {
		stub := &Result{RequestID: req.RequestID}
		profile, _, err := p.buildProfile(ctx, req, stub)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return nil, err
		}
		for _, reason := range stub.DegradedReasons {
			res.degrade(reason)
		}
		res.ProfileID = profile.ID
		skills = querySkills(profile, nil, p.settings.MinConfidence)
		for _, id := range skills {
			if p.Taxonomy != nil {
				names = append(names, p.Taxonomy.Name(id))
			} else {
				names = append(names, id)
			}
		}
		query = question + "\n" + p.profileQueryText(profile)
	}
	// 问题中直接出现的技能名也参与词汇检索
	mentioned, _ := p.resolveSkills(strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	}))
	skills = mergeSorted(skills, mentioned)

	sources, err := p.retrieveForChat(ctx, res, query, skills, k)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeIndex)
		if errors.Is(err, types.ErrIndexUnavailable) || errors.Is(err, types.ErrInvalidQuery) || ctx.Err() != nil {
			return nil, err
		}
		return nil, NewRetrieveError(req.RequestID, err)
	}
	res.Sources = sources
	if p.Index != nil {
		if info, err := p.Index.Status(); err == nil {
			res.GenerationID = info.GenerationID
		}
	}

	if p.Generator == nil {
		res.degrade("answer: no generation capability configured")
	} else {
		prompt, docs := agent.BuildChatPrompt(agent.ChatRequest{Question: question, Skills: names, Sources: sources})
		genCtx, cancel := context.WithTimeout(ctx, p.settings.GenerateTimeout)
		answer, err := p.Generator.Generate(genCtx, prompt, docs)
		timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if timedOut {
				err = &types.CapabilityTimeoutError{Capability: "generate", Timeout: p.settings.GenerateTimeout, Err: err}
			}
			res.degrade("answer: " + err.Error())
			p.settings.Logger.Printf("[Pipeline] 问答生成失败 request=%s: %v", req.RequestID, err)
		} else {
			res.Answer = answer
		}
	}
	span.SetAttributes(attribute.Int("result.count", len(res.Sources)), attribute.Bool("result.degraded", res.Degraded))
	return res, nil
}

// retrieveForChat 向量化失败时退回词汇检索；没有可用技能时返回空结果
func (p *Pipeline) retrieveForChat(ctx context.Context, res *ChatResult, query string, skills []string, k int) ([]types.RetrievalResult, error) {
	vec, err := p.embedQuery(ctx, query)
	if err == nil {
		return p.Retriever.Retrieve(ctx, vec, skills, k)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	res.degrade("context retrieval: " + err.Error())
	if len(skills) == 0 {
		return []types.RetrievalResult{}, nil
	}
	return p.Retriever.RetrieveLexical(ctx, skills, k)
}

// mergeSorted 合并两个已排序的ID列表并去重
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next string
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			next, i = a[i], i+1
		case i >= len(a) || b[j] < a[i]:
			next, j = b[j], j+1
		default:
			next, i, j = a[i], i+1, j+1
		}
		if n := len(out); n == 0 || out[n-1] != next {
			out = append(out, next)
		}
	}
	return out
}
