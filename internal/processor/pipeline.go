// Package processor 请求级流水线：文档 -> 画像 -> 差距 -> 检索 -> 排序 -> 建议，
// 以及批量请求上的公平性检查。
package processor

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	gofrsuuid "github.com/gofrs/uuid/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"career-agent-go/internal/agent"
	"career-agent-go/internal/fairness"
	"career-agent-go/internal/gap"
	"career-agent-go/internal/parser"
	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/storage/models"
	"career-agent-go/internal/tracing"
	"career-agent-go/internal/types"
)

const maxQueryTextRunes = 2000

var tracer = otel.Tracer("career-agent-go/processor")

// profileNamespace 简历画像ID的命名空间，同一文档始终得到同一ID
var profileNamespace = gofrsuuid.NewV5(gofrsuuid.NamespaceURL, "career-agent-go/profile")

// Request 单次推荐请求
type Request struct {
	RequestID string
	Document  []byte
	Password  string
	// TargetRole 与 TargetProfile 二选一，TargetProfile 优先
	TargetRole    string
	TargetProfile types.TargetProfile
	K             int
	// Group 仅批量请求使用，由调用方提供
	Group string
}

// Result 推荐结果
type Result struct {
	RequestID       string                 `json:"request_id"`
	Profile         *types.ResumeProfile   `json:"profile"`
	TargetRole      string                 `json:"target_role,omitempty"`
	Gaps            []types.GapEntry       `json:"gaps"`
	Recommendations []types.Recommendation `json:"recommendations"`
	CareerPaths     []gap.CareerPath       `json:"career_paths,omitempty"`
	Roadmap         []gap.RoadmapPhase     `json:"roadmap"`
	Advice          string                 `json:"advice,omitempty"`
	GenerationID    string                 `json:"generation_id,omitempty"`
	ProfileCached   bool                   `json:"profile_cached"`
	Degraded        bool                   `json:"degraded"`
	DegradedReasons []string               `json:"degraded_reasons,omitempty"`
}

func (r *Result) degrade(reason string) {
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}

// Pipeline 推荐流水线。除组件本身外不持有请求间共享的可变状态。
type Pipeline struct {
	Components
	settings Settings
}

// NewPipeline 创建流水线，base 中的解析、分段、抽取、分析、检索、排序组件必须提供
func NewPipeline(base Components, compOpts []ComponentOpt, setOpts []SettingOpt) (*Pipeline, error) {
	for _, o := range compOpts {
		o(&base)
	}
	settings := defaultSettings()
	for _, o := range setOpts {
		o(&settings)
	}

	missing := []string{}
	if base.Parser == nil {
		missing = append(missing, "Parser")
	}
	if base.Segmenter == nil {
		missing = append(missing, "Segmenter")
	}
	if base.Extractor == nil {
		missing = append(missing, "Extractor")
	}
	if base.Analyzer == nil {
		missing = append(missing, "Analyzer")
	}
	if base.Retriever == nil {
		missing = append(missing, "Retriever")
	}
	if base.Ranker == nil {
		missing = append(missing, "Ranker")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline missing components: %s", strings.Join(missing, ", "))
	}
	if base.Monitor == nil {
		base.Monitor = fairness.NewMonitor(fairness.DefaultTolerance, fairness.DefaultMaxAdjustment)
	}
	return &Pipeline{Components: base, settings: settings}, nil
}

// Recommend 处理单个请求。能力调用超时只会降级结果，不会使请求失败。
func (p *Pipeline) Recommend(ctx context.Context, req Request) (*Result, error) {
	res, err := p.recommend(ctx, req)
	if err != nil {
		return nil, err
	}
	p.audit(ctx, res, req.Group, nil)
	return res, nil
}

func (p *Pipeline) recommend(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "processor.Recommend")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", req.RequestID), attribute.Int("document.size", len(req.Document)))

	target, roleName, err := p.resolveTarget(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = p.settings.DefaultK
	}

	res := &Result{RequestID: req.RequestID, TargetRole: roleName}

	profile, cached, err := p.buildProfile(ctx, req, res)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	res.Profile = profile
	res.ProfileCached = cached
	span.SetAttributes(
		attribute.String("profile.id", profile.ID),
		attribute.Int("profile.skills", len(profile.Skills)),
		attribute.String("profile.email", tracing.SafeAttributeValue("email", profile.Contact.Email, tracing.DefaultMaxLength)),
	)

	report, err := p.Analyzer.Analyze(ctx, profile, target)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		if errors.Is(err, types.ErrIndexUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, NewAnalyzeError(req.RequestID, err)
	}
	res.Gaps = report.Gaps
	if report.Degraded {
		res.degrade("gap evidence: " + report.DegradedReason)
	}

	general, err := p.retrieveGeneral(ctx, res, profile, target, k)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		if errors.Is(err, types.ErrIndexUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, NewRetrieveError(req.RequestID, err)
	}

	res.Recommendations = p.Ranker.Rank(res.Gaps, general)
	if len(res.Recommendations) > k {
		res.Recommendations = res.Recommendations[:k]
	}
	res.Roadmap = gap.BuildRoadmap(res.Gaps)
	if p.Roles != nil {
		res.CareerPaths = gap.SuggestCareerPaths(profile, p.Roles.Roles(), p.settings.MinConfidence)
	}

	if p.settings.GenerateAdvice && p.Generator != nil {
		p.attachAdvice(ctx, res, roleName)
	}
	if p.Index != nil {
		if info, err := p.Index.Status(); err == nil {
			res.GenerationID = info.GenerationID
		}
	}
	span.SetAttributes(
		attribute.Int("result.gaps", len(res.Gaps)),
		attribute.Int("result.recommendations", len(res.Recommendations)),
		attribute.Bool("result.degraded", res.Degraded),
	)
	return res, nil
}

// resolveTarget 显式技能画像优先，否则按岗位名查目录
func (p *Pipeline) resolveTarget(req Request) (types.TargetProfile, string, error) {
	if len(req.TargetProfile) > 0 {
		return req.TargetProfile, req.TargetRole, nil
	}
	if strings.TrimSpace(req.TargetRole) == "" {
		return nil, "", &PipelineError{RequestID: req.RequestID, Component: "Pipeline", Op: "resolve_target", BaseErr: ErrTargetMissing}
	}
	role, ok := p.Roles.Lookup(req.TargetRole)
	if !ok {
		return nil, "", &PipelineError{RequestID: req.RequestID, Component: "Pipeline", Op: "resolve_target", BaseErr: ErrTargetNotFound, Detail: req.TargetRole}
	}
	return types.TargetProfile(role.Skills), role.Name, nil
}

// profileCacheKey 文档MD5；带密码的请求另加密码摘要，
// 加密文档的画像只会被提供同一密码的请求命中
func profileCacheKey(docMD5, password string) string {
	if password == "" {
		return docMD5
	}
	sum := sha256.Sum256([]byte(docMD5 + "\x00" + password))
	return docMD5 + ":" + hex.EncodeToString(sum[:8])
}

// buildProfile 解析文档为画像；同一文档（按MD5）命中缓存时直接复用。
// 技能抽取中的向量化受 EmbedTimeout 约束，失败时保留已匹配的技能并降级，降级画像不写缓存。
func (p *Pipeline) buildProfile(ctx context.Context, req Request, res *Result) (*types.ResumeProfile, bool, error) {
	sum := md5.Sum(req.Document)
	docMD5 := hex.EncodeToString(sum[:])
	cacheKey := profileCacheKey(docMD5, req.Password)

	if p.Profiles != nil && len(req.Document) > 0 {
		cached, err := p.Profiles.GetCachedProfile(ctx, cacheKey)
		if err != nil {
			p.settings.Logger.Printf("[Pipeline] 读取画像缓存失败 md5=%s: %v", docMD5, err)
		} else if cached != nil {
			return cached, true, nil
		}
	}

	blocks, err := p.Parser.Parse(ctx, req.Document, parser.WithPassword(req.Password))
	if err != nil {
		return nil, false, NewIngestError(req.RequestID, err)
	}
	sections := p.Segmenter.Segment(blocks)

	extractCtx, cancel := context.WithTimeout(ctx, p.settings.EmbedTimeout)
	skills, err := p.Extractor.Extract(extractCtx, sections)
	timedOut := errors.Is(extractCtx.Err(), context.DeadlineExceeded)
	cancel()
	degraded := false
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if timedOut {
			err = &types.CapabilityTimeoutError{Capability: "embed", Timeout: p.settings.EmbedTimeout, Err: err}
		}
		degraded = true
		res.degrade("skill extraction: " + err.Error())
		p.settings.Logger.Printf("[Pipeline] 技能抽取降级 request=%s: %v", req.RequestID, err)
	}

	var all strings.Builder
	for _, s := range sections {
		all.WriteString(s.Text())
		all.WriteString("\n")
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("resume.sections", len(sections)),
		attribute.String("resume.preview", tracing.SafeResumeContent(all.String())),
	)
	contact := parser.ExtractContactInfo(all.String())
	profile := &types.ResumeProfile{
		ID:              gofrsuuid.NewV5(profileNamespace, docMD5).String(),
		Skills:          skills,
		ExperienceYears: parser.EstimateExperienceYears(sections, p.settings.Now()),
		Sections:        sections,
		Contact:         contact,
		Quality:         parser.AnalyzeQuality(sections, contact, skills),
	}
	if profile.Skills == nil {
		profile.Skills = []types.SkillMention{}
	}

	if p.Profiles != nil && !degraded {
		if err := p.Profiles.CacheProfile(ctx, cacheKey, profile, p.settings.ProfileCacheTTL); err != nil {
			p.settings.Logger.Printf("[Pipeline] 写入画像缓存失败 md5=%s: %v", docMD5, err)
		}
	}
	if p.Archive != nil {
		if _, err := p.Archive.ArchiveDocument(ctx, profile.ID, req.Document); err != nil {
			p.settings.Logger.Printf("[Pipeline] 归档文档失败 profile=%s: %v", profile.ID, err)
		}
	}
	return profile, false, nil
}

// retrieveGeneral 以画像文本向量检索岗位；向量化失败时降级为词汇检索
func (p *Pipeline) retrieveGeneral(ctx context.Context, res *Result, profile *types.ResumeProfile, target types.TargetProfile, k int) ([]types.RetrievalResult, error) {
	skills := querySkills(profile, target, p.settings.MinConfidence)
	opts := []retrieval.RetrieveOption{retrieval.WithKinds(types.CorpusKindJob)}

	vec, err := p.embedQuery(ctx, p.profileQueryText(profile))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.degrade("job retrieval: " + err.Error())
		p.settings.Logger.Printf("[Pipeline] 画像向量化失败，岗位检索降级为词汇检索: %v", err)
		return p.Retriever.RetrieveLexical(ctx, skills, k, opts...)
	}
	return p.Retriever.Retrieve(ctx, vec, skills, k, opts...)
}

func (p *Pipeline) embedQuery(ctx context.Context, text string) ([]float64, error) {
	if p.Embedder == nil {
		return nil, errors.New("no embedding capability configured")
	}
	embedCtx, cancel := context.WithTimeout(ctx, p.settings.EmbedTimeout)
	defer cancel()
	vecs, err := p.Embedder.EmbedStrings(embedCtx, []string{text})
	if err != nil {
		if errors.Is(embedCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &types.CapabilityTimeoutError{Capability: "embed", Timeout: p.settings.EmbedTimeout, Err: err}
		}
		return nil, fmt.Errorf("embed profile: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
	}
	return vecs[0], nil
}

// profileQueryText 技能名称 + 经历与技能章节文本
func (p *Pipeline) profileQueryText(profile *types.ResumeProfile) string {
	var b strings.Builder
	names := make([]string, 0, len(profile.Skills))
	for _, s := range profile.Skills {
		name := s.TaxonomyID
		if p.Taxonomy != nil {
			name = p.Taxonomy.Name(s.TaxonomyID)
		}
		names = append(names, name)
	}
	if len(names) > 0 {
		b.WriteString("Skills: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	for _, s := range profile.Sections {
		if s.Kind == types.SectionExperience || s.Kind == types.SectionSkills || s.Kind == types.SectionProjects {
			b.WriteString(s.Text())
			b.WriteString("\n")
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		for _, s := range profile.Sections {
			b.WriteString(s.Text())
			b.WriteString("\n")
		}
		text = strings.TrimSpace(b.String())
	}
	if r := []rune(text); len(r) > maxQueryTextRunes {
		text = string(r[:maxQueryTextRunes])
	}
	return text
}

// querySkills 画像技能与目标技能的并集，已排序
func querySkills(profile *types.ResumeProfile, target types.TargetProfile, minConf float64) []string {
	set := map[string]struct{}{}
	for _, s := range profile.Skills {
		if s.Confidence >= minConf {
			set[s.TaxonomyID] = struct{}{}
		}
	}
	for id, w := range target {
		if w > 0 {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// attachAdvice 排序完成后生成建议；失败时丢弃建议并标记降级
func (p *Pipeline) attachAdvice(ctx context.Context, res *Result, roleName string) {
	prompt, docs := agent.BuildAdvicePrompt(agent.AdviceRequest{
		TargetRole:      roleName,
		Gaps:            res.Gaps,
		Recommendations: res.Recommendations,
	})
	genCtx, cancel := context.WithTimeout(ctx, p.settings.GenerateTimeout)
	defer cancel()
	advice, err := p.Generator.Generate(genCtx, prompt, docs)
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &types.CapabilityTimeoutError{Capability: "generate", Timeout: p.settings.GenerateTimeout, Err: err}
		}
		res.degrade("advice: " + err.Error())
		p.settings.Logger.Printf("[Pipeline] 生成建议失败 request=%s: %v", res.RequestID, err)
		return
	}
	res.Advice = advice
}

// audit 审计写入失败只记录日志
func (p *Pipeline) audit(ctx context.Context, res *Result, group string, report *types.FairnessReport) {
	if p.Audit == nil {
		return
	}
	entry, err := models.NewRecommendationAudit(res.RequestID, res.Profile.ID, res.TargetRole, group, res.GenerationID, res.Degraded, res.Recommendations, report)
	if err != nil {
		p.settings.Logger.Printf("[Pipeline] 构建审计记录失败 request=%s: %v", res.RequestID, err)
		return
	}
	if err := p.Audit.SaveRecommendationAudit(ctx, entry); err != nil {
		p.settings.Logger.Printf("[Pipeline] 保存审计记录失败 request=%s: %v", res.RequestID, err)
	}
}

// BatchItem 批量请求中单个请求的结果
type BatchItem struct {
	Group  string  `json:"group"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	err    error
}

// Err 返回原始错误
func (b BatchItem) Err() error { return b.err }

// BatchResult 批量推荐结果，附带按群体统计的公平性报告
type BatchResult struct {
	Items    []BatchItem          `json:"items"`
	Fairness types.FairnessReport `json:"fairness"`
}

// RecommendBatch 并发处理一批请求，单个请求失败记录在对应条目中。
// 成功且带群体标签的结果参与公平性检查；违规且开启调整时对落后群体做有界上调。
// 每个成功条目的审计记录附带本批的公平性报告。
func (p *Pipeline) RecommendBatch(ctx context.Context, reqs []Request) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "processor.RecommendBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(reqs)))

	items := make([]BatchItem, len(reqs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.settings.BatchConcurrency)
	for i := range reqs {
		i := i
		items[i].Group = reqs[i].Group
		eg.Go(func() error {
			res, err := p.recommend(egCtx, reqs[i])
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				items[i].err = err
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
		return nil, err
	}

	sets := map[string][][]types.Recommendation{}
	for _, it := range items {
		if it.Result == nil || it.Group == "" {
			continue
		}
		sets[it.Group] = append(sets[it.Group], it.Result.Recommendations)
	}
	report := p.Monitor.Check(sets)
	if !report.Passed && p.settings.Mitigate {
		report = p.Monitor.Mitigate(sets, report)
	}
	span.SetAttributes(attribute.Bool("fairness.passed", report.Passed), attribute.Int("fairness.groups", len(report.GroupStats)))
	if !report.Passed {
		p.settings.Logger.Printf("[Pipeline] 公平性检查未通过: %s", fairness.Summary(report))
	}
	// 审计在调整之后写入，记录的解释明细包含公平性调整项
	for _, it := range items {
		if it.Result != nil {
			p.audit(ctx, it.Result, it.Group, &report)
		}
	}
	return &BatchResult{Items: items, Fairness: report}, nil
}
