package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/agent"
	"career-agent-go/internal/fairness"
	"career-agent-go/internal/gap"
	"career-agent-go/internal/index"
	"career-agent-go/internal/parser"
	"career-agent-go/internal/ranking"
	"career-agent-go/internal/retrieval"
	"career-agent-go/internal/storage/models"
	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
)

const pipelineTaxonomyYAML = `
skills:
  - id: python
    name: Python
  - id: sql
    name: SQL
  - id: statistics
    name: Statistics
  - id: docker
    name: Docker
`

const pythonResume = `Jane Doe
jane.doe@example.com | +1 555 123 4567

EXPERIENCE
Data Engineer, Acme 2019 - 2023
Built ETL pipelines in Python.

SKILLS:
Python, Docker
`

const pythonSQLResume = `John Roe
john.roe@example.com

EXPERIENCE
Analyst, Beta 2020 - 2022
Reporting with Python and SQL.

SKILLS:
Python, SQL
`

// stubEmbedder 每个文本返回固定向量；delay 用于模拟超时
type stubEmbedder struct {
	mu    sync.Mutex
	vec   []float64
	delay time.Duration
	texts [][]string
}

func (s *stubEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	s.mu.Lock()
	s.texts = append(s.texts, append([]string(nil), texts...))
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) GetDimensions() int { return len(s.vec) }

func (s *stubEmbedder) calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.texts...)
}

// memProfileCache 内存版画像缓存
type memProfileCache struct {
	mu       sync.Mutex
	profiles map[string]*types.ResumeProfile
}

func (m *memProfileCache) GetCachedProfile(_ context.Context, docMD5 string) (*types.ResumeProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[docMD5], nil
}

func (m *memProfileCache) CacheProfile(_ context.Context, docMD5 string, p *types.ResumeProfile, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles == nil {
		m.profiles = map[string]*types.ResumeProfile{}
	}
	m.profiles[docMD5] = p
	return nil
}

// memAudit 记录审计条目
type memAudit struct {
	mu      sync.Mutex
	entries []*models.RecommendationAudit
}

func (m *memAudit) SaveRecommendationAudit(_ context.Context, a *models.RecommendationAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, a)
	return nil
}

// lockedTextParser 模拟加密文档：密码不符时返回加密错误，否则按纯文本解析
type lockedTextParser struct {
	inner    DocumentParser
	password string
	mu       sync.Mutex
	seen     []string
}

func (l *lockedTextParser) Parse(ctx context.Context, data []byte, opts ...parser.ParseOption) ([]types.TextBlock, error) {
	pw := parser.PasswordOf(opts...)
	l.mu.Lock()
	l.seen = append(l.seen, pw)
	l.mu.Unlock()
	if pw != l.password {
		return nil, &types.UnreadableDocumentError{Reason: "password required or invalid", Encrypted: true}
	}
	return l.inner.Parse(ctx, data)
}

type fixture struct {
	tax      *taxonomy.Taxonomy
	store    *index.Store
	embedder *stubEmbedder
	comps    Components
}

func newFixture(t *testing.T, embedTimeout time.Duration, publish bool) *fixture {
	t.Helper()
	ctx := context.Background()
	tax, err := taxonomy.Parse([]byte(pipelineTaxonomyYAML))
	require.NoError(t, err)

	store := index.NewStore()
	if publish {
		items := []*types.CorpusItem{
			{ID: "course-sql-1", Kind: types.CorpusKindCourse, Title: "SQL Basics", Embedding: []float64{1, 0}, TaxonomyTags: []string{"sql"}},
			{ID: "course-sql-2", Kind: types.CorpusKindCourse, Title: "Advanced SQL", Embedding: []float64{0.9, 0.1}, TaxonomyTags: []string{"sql", "statistics"}},
			{ID: "course-stats", Kind: types.CorpusKindCourse, Title: "Intro Statistics", Embedding: []float64{0, 1}, TaxonomyTags: []string{"statistics"}},
			{ID: "job-analyst", Kind: types.CorpusKindJob, Title: "Data Analyst", Embedding: []float64{1, 0}, TaxonomyTags: []string{"sql"}},
		}
		g, err := index.Build(items, index.DefaultBuildOptions())
		require.NoError(t, err)
		store.Publish(ctx, g)
	}

	retriever, err := retrieval.NewHybridRetriever(store, tax)
	require.NoError(t, err)
	ingestor, err := parser.NewIngestor(ctx)
	require.NoError(t, err)
	emb := &stubEmbedder{vec: []float64{1, 0}}
	roles, err := taxonomy.NewRoleCatalog([]taxonomy.Role{
		{Name: "Data Analyst", Skills: map[string]float64{"sql": 0.6, "statistics": 0.4}},
		{Name: "Python Developer", Skills: map[string]float64{"python": 0.7, "docker": 0.3}},
	}, tax)
	require.NoError(t, err)

	return &fixture{
		tax:      tax,
		store:    store,
		embedder: emb,
		comps: Components{
			Parser:    ingestor,
			Segmenter: parser.NewSegmenter(0.15),
			Extractor: parser.NewSkillExtractor(parser.NewExactAliasMatcher(tax)),
			Analyzer:  gap.NewAnalyzer(tax, retriever, emb, gap.WithEmbedTimeout(embedTimeout)),
			Retriever: retriever,
			Ranker:    ranking.NewRanker(ranking.DefaultWeights(), 10),
			Monitor:   fairness.NewMonitor(fairness.DefaultTolerance, fairness.DefaultMaxAdjustment),
			Roles:     roles,
			Taxonomy:  tax,
			Embedder:  emb,
			Index:     store,
		},
	}
}

func TestRecommendEndToEnd(t *testing.T) {
	f := newFixture(t, time.Second, true)
	audit := &memAudit{}
	gen, err := agent.NewGenerator(agent.NewMockChatModel("Start with SQL Basics.", nil))
	require.NoError(t, err)
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompGenerator(gen), WithcompAudit(audit)}, nil)
	require.NoError(t, err)

	res, err := p.Recommend(context.Background(), Request{
		RequestID:     "req-1",
		Document:      []byte(pythonResume),
		TargetProfile: types.TargetProfile{"python": 0.9, "sql": 0.5},
	})
	require.NoError(t, err)
	assert.False(t, res.Degraded, "reasons: %v", res.DegradedReasons)

	assert.Equal(t, []string{"docker", "python"}, res.Profile.SkillIDs())
	assert.Equal(t, "jane.doe@example.com", res.Profile.Contact.Email)
	assert.NotEmpty(t, res.Profile.ID)

	require.Len(t, res.Gaps, 1)
	assert.Equal(t, "sql", res.Gaps[0].TaxonomyID)

	require.NotEmpty(t, res.Recommendations)
	assert.Equal(t, "course-sql-1", res.Recommendations[0].ItemID)
	for _, rec := range res.Recommendations {
		assert.InDelta(t, rec.SumRationale(), rec.Score, 1e-12, "得分必须等于解释贡献之和")
	}

	require.Len(t, res.Roadmap, 1)
	assert.Equal(t, gap.PhaseFoundation, res.Roadmap[0].Name)
	require.Len(t, res.CareerPaths, 2)
	assert.Equal(t, "Python Developer", res.CareerPaths[0].Role)
	assert.Equal(t, 1.0, res.CareerPaths[0].Coverage)

	assert.Equal(t, "Start with SQL Basics.", res.Advice)
	info, err := f.store.Status()
	require.NoError(t, err)
	assert.Equal(t, info.GenerationID, res.GenerationID)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "req-1", audit.entries[0].RequestID)
	assert.Equal(t, res.Profile.ID, audit.entries[0].ProfileID)
}

func TestRecommendTargetResolution(t *testing.T) {
	f := newFixture(t, time.Second, true)
	p, err := NewPipeline(f.comps, nil, []SettingOpt{WithsetGenerateAdvice(false)})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := p.Recommend(ctx, Request{Document: []byte(pythonResume), TargetRole: "data analyst"})
	require.NoError(t, err)
	assert.Equal(t, "Data Analyst", res.TargetRole)
	assert.NotEmpty(t, res.RequestID, "未指定时自动生成请求ID")
	ids := []string{}
	for _, g := range res.Gaps {
		ids = append(ids, g.TaxonomyID)
	}
	assert.Equal(t, []string{"sql", "statistics"}, ids)

	_, err = p.Recommend(ctx, Request{Document: []byte(pythonResume), TargetRole: "astronaut"})
	assert.ErrorIs(t, err, ErrTargetNotFound)

	_, err = p.Recommend(ctx, Request{Document: []byte(pythonResume)})
	assert.ErrorIs(t, err, ErrTargetMissing)
}

func TestRecommendUnreadableDocument(t *testing.T) {
	f := newFixture(t, time.Second, true)
	p, err := NewPipeline(f.comps, nil, nil)
	require.NoError(t, err)

	_, err = p.Recommend(context.Background(), Request{
		RequestID:     "bad-doc",
		Document:      []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10},
		TargetProfile: types.TargetProfile{"sql": 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreadableDocument)
	assert.ErrorIs(t, err, ErrIngestFailed)
	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad-doc", pe.RequestID)
	assert.Equal(t, "DocumentIngestor", pe.Component)
}

func TestRecommendDegradesOnCapabilityTimeouts(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond, true)
	f.embedder.delay = 200 * time.Millisecond
	gen, err := agent.NewGenerator(agent.NewMockChatModelSequential([]agent.MockResponse{{Content: "late", Delay: time.Second}}))
	require.NoError(t, err)
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompGenerator(gen)},
		[]SettingOpt{WithsetTimeouts(10*time.Millisecond, 10*time.Millisecond)})
	require.NoError(t, err)

	res, err := p.Recommend(context.Background(), Request{
		Document:      []byte(pythonResume),
		TargetProfile: types.TargetProfile{"python": 0.9, "sql": 0.5},
	})
	require.NoError(t, err, "能力超时只降级不失败")
	assert.True(t, res.Degraded)
	joined := strings.Join(res.DegradedReasons, "; ")
	assert.Contains(t, joined, "gap evidence")
	assert.Contains(t, joined, "job retrieval")
	assert.Contains(t, joined, "advice: generate capability timed out")
	assert.Empty(t, res.Advice)
	require.NotEmpty(t, res.Recommendations, "词汇检索仍产生推荐")
	for _, rec := range res.Recommendations {
		assert.InDelta(t, rec.SumRationale(), rec.Score, 1e-12)
	}
}

func TestRecommendIndexUnavailable(t *testing.T) {
	f := newFixture(t, time.Second, false)
	p, err := NewPipeline(f.comps, nil, nil)
	require.NoError(t, err)

	_, err = p.Recommend(context.Background(), Request{
		Document:      []byte(pythonResume),
		TargetProfile: types.TargetProfile{"sql": 0.5},
	})
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
}

func TestRecommendUsesProfileCache(t *testing.T) {
	f := newFixture(t, time.Second, true)
	cache := &memProfileCache{}
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompProfileCache(cache)}, []SettingOpt{WithsetGenerateAdvice(false)})
	require.NoError(t, err)
	req := Request{Document: []byte(pythonResume), TargetProfile: types.TargetProfile{"sql": 0.5}}

	first, err := p.Recommend(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.ProfileCached)
	assert.Len(t, cache.profiles, 1)

	second, err := p.Recommend(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.ProfileCached, "同一文档命中缓存")
	assert.Equal(t, first.Profile.ID, second.Profile.ID, "画像ID由文档内容决定")
}

func TestProfileCacheRequiresPasswordForEncryptedDocuments(t *testing.T) {
	f := newFixture(t, time.Second, true)
	locked := &lockedTextParser{inner: f.comps.Parser, password: "secret"}
	f.comps.Parser = locked
	cache := &memProfileCache{}
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompProfileCache(cache)}, []SettingOpt{WithsetGenerateAdvice(false)})
	require.NoError(t, err)
	ctx := context.Background()
	req := Request{Document: []byte(pythonResume), Password: "secret", TargetProfile: types.TargetProfile{"sql": 0.5}}

	first, err := p.Recommend(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.ProfileCached)

	noPassword := req
	noPassword.Password = ""
	_, err = p.Recommend(ctx, noPassword)
	require.Error(t, err, "未提供密码时不能命中加密文档的缓存画像")
	assert.ErrorIs(t, err, types.ErrUnreadableDocument)
	var ude *types.UnreadableDocumentError
	require.True(t, errors.As(err, &ude))
	assert.True(t, ude.Encrypted)

	wrong := req
	wrong.Password = "guess"
	_, err = p.Recommend(ctx, wrong)
	assert.ErrorIs(t, err, types.ErrUnreadableDocument, "错误密码同样不能命中缓存")

	again, err := p.Recommend(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.ProfileCached, "同一密码命中缓存")
	assert.Equal(t, first.Profile.ID, again.Profile.ID)
	assert.Equal(t, []string{"secret", "", "guess"}, locked.seen)
}

func TestRecommendDegradesWhenSkillEmbeddingTimesOut(t *testing.T) {
	for name, delay := range map[string]time.Duration{
		"slow embedder": 300 * time.Millisecond,
		"hung embedder": 5 * time.Second,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 20*time.Millisecond, true)
			em, err := parser.NewEmbeddingMatcher(context.Background(), f.tax, f.embedder, 0)
			require.NoError(t, err)
			f.comps.Extractor = parser.NewSkillExtractor(parser.NewEnsembleMatcher(parser.NewExactAliasMatcher(f.tax), em))
			f.embedder.delay = delay
			cache := &memProfileCache{}
			p, err := NewPipeline(f.comps, []ComponentOpt{WithcompProfileCache(cache)},
				[]SettingOpt{WithsetGenerateAdvice(false), WithsetTimeouts(20*time.Millisecond, 20*time.Millisecond)})
			require.NoError(t, err)

			start := time.Now()
			res, err := p.Recommend(context.Background(), Request{
				Document:      []byte(pythonResume),
				TargetProfile: types.TargetProfile{"python": 0.9, "sql": 0.5},
			})
			require.NoError(t, err, "技能向量化超时只降级不失败")
			assert.Less(t, time.Since(start), 250*time.Millisecond, "抽取阶段受向量化超时约束")
			assert.True(t, res.Degraded)
			assert.Contains(t, strings.Join(res.DegradedReasons, "; "), "skill extraction: embed capability timed out")
			assert.Equal(t, []string{"docker", "python"}, res.Profile.SkillIDs(), "别名匹配结果保留")
			assert.Empty(t, cache.profiles, "降级画像不写缓存")
		})
	}
}

func TestRecommendBatchFairnessMitigation(t *testing.T) {
	f := newFixture(t, time.Second, true)
	p, err := NewPipeline(f.comps, nil, []SettingOpt{WithsetGenerateAdvice(false), WithsetBatchConcurrency(2)})
	require.NoError(t, err)

	target := types.TargetProfile{"python": 0.9, "sql": 0.5}
	out, err := p.RecommendBatch(context.Background(), []Request{
		{Group: "A", Document: []byte(pythonResume), TargetProfile: target},
		{Group: "B", Document: []byte(pythonSQLResume), TargetProfile: target},
		{Group: "B", Document: []byte{0x00, 0x01, 0xff}, TargetProfile: target},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 3)
	assert.NotEmpty(t, out.Items[2].Error, "单个失败不影响整批")
	assert.ErrorIs(t, out.Items[2].Err(), types.ErrUnreadableDocument)

	report := out.Fairness
	assert.Equal(t, fairness.StatisticMeanTop1, report.Statistic)
	assert.InDelta(t, 0.85, report.GroupStats["A"], 1e-9)
	require.Len(t, report.Adjustments, 1)
	assert.Equal(t, "B", report.Adjustments[0].Group)
	assert.InDelta(t, fairness.DefaultMaxAdjustment, report.Adjustments[0].Delta, 1e-12)
	assert.False(t, report.Passed, "有界调整后差距仍超出容差")

	top := out.Items[1].Result.Recommendations[0]
	assert.Equal(t, "job-analyst", top.ItemID)
	assert.InDelta(t, 0.4, top.BaseScore, 1e-9)
	assert.InDelta(t, 0.45, top.Score, 1e-9)
	assert.Equal(t, fairness.FeatureAdjustment, top.Rationale[len(top.Rationale)-1].Feature)
	assert.InDelta(t, top.SumRationale(), top.Score, 1e-12)
}

func TestRecommendBatchAuditsAfterMitigation(t *testing.T) {
	f := newFixture(t, time.Second, true)
	audit := &memAudit{}
	p, err := NewPipeline(f.comps, []ComponentOpt{WithcompAudit(audit)}, []SettingOpt{WithsetGenerateAdvice(false)})
	require.NoError(t, err)

	target := types.TargetProfile{"python": 0.9, "sql": 0.5}
	out, err := p.RecommendBatch(context.Background(), []Request{
		{RequestID: "req-a", Group: "A", Document: []byte(pythonResume), TargetProfile: target},
		{RequestID: "req-b", Group: "B", Document: []byte(pythonSQLResume), TargetProfile: target},
		{RequestID: "req-bad", Group: "B", Document: []byte{0x00, 0x01, 0xff}, TargetProfile: target},
	})
	require.NoError(t, err)
	require.Len(t, out.Fairness.Adjustments, 1)

	require.Len(t, audit.entries, 2, "失败的请求不写审计")
	byRequest := map[string]*models.RecommendationAudit{}
	for _, e := range audit.entries {
		byRequest[e.RequestID] = e
		assert.NotEmpty(t, e.FairnessReportJSON, "批量审计附带公平性报告")
	}
	entryB := byRequest["req-b"]
	require.NotNil(t, entryB)
	assert.Equal(t, "B", entryB.GroupLabel)
	recs, err := entryB.Recommendations()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	returned := out.Items[1].Result.Recommendations[0]
	assert.InDelta(t, returned.Score, recs[0].Score, 1e-12, "审计记录的是调整后的得分")
	assert.Equal(t, fairness.FeatureAdjustment, recs[0].Rationale[len(recs[0].Rationale)-1].Feature)
	assert.Contains(t, string(entryB.FairnessReportJSON), `"adjustments"`)
}

func TestRecommendBatchWithoutMitigation(t *testing.T) {
	f := newFixture(t, time.Second, true)
	p, err := NewPipeline(f.comps, nil, []SettingOpt{WithsetGenerateAdvice(false), WithsetMitigate(false)})
	require.NoError(t, err)

	target := types.TargetProfile{"python": 0.9, "sql": 0.5}
	out, err := p.RecommendBatch(context.Background(), []Request{
		{Group: "A", Document: []byte(pythonResume), TargetProfile: target},
		{Group: "B", Document: []byte(pythonSQLResume), TargetProfile: target},
	})
	require.NoError(t, err)
	assert.False(t, out.Fairness.Passed)
	assert.Equal(t, []string{"A|B"}, out.Fairness.Violations)
	assert.Empty(t, out.Fairness.Adjustments)
	top := out.Items[1].Result.Recommendations[0]
	assert.Equal(t, top.BaseScore, top.Score)
}

func TestNewPipelineRequiresComponents(t *testing.T) {
	_, err := NewPipeline(Components{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parser")
	assert.Contains(t, err.Error(), "Ranker")
}
