package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
	"career-agent-go/pkg/vecmath"
)

const (
	// 规范名称与普通别名的匹配置信度
	canonicalConfidence = 1.0
	aliasConfidence     = 0.9

	// DefaultEmbeddingMatchThreshold 向量匹配的默认相似度阈值
	DefaultEmbeddingMatchThreshold = 0.82
	embedBatchSize                 = 10
	maxPhraseWords                 = 6
)

// SkillMatcher 技能匹配策略：在一段文本中识别分类体系中的技能
type SkillMatcher interface {
	Match(ctx context.Context, text string) ([]types.SkillMention, error)
}

// ExactAliasMatcher 基于别名的精确匹配（最长优先、不重叠）
type ExactAliasMatcher struct {
	tax *taxonomy.Taxonomy
}

// NewExactAliasMatcher 创建精确别名匹配器
func NewExactAliasMatcher(tax *taxonomy.Taxonomy) *ExactAliasMatcher {
	return &ExactAliasMatcher{tax: tax}
}

// Match 实现 SkillMatcher
func (m *ExactAliasMatcher) Match(_ context.Context, text string) ([]types.SkillMention, error) {
	toks := taxonomy.Tokenize(text)
	maxN := m.tax.MaxAliasTokens()
	var out []types.SkillMention
	for i := 0; i < len(toks); {
		matched := false
		for n := min(maxN, len(toks)-i); n >= 1; n-- {
			phrase := strings.Join(toks[i:i+n], " ")
			ref, ok := m.tax.LookupAlias(phrase)
			if !ok {
				continue
			}
			conf := aliasConfidence
			if ref.Canonical {
				conf = canonicalConfidence
			}
			out = append(out, types.SkillMention{TaxonomyID: ref.ID, SurfaceForm: phrase, Confidence: conf})
			i += n
			matched = true
			break
		}
		if !matched {
			i++
		}
	}
	return mergeMentions(out), nil
}

type labelVector struct {
	id  string
	vec []float64
}

// EmbeddingMatcher 基于向量相似度匹配：候选短语与预先向量化的分类标签比较
type EmbeddingMatcher struct {
	embedder  embedding.Embedder
	labels    []labelVector
	threshold float64
}

// NewEmbeddingMatcher 向量化全部分类标签并创建匹配器
func NewEmbeddingMatcher(ctx context.Context, tax *taxonomy.Taxonomy, embedder embedding.Embedder, threshold float64) (*EmbeddingMatcher, error) {
	if threshold <= 0 {
		threshold = DefaultEmbeddingMatchThreshold
	}
	entries := tax.Entries()
	texts := make([]string, len(entries))
	for i := range entries {
		texts[i] = entries[i].Label()
	}
	vecs, err := EmbedInBatches(ctx, embedder, texts, embedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("向量化分类标签失败: %w", err)
	}
	m := &EmbeddingMatcher{embedder: embedder, threshold: threshold}
	for i, v := range vecs {
		if nv := vecmath.Normalize(v); nv != nil {
			m.labels = append(m.labels, labelVector{id: entries[i].ID, vec: nv})
		}
	}
	return m, nil
}

// Match 实现 SkillMatcher
func (m *EmbeddingMatcher) Match(ctx context.Context, text string) ([]types.SkillMention, error) {
	phrases := candidatePhrases(text)
	if len(phrases) == 0 || len(m.labels) == 0 {
		return nil, nil
	}
	vecs, err := EmbedInBatches(ctx, m.embedder, phrases, embedBatchSize)
	if err != nil {
		return nil, err
	}
	var out []types.SkillMention
	for i, v := range vecs {
		nv := vecmath.Normalize(v)
		if nv == nil {
			continue
		}
		bestID, best := "", -1.0
		for _, l := range m.labels {
			if s := vecmath.Dot(nv, l.vec); s > best {
				bestID, best = l.id, s
			}
		}
		if best >= m.threshold {
			out = append(out, types.SkillMention{TaxonomyID: bestID, SurfaceForm: phrases[i], Confidence: vecmath.Clamp(best, 0, 1)})
		}
	}
	return mergeMentions(out), nil
}

var phraseSplitRe = regexp.MustCompile(`[,;|•·/\n()]+|\s+and\s+|\s+&\s+|:\s`)

// candidatePhrases 按常见分隔符切分出短语（去重，保持出现顺序）
func candidatePhrases(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range phraseSplitRe.Split(text, -1) {
		p = strings.Trim(strings.TrimSpace(p), ".-")
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n := len(strings.Fields(p)); n > maxPhraseWords {
			continue
		}
		key := taxonomy.Key(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// EnsembleMatcher 组合多个匹配策略，同一技能取最高置信度
type EnsembleMatcher struct {
	matchers []SkillMatcher
}

// NewEnsembleMatcher 创建组合匹配器
func NewEnsembleMatcher(matchers ...SkillMatcher) *EnsembleMatcher {
	return &EnsembleMatcher{matchers: matchers}
}

// Match 实现 SkillMatcher。某个策略出错时其余策略照常运行，
// 返回成功策略的合并结果以及首个错误。
func (m *EnsembleMatcher) Match(ctx context.Context, text string) ([]types.SkillMention, error) {
	var all []types.SkillMention
	var firstErr error
	for _, sm := range m.matchers {
		ms, err := sm.Match(ctx, text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, ms...)
	}
	return mergeMentions(all), firstErr
}

// mergeMentions 同一 taxonomy_id 只保留置信度最高的一条（保持首次出现顺序）
func mergeMentions(ms []types.SkillMention) []types.SkillMention {
	idx := map[string]int{}
	out := ms[:0:0]
	for _, m := range ms {
		if i, ok := idx[m.TaxonomyID]; ok {
			if better(m, out[i]) {
				out[i] = m
			}
			continue
		}
		idx[m.TaxonomyID] = len(out)
		out = append(out, m)
	}
	return out
}

// better 判断 a 是否优于 b：置信度更高，或置信度相同但来自证据权重更高的章节
func better(a, b types.SkillMention) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return SectionEvidenceWeight(a.SectionKind) > SectionEvidenceWeight(b.SectionKind)
}

// SectionEvidenceWeight 章节的证据权重：工作经历中出现的技能比单纯罗列更可信
func SectionEvidenceWeight(kind types.SectionKind) float64 {
	switch kind {
	case types.SectionExperience:
		return 1.0
	case types.SectionProjects:
		return 0.9
	case types.SectionSkills:
		return 0.7
	case types.SectionEducation:
		return 0.6
	default:
		return 0.5
	}
}

// EmbedInBatches 分批调用向量化能力，并校验返回数量
func EmbedInBatches(ctx context.Context, embedder embedding.Embedder, texts []string, batch int) ([][]float64, error) {
	if batch <= 0 {
		batch = embedBatchSize
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vecs, err := embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
