// Package ranking 推荐排序：把缺口证据与岗位证据合并为带解释的推荐列表
package ranking

import (
	"sort"

	"career-agent-go/internal/types"
)

// 解释中的特征名
const (
	FeatureRelevance     = "relevance"
	FeatureRoleAlignment = "role_alignment"
	featureGapPrefix     = "gap:"
	// SkillItemPrefix 无证据缺口的兜底推荐ID前缀
	SkillItemPrefix = "skill:"
	// KindSkill 兜底推荐的类型
	KindSkill = "skill"
)

// Weights 各特征的权重
type Weights struct {
	Gap       float64
	Relevance float64
	Alignment float64
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{Gap: 0.5, Relevance: 0.35, Alignment: 0.15}
}

// Ranker 无状态的推荐排序器
type Ranker struct {
	weights Weights
	topN    int
}

// NewRanker 创建排序器，topN<=0 时默认 10
func NewRanker(w Weights, topN int) *Ranker {
	if topN <= 0 {
		topN = 10
	}
	return &Ranker{weights: w, topN: topN}
}

// GapFeature 缺口贡献的特征名
func GapFeature(taxonomyID string) string { return featureGapPrefix + taxonomyID }

type candidate struct {
	item      *types.CorpusItem
	gaps      []types.Contribution
	seenGap   map[string]bool
	maxFused  float64
	roleFused float64
	inGeneral bool
}

// Rank 为缺口证据与通用证据（岗位）中出现的每个语料条目生成一条推荐。
// Score 为各项贡献之和；按 Score 降序、ID升序排列，截断到 topN。
func (r *Ranker) Rank(gaps []types.GapEntry, evidence []types.RetrievalResult) []types.Recommendation {
	maxWeight := 0.0
	for _, g := range gaps {
		if g.TargetWeight > maxWeight {
			maxWeight = g.TargetWeight
		}
	}
	if maxWeight <= 0 {
		maxWeight = 1
	}

	cands := map[string]*candidate{}
	get := func(item *types.CorpusItem) *candidate {
		c, ok := cands[item.ID]
		if !ok {
			c = &candidate{item: item, seenGap: map[string]bool{}}
			cands[item.ID] = c
		}
		return c
	}

	var recs []types.Recommendation
	for _, g := range gaps {
		gapValue := r.weights.Gap * g.TargetWeight / maxWeight
		if len(g.Evidence) == 0 {
			// 没有学习资源时仍然提示该技能
			name := g.Name
			if name == "" {
				name = g.TaxonomyID
			}
			rec := types.Recommendation{ItemID: SkillItemPrefix + g.TaxonomyID, Kind: KindSkill, Title: name}
			rec.AddContribution(GapFeature(g.TaxonomyID), gapValue)
			rec.BaseScore = rec.Score
			recs = append(recs, rec)
			continue
		}
		for _, ev := range g.Evidence {
			if ev.Item == nil {
				continue
			}
			c := get(ev.Item)
			if !c.seenGap[g.TaxonomyID] {
				c.seenGap[g.TaxonomyID] = true
				c.gaps = append(c.gaps, types.Contribution{Feature: GapFeature(g.TaxonomyID), Value: gapValue})
			}
			if ev.FusedScore > c.maxFused {
				c.maxFused = ev.FusedScore
			}
		}
	}
	for _, ev := range evidence {
		if ev.Item == nil {
			continue
		}
		c := get(ev.Item)
		c.inGeneral = true
		if ev.FusedScore > c.maxFused {
			c.maxFused = ev.FusedScore
		}
		if ev.FusedScore > c.roleFused {
			c.roleFused = ev.FusedScore
		}
	}

	for _, c := range cands {
		rec := types.Recommendation{ItemID: c.item.ID, Kind: string(c.item.Kind), Title: c.item.DisplayTitle()}
		for _, gc := range c.gaps {
			rec.AddContribution(gc.Feature, gc.Value)
		}
		rec.AddContribution(FeatureRelevance, r.weights.Relevance*c.maxFused)
		if c.inGeneral {
			rec.AddContribution(FeatureRoleAlignment, r.weights.Alignment*c.roleFused)
		}
		rec.BaseScore = rec.Score
		recs = append(recs, rec)
	}

	SortRecommendations(recs)
	if len(recs) > r.topN {
		recs = recs[:r.topN]
	}
	if recs == nil {
		recs = []types.Recommendation{}
	}
	return recs
}

// SortRecommendations Score 降序、ItemID 升序
func SortRecommendations(recs []types.Recommendation) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].ItemID < recs[j].ItemID
	})
}
