package gap

import (
	"math"
	"sort"

	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
)

// CareerPath 岗位覆盖度
type CareerPath struct {
	Role     string   `json:"role"`
	Coverage float64  `json:"coverage"` // 已掌握技能权重 / 岗位总权重
	Matched  []string `json:"matched"`
	Missing  []string `json:"missing"`
}

// SuggestCareerPaths 计算画像对目录中每个岗位的加权覆盖度，按覆盖度降序、岗位名升序排列
func SuggestCareerPaths(profile *types.ResumeProfile, roles []taxonomy.Role, minConfidence float64) []CareerPath {
	out := make([]CareerPath, 0, len(roles))
	for _, r := range roles {
		var total, have float64
		p := CareerPath{Role: r.Name, Matched: []string{}, Missing: []string{}}
		for _, id := range sortedKeys(r.Skills) {
			w := r.Skills[id]
			if w <= 0 {
				continue
			}
			total += w
			if profile != nil && profile.HasSkill(id, minConfidence) {
				have += w
				p.Matched = append(p.Matched, id)
			} else {
				p.Missing = append(p.Missing, id)
			}
		}
		if total > 0 {
			p.Coverage = math.Round(have/total*1000) / 1000
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Coverage != out[j].Coverage {
			return out[i].Coverage > out[j].Coverage
		}
		return out[i].Role < out[j].Role
	})
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// 学习路线阶段
const (
	PhaseFoundation = "foundation"
	PhaseCore       = "core"
	PhaseAdvanced   = "advanced"
)

// RoadmapStep 路线中的一个技能
type RoadmapStep struct {
	TaxonomyID string   `json:"taxonomy_id"`
	Name       string   `json:"name"`
	Weight     float64  `json:"weight"`
	Courses    []string `json:"courses"`
}

// RoadmapPhase 学习阶段
type RoadmapPhase struct {
	Name  string        `json:"name"`
	Steps []RoadmapStep `json:"steps"`
}

// BuildRoadmap 按目标权重三分位把缺口分为 foundation/core/advanced 三个阶段：
// 权重最高的先学。空阶段不输出。
func BuildRoadmap(gaps []types.GapEntry) []RoadmapPhase {
	sorted := append([]types.GapEntry(nil), gaps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TargetWeight != sorted[j].TargetWeight {
			return sorted[i].TargetWeight > sorted[j].TargetWeight
		}
		return sorted[i].TaxonomyID < sorted[j].TaxonomyID
	})

	names := []string{PhaseFoundation, PhaseCore, PhaseAdvanced}
	phases := make([]RoadmapPhase, len(names))
	for i, n := range names {
		phases[i] = RoadmapPhase{Name: n, Steps: []RoadmapStep{}}
	}
	n := len(sorted)
	for i, g := range sorted {
		bucket := i * 3 / n
		step := RoadmapStep{TaxonomyID: g.TaxonomyID, Name: g.Name, Weight: g.TargetWeight, Courses: []string{}}
		if step.Name == "" {
			step.Name = g.TaxonomyID
		}
		for _, ev := range g.Evidence {
			if ev.Item != nil {
				step.Courses = append(step.Courses, ev.Item.DisplayTitle())
			}
		}
		phases[bucket].Steps = append(phases[bucket].Steps, step)
	}

	out := phases[:0]
	for _, p := range phases {
		if len(p.Steps) > 0 {
			out = append(out, p)
		}
	}
	return out
}
