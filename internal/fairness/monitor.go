// Package fairness 跨群体的推荐结果公平性监控
package fairness

import (
	"fmt"
	"math"
	"sort"

	"career-agent-go/internal/types"
)

// 默认参数
const (
	DefaultTolerance     = 0.03
	DefaultMaxAdjustment = 0.05

	// StatisticMeanTop1 群体统计量：各请求首位推荐分数的均值
	StatisticMeanTop1 = "mean_top1_score"
	// FeatureAdjustment 调整写入解释时的特征名
	FeatureAdjustment = "fairness_adjustment"

	epsilon = 1e-9
)

// Monitor 公平性监控器，违规作为报告数据返回而非错误
type Monitor struct {
	tolerance     float64
	maxAdjustment float64
}

// NewMonitor 创建监控器，tolerance<=0 时取默认值
func NewMonitor(tolerance, maxAdjustment float64) *Monitor {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if maxAdjustment < 0 {
		maxAdjustment = 0
	}
	return &Monitor{tolerance: tolerance, maxAdjustment: maxAdjustment}
}

// Tolerance 返回容差
func (m *Monitor) Tolerance() float64 { return m.tolerance }

// PairKey 群体对的键，a<b
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// GroupMean 一组推荐集合的首位分数均值；空集合计为 0
func GroupMean(sets [][]types.Recommendation) float64 {
	if len(sets) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range sets {
		if len(s) > 0 {
			sum += s[0].Score
		}
	}
	return sum / float64(len(sets))
}

func sortedGroups(sets map[string][][]types.Recommendation) []string {
	groups := make([]string, 0, len(sets))
	for g := range sets {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Check 计算每个群体的统计量与两两差值，|delta| 超过容差即记为违规。
// 少于两个群体时检查直接通过。
func (m *Monitor) Check(sets map[string][][]types.Recommendation) types.FairnessReport {
	report := types.FairnessReport{
		Statistic:  StatisticMeanTop1,
		Tolerance:  m.tolerance,
		Passed:     true,
		GroupStats: map[string]float64{},
		Deltas:     map[string]float64{},
		Violations: []string{},
	}
	groups := sortedGroups(sets)
	for _, g := range groups {
		report.GroupStats[g] = GroupMean(sets[g])
	}
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			delta := report.GroupStats[a] - report.GroupStats[b]
			key := PairKey(a, b)
			report.Deltas[key] = delta
			if math.Abs(delta)-m.tolerance > epsilon {
				report.Passed = false
				report.Violations = append(report.Violations, key)
			}
		}
	}
	return report
}

// Mitigate 对落后最优群体超过容差的群体施加有界提升：
// uplift = min(差距 - 容差, maxAdjustment)，作为一条解释贡献追加到该群体的每条推荐上，
// BaseScore 保持不变。sets 被原地修改；返回重新计算后的报告。
func (m *Monitor) Mitigate(sets map[string][][]types.Recommendation, report types.FairnessReport) types.FairnessReport {
	if report.Passed || len(report.GroupStats) < 2 || m.maxAdjustment == 0 {
		return report
	}
	best := math.Inf(-1)
	for _, v := range report.GroupStats {
		best = math.Max(best, v)
	}

	var adjustments []types.FairnessAdjustment
	for _, g := range sortedGroups(sets) {
		gap := best - report.GroupStats[g]
		if gap-m.tolerance <= epsilon {
			continue
		}
		uplift := math.Min(gap-m.tolerance, m.maxAdjustment)
		for _, set := range sets[g] {
			for i := range set {
				set[i].AddContribution(FeatureAdjustment, uplift)
			}
		}
		adjustments = append(adjustments, types.FairnessAdjustment{Group: g, Delta: uplift})
	}

	out := m.Check(sets)
	out.Adjustments = adjustments
	return out
}

// Summary 报告的单行摘要，用于日志
func Summary(r types.FairnessReport) string {
	if r.Passed {
		return fmt.Sprintf("passed (%d groups, tolerance %.3f)", len(r.GroupStats), r.Tolerance)
	}
	return fmt.Sprintf("violations %v (tolerance %.3f)", r.Violations, r.Tolerance)
}
