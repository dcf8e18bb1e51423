package parser

import (
	"context"
	"sort"

	"career-agent-go/internal/types"
)

// SkillExtractor 按章节运行技能匹配策略，并按 taxonomy_id 去重
type SkillExtractor struct {
	matcher SkillMatcher
}

// NewSkillExtractor 创建技能抽取器
func NewSkillExtractor(matcher SkillMatcher) *SkillExtractor {
	return &SkillExtractor{matcher: matcher}
}

// Extract 返回按 taxonomy_id 排序的技能集合。
// 多个别名映射到同一 taxonomy_id 时合并为一条，置信度取最大值。
// 匹配出错时仍返回已得到的技能，同时返回首个错误，由调用方决定是否降级。
func (e *SkillExtractor) Extract(ctx context.Context, sections []types.Section) ([]types.SkillMention, error) {
	var all []types.SkillMention
	var firstErr error
	for _, sec := range sections {
		ms, err := e.matcher.Match(ctx, sec.Text())
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for _, m := range ms {
			m.SectionKind = sec.Kind
			all = append(all, m)
		}
	}
	merged := mergeMentions(all)
	sort.Slice(merged, func(i, j int) bool { return merged[i].TaxonomyID < merged[j].TaxonomyID })
	return merged, firstErr
}
