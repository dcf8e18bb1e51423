package parser

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"career-agent-go/internal/types"
)

var (
	monthNames = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
	dateRangeRe = regexp.MustCompile(`(?i)(?:\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s*)?\b((?:19|20)\d{2})\s*(?:-|–|—|to|until)\s*(?:\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s*)?\b((?:19|20)\d{2}|present|current|now|today)\b`)
)

type monthSpan struct{ start, end int }

// EstimateExperienceYears 根据工作经历章节中的日期区间估算工作年限。
// 重叠区间会被合并；没有 experience 章节时扫描全部章节。
func EstimateExperienceYears(sections []types.Section, now time.Time) float64 {
	var texts []string
	for _, s := range sections {
		if s.Kind == types.SectionExperience {
			texts = append(texts, s.Text())
		}
	}
	if len(texts) == 0 {
		for _, s := range sections {
			texts = append(texts, s.Text())
		}
	}
	nowMonths := now.Year()*12 + int(now.Month()) - 1

	var spans []monthSpan
	for _, text := range texts {
		for _, m := range dateRangeRe.FindAllStringSubmatch(text, -1) {
			start := toMonths(m[2], m[1], nowMonths)
			end := toMonths(m[4], m[3], nowMonths)
			if end < start || end > nowMonths {
				continue
			}
			spans = append(spans, monthSpan{start, end})
		}
	}
	if len(spans) == 0 {
		return 0
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	total, cur := 0, spans[0]
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			if s.end > cur.end {
				cur.end = s.end
			}
			continue
		}
		total += cur.end - cur.start
		cur = s
	}
	total += cur.end - cur.start
	return math.Round(float64(total)/12*10) / 10
}

func toMonths(year, month string, nowMonths int) int {
	switch strings.ToLower(year) {
	case "present", "current", "now", "today":
		return nowMonths
	}
	y, _ := strconv.Atoi(year)
	mo := 1
	if month != "" {
		mo = monthNames[strings.ToLower(month[:3])]
	}
	return y*12 + mo - 1
}
