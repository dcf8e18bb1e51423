package parser

import (
	"math"
	"regexp"
	"strings"

	"career-agent-go/internal/taxonomy"
	"career-agent-go/internal/types"
)

// DefaultFontDeviationThreshold 标题字号相对正文基线的默认偏离阈值
const DefaultFontDeviationThreshold = 0.15

// headingLexicon 标题词典：规范化短语 -> 章节类型
var headingLexicon = map[string]types.SectionKind{
	"education":                 types.SectionEducation,
	"academic background":       types.SectionEducation,
	"academic qualifications":   types.SectionEducation,
	"qualifications":            types.SectionEducation,
	"education and training":    types.SectionEducation,
	"experience":                types.SectionExperience,
	"work experience":           types.SectionExperience,
	"professional experience":   types.SectionExperience,
	"work history":              types.SectionExperience,
	"employment":                types.SectionExperience,
	"employment history":        types.SectionExperience,
	"career history":            types.SectionExperience,
	"skills":                    types.SectionSkills,
	"technical skills":          types.SectionSkills,
	"core skills":               types.SectionSkills,
	"key skills":                types.SectionSkills,
	"technologies":              types.SectionSkills,
	"competencies":              types.SectionSkills,
	"core competencies":         types.SectionSkills,
	"skills and tools":          types.SectionSkills,
	"projects":                  types.SectionProjects,
	"personal projects":         types.SectionProjects,
	"selected projects":         types.SectionProjects,
	"academic projects":         types.SectionProjects,
	"contact":                   types.SectionContact,
	"contact information":       types.SectionContact,
	"personal information":      types.SectionContact,
	"certifications":            types.SectionOther,
	"certificates":              types.SectionOther,
	"languages":                 types.SectionOther,
	"interests":                 types.SectionOther,
	"achievements":              types.SectionOther,
	"awards":                    types.SectionOther,
	"honors and awards":         types.SectionOther,
	"publications":              types.SectionOther,
	"references":                types.SectionOther,
	"summary":                   types.SectionOther,
	"professional summary":      types.SectionOther,
	"profile":                   types.SectionOther,
	"objective":                 types.SectionOther,
	"volunteer experience":      types.SectionOther,
	"leadership and activities": types.SectionOther,
}

// 标题最多包含的词数
const maxHeadingWords = 4

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe    = regexp.MustCompile(`(\+?\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	linkedinRe = regexp.MustCompile(`(?i)(https?://)?(www\.)?linkedin\.com/in/[A-Za-z0-9_\-]+/?`)
)

// Segmenter 基于版面启发式把文本块分组为语义章节
type Segmenter struct {
	threshold float64
}

// NewSegmenter 创建章节分段器，threshold<=0 时使用默认阈值
func NewSegmenter(threshold float64) *Segmenter {
	if threshold <= 0 {
		threshold = DefaultFontDeviationThreshold
	}
	return &Segmenter{threshold: threshold}
}

// Segment 将文本块分组为章节。不会失败：无法识别任何标题时，
// 返回单个置信度为 0 的 other 章节。
func (s *Segmenter) Segment(blocks []types.TextBlock) []types.Section {
	blocks = DropNoise(blocks)
	if len(blocks) == 0 {
		return nil
	}

	base := computeBaseline(blocks)
	var (
		sections []types.Section
		cur      *types.Section
	)
	for _, b := range blocks {
		if kind, conf, ok := s.headingKind(b, base); ok {
			if cur != nil {
				sections = append(sections, *cur)
			}
			cur = &types.Section{Kind: kind, Heading: b.Content, Confidence: conf, Blocks: []types.TextBlock{b}}
			continue
		}
		if cur == nil {
			cur = &types.Section{Kind: types.SectionOther, Confidence: 0.5}
		}
		cur.Blocks = append(cur.Blocks, b)
	}
	if cur != nil {
		sections = append(sections, *cur)
	}

	if !hasHeading(sections) {
		return []types.Section{{Kind: types.SectionOther, Blocks: blocks, Confidence: 0}}
	}
	// 首个标题之前的内容通常为姓名与联系方式
	if lead := &sections[0]; lead.Heading == "" && containsContact(lead.Text()) {
		lead.Kind = types.SectionContact
	}
	return sections
}

func hasHeading(sections []types.Section) bool {
	for _, sec := range sections {
		if sec.Heading != "" {
			return true
		}
	}
	return false
}

func containsContact(text string) bool {
	return emailRe.MatchString(text) || phoneRe.MatchString(text) || linkedinRe.MatchString(text)
}

type baseline struct {
	size   float64
	weight types.FontWeight
}

// computeBaseline 计算正文基线：按字符数加权的众数字号与字重
func computeBaseline(blocks []types.TextBlock) baseline {
	sizes := map[float64]int{}
	weights := map[types.FontWeight]int{}
	for _, b := range blocks {
		n := len([]rune(b.Content))
		sizes[math.Round(b.FontSize*10)/10] += n
		weights[b.FontWeight] += n
	}
	base := baseline{size: modalSize(sizes), weight: types.FontWeightNormal}
	if weights[types.FontWeightBold] > weights[types.FontWeightNormal] {
		base.weight = types.FontWeightBold
	}
	return base
}

// headingKind 仅当排版偏离基线且文本命中标题词典时，才认定为章节标题
func (s *Segmenter) headingKind(b types.TextBlock, base baseline) (types.SectionKind, float64, bool) {
	sizeDev, weightDev := false, false
	if base.size > 0 && b.FontSize > 0 {
		sizeDev = math.Abs(b.FontSize-base.size)/base.size > s.threshold
	}
	weightDev = b.FontWeight != "" && b.FontWeight != base.weight
	if b.FontSize == 0 && !weightDev {
		// 字号未知（纯文本或后备路径）时，以全大写短行或冒号结尾作为排版信号
		weightDev = isAllCapsShort(b.Content) || strings.HasSuffix(b.Content, ":")
	}
	if !sizeDev && !weightDev {
		return "", 0, false
	}

	kind, exact, ok := matchHeading(b.Content)
	if !ok {
		return "", 0, false
	}
	conf := 0.75
	if exact {
		conf = 0.9
	}
	if sizeDev && weightDev {
		conf += 0.1
	}
	return kind, math.Min(conf, 1), true
}

// matchHeading 判断文本是否为词典中的标题；exact 表示整行即为词典短语
func matchHeading(text string) (types.SectionKind, bool, bool) {
	toks := taxonomy.Tokenize(strings.TrimSuffix(strings.TrimSpace(text), ":"))
	if len(toks) == 0 || len(toks) > maxHeadingWords {
		return "", false, false
	}
	key := strings.Join(toks, " ")
	if kind, ok := headingLexicon[key]; ok {
		return kind, true, true
	}
	// 允许一个修饰词，例如 "Relevant Work Experience"
	if n := len(toks) - 1; n >= 1 {
		for i := 0; i+n <= len(toks); i++ {
			if kind, ok := headingLexicon[strings.Join(toks[i:i+n], " ")]; ok {
				return kind, false, true
			}
		}
	}
	return "", false, false
}

func isAllCapsShort(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > maxHeadingWords {
		return false
	}
	letters := 0
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
		}
	}
	return letters >= 3
}

// DropNoise 去除页眉页脚噪声：在至少两页相同垂直位置重复出现的内容，以及纯页码行
func DropNoise(blocks []types.TextBlock) []types.TextBlock {
	type key struct {
		text string
		band int
	}
	pagesByKey := map[key]map[int]struct{}{}
	keyOf := func(b types.TextBlock) key {
		return key{text: noiseKey(b.Content), band: int(math.Round(b.BBox.Y0 / 4))}
	}
	for _, b := range blocks {
		k := keyOf(b)
		if pagesByKey[k] == nil {
			pagesByKey[k] = map[int]struct{}{}
		}
		pagesByKey[k][b.Page] = struct{}{}
	}

	out := make([]types.TextBlock, 0, len(blocks))
	for _, b := range blocks {
		if IsPageNumber(b.Content) {
			continue
		}
		if k := keyOf(b); k.text != "" && len(pagesByKey[k]) >= 2 {
			continue
		}
		out = append(out, b)
	}
	return out
}

// noiseKey 去除数字后的规范化文本，使 "Page 1" 与 "Page 2" 等价
func noiseKey(text string) string {
	toks := taxonomy.Tokenize(text)
	kept := toks[:0]
	for _, t := range toks {
		if strings.IndexFunc(t, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}
