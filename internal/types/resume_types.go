package types

// FontWeight 文本块字重
type FontWeight string

const (
	FontWeightNormal FontWeight = "normal"
	FontWeightBold   FontWeight = "bold"
)

// SectionKind 表示简历章节类型
type SectionKind string

const (
	// SectionEducation 教育经历
	SectionEducation SectionKind = "education"
	// SectionExperience 工作经历
	SectionExperience SectionKind = "experience"
	// SectionSkills 技能
	SectionSkills SectionKind = "skills"
	// SectionProjects 项目经历
	SectionProjects SectionKind = "projects"
	// SectionContact 联系方式
	SectionContact SectionKind = "contact"
	// SectionOther 其他或未识别
	SectionOther SectionKind = "other"
)

// BBox 页面内矩形区域，坐标原点为页面左上角，Y 向下增长
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// TextBlock 带版面信息的原始文本块
type TextBlock struct {
	Content    string     `json:"content"`
	Page       int        `json:"page"` // 从1开始
	BBox       BBox       `json:"bbox"`
	FontSize   float64    `json:"font_size"` // 0 表示未知
	FontWeight FontWeight `json:"font_weight"`
}

// Section 语义章节，Blocks 在文档中连续
type Section struct {
	Kind       SectionKind `json:"kind"`
	Heading    string      `json:"heading,omitempty"`
	Blocks     []TextBlock `json:"blocks"`
	Confidence float64     `json:"confidence"`
}

// Text 返回章节全部文本，按块换行拼接
func (s Section) Text() string {
	n := 0
	for _, b := range s.Blocks {
		n += len(b.Content) + 1
	}
	buf := make([]byte, 0, n)
	for i, b := range s.Blocks {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, b.Content...)
	}
	return string(buf)
}

// SkillMention 技能提及，TaxonomyID 为规范键
type SkillMention struct {
	TaxonomyID  string      `json:"taxonomy_id"`
	SurfaceForm string      `json:"surface_form"`
	SectionKind SectionKind `json:"section_kind"`
	Confidence  float64     `json:"confidence"`
}

// ContactInfo 联系方式
type ContactInfo struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// QualityReport 简历完整度分析
type QualityReport struct {
	CompletenessScore float64  `json:"completeness_score"` // 0-100
	MissingSections   []string `json:"missing_sections"`
	Recommendations   []string `json:"recommendations"`
	// LowConfidence 为 true 表示分段质量较低（例如没有识别到任何标题）
	LowConfidence bool `json:"low_confidence"`
}

// ResumeProfile 解析阶段的输出，构建后只读
type ResumeProfile struct {
	ID              string         `json:"id"`
	Skills          []SkillMention `json:"skills"`
	ExperienceYears float64        `json:"experience_years"`
	Sections        []Section      `json:"sections"`
	Contact         ContactInfo    `json:"contact"`
	Quality         QualityReport  `json:"quality"`
}

// HasSkill 判断画像中是否存在置信度不低于 minConfidence 的技能
func (p *ResumeProfile) HasSkill(taxonomyID string, minConfidence float64) bool {
	for _, s := range p.Skills {
		if s.TaxonomyID == taxonomyID && s.Confidence >= minConfidence {
			return true
		}
	}
	return false
}

// SkillIDs 返回画像中全部技能ID（已排序，因 Skills 本身按ID排序）
func (p *ResumeProfile) SkillIDs() []string {
	ids := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		ids = append(ids, s.TaxonomyID)
	}
	return ids
}
