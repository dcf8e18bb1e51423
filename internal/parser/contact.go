package parser

import (
	"fmt"
	"strings"

	"career-agent-go/internal/types"
)

// ExtractContactInfo 从文本中提取邮箱、电话、LinkedIn 地址（取首个匹配）
func ExtractContactInfo(text string) types.ContactInfo {
	var c types.ContactInfo
	if m := emailRe.FindString(text); m != "" {
		c.Email = m
	}
	if m := linkedinRe.FindString(text); m != "" {
		c.LinkedIn = m
	}
	if m := phoneRe.FindString(text); m != "" {
		c.Phone = strings.TrimSpace(m)
	}
	return c
}

// 完整度评估的四个关键部分
var qualityChecks = []string{"contact", "education", "experience", "skills"}

// AnalyzeQuality 评估简历完整度：联系方式、教育、工作经历、技能四项，每项 25 分
func AnalyzeQuality(sections []types.Section, contact types.ContactInfo, skills []types.SkillMention) types.QualityReport {
	present := map[string]bool{
		"contact": contact.Email != "" || contact.Phone != "",
	}
	confSum := 0.0
	for _, s := range sections {
		switch s.Kind {
		case types.SectionEducation:
			present["education"] = true
		case types.SectionExperience:
			present["experience"] = true
		case types.SectionSkills:
			present["skills"] = true
		}
		confSum += s.Confidence
	}
	if len(skills) > 0 {
		present["skills"] = true
	}

	report := types.QualityReport{MissingSections: []string{}, Recommendations: []string{}}
	for _, name := range qualityChecks {
		if present[name] {
			report.CompletenessScore += 100.0 / float64(len(qualityChecks))
			continue
		}
		report.MissingSections = append(report.MissingSections, name)
		report.Recommendations = append(report.Recommendations, qualityAdvice(name))
	}
	if len(sections) == 0 || confSum/float64(len(sections)) < 0.5 {
		report.LowConfidence = true
		report.Recommendations = append(report.Recommendations,
			"Use clear section headings (e.g. Experience, Education, Skills) so the document structure can be recognized")
	}
	if len(skills) > 0 && len(skills) < 5 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Only %d recognized skills; list relevant tools and technologies explicitly", len(skills)))
	}
	return report
}

func qualityAdvice(section string) string {
	switch section {
	case "contact":
		return "Add contact information (email and phone number)"
	case "education":
		return "Add an education section with degrees and institutions"
	case "experience":
		return "Add work experience with roles, dates and achievements"
	default:
		return "Add a skills section listing your technical and soft skills"
	}
}
