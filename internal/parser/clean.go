package parser

import (
	"regexp"
	"strings"

	"career-agent-go/internal/taxonomy"
)

var (
	whitespaceRe = regexp.MustCompile(`[ \t\x{00A0}\x{2000}-\x{200B}]+`)
	// 行首的各类项目符号统一为 "- "
	bulletRe = regexp.MustCompile(`^\s*[•●▪■◦►✓✔➢➤○◆◇\*·]+\s*`)
	// PDF 抽取常见的句子粘连，如 "Python.Worked"
	sentenceGlueRe = regexp.MustCompile(`([a-z]{2})\.([A-Z][a-z])`)
	pageNumberRe   = regexp.MustCompile(`(?i)^[\-–—\s]*(page\s*)?\d{1,3}(\s*(of|/)\s*\d{1,3})?[\-–—\s]*$`)
)

// CleanText 清洗单行文本：NFKC 归一化、项目符号标准化、空白折叠
func CleanText(s string) string {
	s = taxonomy.NormalizeText(s)
	s = strings.ReplaceAll(s, "\n", " ")
	if bulletRe.MatchString(s) {
		s = "- " + bulletRe.ReplaceAllString(s, "")
	}
	s = sentenceGlueRe.ReplaceAllString(s, "$1. $2")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// IsPageNumber 判断文本是否只包含页码
func IsPageNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return pageNumberRe.MatchString(s)
}
