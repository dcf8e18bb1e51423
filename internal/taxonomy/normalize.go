package taxonomy

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText 执行 NFKC 归一化并去除控制字符（保留换行与制表符）
func NormalizeText(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return strings.TrimSpace(normed)
}

// Tokenize 将文本切分为小写词元。
// '+' '#' 以及词内的 '.' 视为词元的一部分，例如 "c++"、"c#"、"node.js"。
func Tokenize(text string) []string {
	text = strings.ToLower(NormalizeText(text))
	var (
		toks []string
		cur  strings.Builder
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.TrimRight(cur.String(), ".")
		tok = strings.TrimLeft(tok, ".")
		if tok != "" {
			toks = append(toks, tok)
		}
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '+' || r == '#':
			cur.WriteRune(r)
		case r == '.':
			if cur.Len() > 0 {
				cur.WriteRune(r)
			}
		default:
			flush()
		}
	}
	flush()
	return toks
}

// Key 返回文本的规范化键（词元以空格连接）
func Key(text string) string {
	return strings.Join(Tokenize(text), " ")
}
