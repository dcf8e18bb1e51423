package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	rawpdf "github.com/dslipak/pdf"

	"career-agent-go/internal/types"
)

const (
	// 无版面信息时合成的行高
	syntheticLineHeight = 12.0
	// 同一行内字形间距超过字号的该倍数时，拆分为新的文本块（多栏版面）
	columnGapFactor = 3.0
	// 字形间距超过字号的该倍数时插入空格
	wordGapFactor = 0.2
	// 文本类载荷中可打印字符的最低比例
	minPrintableRatio = 0.95
)

// Ingestor 文档摄取器：把文档字节流解析为带版面信息的文本块序列
type Ingestor struct {
	fallback *pdf.PDFParser
	logger   *log.Logger
	timeout  time.Duration
}

// IngestorOption 摄取器配置选项
type IngestorOption func(*Ingestor)

// WithIngestorLogger 设置日志记录器
func WithIngestorLogger(logger *log.Logger) IngestorOption {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// WithFallbackTimeout 设置后备解析路径的超时
func WithFallbackTimeout(d time.Duration) IngestorOption {
	return func(i *Ingestor) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// ParseOption 单次解析选项
type ParseOption func(*parseOptions)

type parseOptions struct {
	password string
}

// WithPassword 为加密PDF提供密码
func WithPassword(password string) ParseOption {
	return func(o *parseOptions) {
		o.password = password
	}
}

// NewIngestor 创建文档摄取器。后备路径使用 eino PDF parser 按页提取纯文本。
func NewIngestor(ctx context.Context, options ...IngestorOption) (*Ingestor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}
	in := &Ingestor{
		fallback: p,
		logger:   log.New(os.Stderr, "[DocumentIngestor] ", log.LstdFlags),
		timeout:  30 * time.Second,
	}
	for _, option := range options {
		option(in)
	}
	return in, nil
}

// Parse 解析文档字节流，返回按页序、页内自上而下自左而右排列的文本块。
// 非文档载荷或加密且无密码时返回 *types.UnreadableDocumentError。
func (in *Ingestor) Parse(ctx context.Context, data []byte, opts ...ParseOption) ([]types.TextBlock, error) {
	password := PasswordOf(opts...)
	if len(data) == 0 {
		return nil, &types.UnreadableDocumentError{Reason: "empty payload"}
	}

	switch {
	case hasPDFHeader(data):
		return in.parsePDF(ctx, data, password)
	case isText(data):
		return parsePlainText(string(data)), nil
	case pdfHeaderOffset(data) >= 0:
		return in.parsePDF(ctx, data, password)
	default:
		return nil, &types.UnreadableDocumentError{Reason: "unrecognized document format"}
	}
}

// PasswordOf 取出解析选项中的密码，供其他 DocumentParser 实现复用
func PasswordOf(opts ...ParseOption) string {
	var po parseOptions
	for _, o := range opts {
		o(&po)
	}
	return po.password
}

var pdfMagic = []byte("%PDF-")

// hasPDFHeader 去掉 BOM 与前导空白后以 %PDF- 开头
func hasPDFHeader(data []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	return bytes.HasPrefix(trimmed, pdfMagic)
}

// pdfHeaderOffset 前 1KB 内 %PDF- 的位置，没有时返回 -1
func pdfHeaderOffset(data []byte) int {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Index(head, pdfMagic)
}

// normalizePDFHeader 去掉文件头之前的字节，并把版本行改写为阅读器接受的 %PDF-1.7，
// 长度不变，交叉引用表中的偏移仍然有效。无法安全改写时原样返回。
func normalizePDFHeader(data []byte) []byte {
	if i := pdfHeaderOffset(data); i > 0 {
		data = data[i:]
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return data
	}
	eol := bytes.IndexAny(data[:min(len(data), 64)], "\r\n")
	if eol < 0 {
		return data
	}
	if eol == 8 && data[5] == '1' && data[6] == '.' && data[7] >= '0' && data[7] <= '7' {
		return data
	}
	if eol < 8 {
		return data
	}
	out := append([]byte(nil), data...)
	copy(out, "%PDF-1.7")
	for i := 8; i < eol; i++ {
		out[i] = '\n'
	}
	return out
}

func isText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	total, printable := 0, 0
	for _, r := range string(data) {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return total > 0 && float64(printable)/float64(total) >= minPrintableRatio
}

// parsePlainText 纯文本：'\f' 分页，每个非空行一个文本块，字号未知
func parsePlainText(text string) []types.TextBlock {
	var blocks []types.TextBlock
	for p, page := range strings.Split(text, "\f") {
		for i, line := range strings.Split(page, "\n") {
			content := CleanText(line)
			if content == "" {
				continue
			}
			y := float64(i) * syntheticLineHeight
			blocks = append(blocks, types.TextBlock{
				Content:    content,
				Page:       p + 1,
				BBox:       types.BBox{X0: 0, Y0: y, X1: float64(utf8.RuneCountInString(content)), Y1: y + syntheticLineHeight},
				FontWeight: types.FontWeightNormal,
			})
		}
	}
	return blocks
}

// parsePDF 版面路径优先；打开失败（密码错误除外）或没有可用文本时走纯文本后备路径
func (in *Ingestor) parsePDF(ctx context.Context, data []byte, password string) ([]types.TextBlock, error) {
	data = normalizePDFHeader(data)
	reader, err := openPDF(data, password)
	if err != nil {
		if errors.Is(err, rawpdf.ErrInvalidPassword) {
			return nil, &types.UnreadableDocumentError{Reason: "password required or invalid", Encrypted: true, Err: err}
		}
		in.logger.Printf("版面路径无法打开PDF，改用后备路径: %v", err)
		blocks, fbErr := in.fallbackBlocks(ctx, data)
		if fbErr != nil {
			return nil, &types.UnreadableDocumentError{Reason: "malformed pdf", Err: errors.Join(err, fbErr)}
		}
		return blocks, nil
	}

	blocks, err := layoutBlocks(reader)
	if err == nil && len(blocks) > 0 {
		return blocks, nil
	}
	if err != nil {
		in.logger.Printf("版面提取失败，改用纯文本后备路径: %v", err)
	}

	blocks, err = in.fallbackBlocks(ctx, data)
	if err != nil {
		return nil, &types.UnreadableDocumentError{Reason: "no extractable text", Err: err}
	}
	return blocks, nil
}

func openPDF(data []byte, password string) (r *rawpdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	ra := bytes.NewReader(data)
	if password == "" {
		return rawpdf.NewReader(ra, int64(len(data)))
	}
	tried := false
	return rawpdf.NewReaderEncrypted(ra, int64(len(data)), func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	})
}

// layoutBlocks 从字形流重建文本行，保留字号与字重
func layoutBlocks(reader *rawpdf.Reader) (blocks []types.TextBlock, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			blocks = nil
			err = fmt.Errorf("glyph stream decode panic: %v", rec)
		}
	}()

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		glyphs := page.Content().Text
		if len(glyphs) == 0 {
			continue
		}
		height := pageHeight(page, glyphs)
		blocks = append(blocks, pageBlocks(i, height, glyphs)...)
	}
	return blocks, nil
}

func pageHeight(page rawpdf.Page, glyphs []rawpdf.Text) float64 {
	mb := page.V.Key("MediaBox")
	if mb.Len() == 4 {
		if h := mb.Index(3).Float64() - mb.Index(1).Float64(); h > 0 {
			return h
		}
	}
	top := 0.0
	for _, g := range glyphs {
		top = math.Max(top, g.Y+g.FontSize)
	}
	return top
}

type glyphLine struct {
	y      float64
	glyphs []rawpdf.Text
}

// pageBlocks 按基线聚合字形为行，行内按大间距拆分为多个块
func pageBlocks(pageNo int, height float64, glyphs []rawpdf.Text) []types.TextBlock {
	sorted := make([]rawpdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" && g.S != " " {
			continue
		}
		sorted = append(sorted, g)
	}
	// PDF 坐标 Y 向上增长：先按 Y 降序（自上而下），再按 X 升序
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > 0.01 {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var lines []glyphLine
	for _, g := range sorted {
		tol := math.Max(g.FontSize*0.4, 1)
		if n := len(lines); n > 0 && math.Abs(lines[n-1].y-g.Y) <= tol {
			lines[n-1].glyphs = append(lines[n-1].glyphs, g)
			continue
		}
		lines = append(lines, glyphLine{y: g.Y, glyphs: []rawpdf.Text{g}})
	}

	var blocks []types.TextBlock
	for _, ln := range lines {
		sort.SliceStable(ln.glyphs, func(i, j int) bool { return ln.glyphs[i].X < ln.glyphs[j].X })
		start := 0
		for k := 1; k <= len(ln.glyphs); k++ {
			if k < len(ln.glyphs) {
				prev, cur := ln.glyphs[k-1], ln.glyphs[k]
				if cur.X-(prev.X+prev.W) <= columnGapFactor*math.Max(prev.FontSize, 1) {
					continue
				}
			}
			if b, ok := glyphBlock(pageNo, height, ln.glyphs[start:k]); ok {
				blocks = append(blocks, b)
			}
			start = k
		}
	}
	return blocks
}

func glyphBlock(pageNo int, height float64, run []rawpdf.Text) (types.TextBlock, bool) {
	var (
		sb         strings.Builder
		sizeChars  = map[float64]int{}
		boldChars  int
		totalChars int
		x0, x1     = math.Inf(1), math.Inf(-1)
		yMin, yMax = math.Inf(1), math.Inf(-1)
	)
	for k, g := range run {
		if k > 0 {
			prev := run[k-1]
			if g.X-(prev.X+prev.W) > wordGapFactor*math.Max(prev.FontSize, 1) {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		n := utf8.RuneCountInString(strings.TrimSpace(g.S))
		totalChars += n
		sizeChars[math.Round(g.FontSize*10)/10] += n
		if isBoldFont(g.Font) {
			boldChars += n
		}
		x0 = math.Min(x0, g.X)
		x1 = math.Max(x1, g.X+g.W)
		yMin = math.Min(yMin, g.Y)
		yMax = math.Max(yMax, g.Y+g.FontSize)
	}
	content := CleanText(sb.String())
	if content == "" {
		return types.TextBlock{}, false
	}
	weight := types.FontWeightNormal
	if boldChars*2 > totalChars {
		weight = types.FontWeightBold
	}
	return types.TextBlock{
		Content:    content,
		Page:       pageNo,
		BBox:       types.BBox{X0: x0, Y0: height - yMax, X1: x1, Y1: height - yMin},
		FontSize:   modalSize(sizeChars),
		FontWeight: weight,
	}, true
}

func modalSize(sizeChars map[float64]int) float64 {
	best, bestN := 0.0, -1
	for size, n := range sizeChars {
		if n > bestN || (n == bestN && size > best) {
			best, bestN = size, n
		}
	}
	return best
}

func isBoldFont(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"bold", "black", "heavy", "semibold", "demi"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// fallbackBlocks 使用 eino PDF parser 逐页提取纯文本，行位置为合成值
func (in *Ingestor) fallbackBlocks(ctx context.Context, data []byte) (_ []types.TextBlock, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("eino PDF parser panic: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	docs, err := in.fallback.Parse(ctx, bytes.NewReader(data),
		einoParser.WithExtraMeta(map[string]any{"extraction_time": time.Now().Format(time.RFC3339)}),
	)
	if err != nil {
		return nil, fmt.Errorf("eino PDF parser failed: %w", err)
	}

	var blocks []types.TextBlock
	for p, doc := range docs {
		for i, line := range strings.Split(doc.Content, "\n") {
			content := CleanText(line)
			if content == "" {
				continue
			}
			y := float64(i) * syntheticLineHeight
			blocks = append(blocks, types.TextBlock{
				Content:    content,
				Page:       p + 1,
				BBox:       types.BBox{Y0: y, X1: float64(utf8.RuneCountInString(content)), Y1: y + syntheticLineHeight},
				FontWeight: types.FontWeightNormal,
			})
		}
	}
	if len(blocks) == 0 {
		return nil, errors.New("document contains no text")
	}
	in.logger.Printf("后备路径提取完成: %d 页, %d 个文本块", len(docs), len(blocks))
	return blocks, nil
}
