package parser

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/types"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := NewIngestor(ctx)
	require.NoError(t, err, "创建文档摄取器不应返回错误")
	return in
}

func TestIngestPlainText(t *testing.T) {
	in := newTestIngestor(t)
	text := "JANE DOE\njane@example.com\n\nEXPERIENCE\n• Built   data pipelines in Python\f2\nEDUCATION\nBSc Computer Science"

	blocks, err := in.Parse(context.Background(), []byte(text))
	require.NoError(t, err)
	require.Len(t, blocks, 7)

	assert.Equal(t, "JANE DOE", blocks[0].Content)
	assert.Equal(t, "- Built data pipelines in Python", blocks[3].Content, "项目符号与多余空白应被规范化")
	assert.Equal(t, 1, blocks[3].Page)
	assert.Equal(t, 2, blocks[4].Page, "换页符应开始新页")
	assert.Equal(t, "2", blocks[4].Content)
	assert.Zero(t, blocks[0].FontSize, "纯文本没有字号信息")
	for i := 1; i < 4; i++ {
		assert.Greater(t, blocks[i].BBox.Y0, blocks[i-1].BBox.Y0, "页内应自上而下排列")
	}
}

func TestIngestRejectsNonDocuments(t *testing.T) {
	in := newTestIngestor(t)
	cases := map[string][]byte{
		"empty":     {},
		"binary":    {0x00, 0x01, 0x02, 0xff, 0xfe, 0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a},
		"bad pdf":   []byte("%PDF-1.4\nthis is not really a pdf"),
		"png magic": append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := in.Parse(context.Background(), data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrUnreadableDocument), "应返回 UnreadableDocumentError, got %v", err)
			var ude *types.UnreadableDocumentError
			assert.True(t, errors.As(err, &ude))
		})
	}
}

func TestIngestPDFLayout(t *testing.T) {
	in := newTestIngestor(t)
	data := buildTestPDF([][]pdfLine{
		{
			{text: "Jane Doe", x: 72, y: 740, size: 18, bold: true},
			{text: "jane@example.com", x: 72, y: 720, size: 10},
			{text: "Experience", x: 72, y: 690, size: 13, bold: true},
			{text: "Data Engineer at Acme 2019 - 2022", x: 72, y: 672, size: 10},
			{text: "Python", x: 400, y: 672, size: 10},
		},
		{
			{text: "Education", x: 72, y: 740, size: 13, bold: true},
			{text: "BSc Computer Science", x: 72, y: 722, size: 10},
		},
	})

	blocks, err := in.Parse(context.Background(), data)
	require.NoError(t, err, "生成的PDF应可解析")
	require.Len(t, blocks, 7)

	assert.Equal(t, "Jane Doe", blocks[0].Content)
	assert.Equal(t, types.FontWeightBold, blocks[0].FontWeight)
	assert.InDelta(t, 18, blocks[0].FontSize, 0.01)

	assert.Equal(t, "Experience", blocks[2].Content)
	assert.Equal(t, types.FontWeightBold, blocks[2].FontWeight)
	assert.Equal(t, types.FontWeightNormal, blocks[3].FontWeight)

	// 同一基线上相距较远的文本拆为两个块，自左而右
	assert.Equal(t, "Data Engineer at Acme 2019 - 2022", blocks[3].Content)
	assert.Equal(t, "Python", blocks[4].Content)
	assert.Less(t, blocks[3].BBox.X0, blocks[4].BBox.X0)

	assert.Equal(t, 2, blocks[5].Page)
	assert.Equal(t, "Education", blocks[5].Content)
	assert.Less(t, blocks[0].BBox.Y0, blocks[1].BBox.Y0, "Y 坐标应转换为自上而下")
}

func TestIngestEncryptedPDF(t *testing.T) {
	in := newTestIngestor(t)
	data := buildEncryptedTestPDF([][]pdfLine{{
		{text: "Jane Doe", x: 72, y: 740, size: 18, bold: true},
		{text: "Skills: Python, SQL", x: 72, y: 720, size: 10},
	}}, "secret")

	for name, opts := range map[string][]ParseOption{
		"no password":    nil,
		"wrong password": {WithPassword("guess")},
	} {
		_, err := in.Parse(context.Background(), data, opts...)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, types.ErrUnreadableDocument, name)
		var ude *types.UnreadableDocumentError
		require.True(t, errors.As(err, &ude), name)
		assert.True(t, ude.Encrypted, "%s: 应标记为加密文档", name)
	}

	blocks, err := in.Parse(context.Background(), data, WithPassword("secret"))
	require.NoError(t, err, "正确密码应可解析")
	require.Len(t, blocks, 2)
	assert.Equal(t, "Jane Doe", blocks[0].Content)
	assert.Equal(t, "Skills: Python, SQL", blocks[1].Content)
}

func TestIngestPDFHeaderVariants(t *testing.T) {
	in := newTestIngestor(t)
	data := buildTestPDF([][]pdfLine{{{text: "Jane Doe", x: 72, y: 740, size: 18}}})
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-1.4\n")))

	v2 := append([]byte(nil), data...)
	copy(v2, "%PDF-2.0")
	blocks, err := in.Parse(context.Background(), v2)
	require.NoError(t, err, "PDF 2.0 文件头应可解析")
	require.NotEmpty(t, blocks)
	assert.Equal(t, "Jane Doe", blocks[0].Content)

	bom := append([]byte("\xef\xbb\xbf"), data...)
	assert.True(t, hasPDFHeader(bom))
	assert.Equal(t, data, normalizePDFHeader(bom), "去掉文件头之前的字节")
	assert.Equal(t, "%PDF-1.7\n\n", string(normalizePDFHeader([]byte("%PDF-2.0 \n"))))
}

func TestIngestTextMentioningPDFMagic(t *testing.T) {
	in := newTestIngestor(t)
	text := "JANE DOE\nWrote a parser for %PDF-1.7 files in Go\nSKILLS\nGo"
	blocks, err := in.Parse(context.Background(), []byte(text))
	require.NoError(t, err, "正文提到 %PDF- 的文本简历应按文本处理")
	require.Len(t, blocks, 4)
	assert.Equal(t, "JANE DOE", blocks[0].Content)
}

func TestPasswordOf(t *testing.T) {
	assert.Equal(t, "", PasswordOf())
	assert.Equal(t, "s3", PasswordOf(WithPassword("s1"), WithPassword("s3")))
}

func TestIngestedPDFSegments(t *testing.T) {
	in := newTestIngestor(t)
	data := buildTestPDF([][]pdfLine{{
		{text: "Jane Doe", x: 72, y: 740, size: 18, bold: true},
		{text: "jane@example.com", x: 72, y: 720, size: 10},
		{text: "Skills", x: 72, y: 690, size: 13, bold: true},
		{text: "Python, SQL", x: 72, y: 672, size: 10},
	}})
	blocks, err := in.Parse(context.Background(), data)
	require.NoError(t, err)

	sections := NewSegmenter(0).Segment(blocks)
	require.Len(t, sections, 2)
	assert.Equal(t, types.SectionContact, sections[0].Kind)
	assert.Equal(t, types.SectionSkills, sections[1].Kind)
	assert.InDelta(t, 1.0, sections[1].Confidence, 1e-9, "字号与字重同时偏离且整行命中词典")
}
