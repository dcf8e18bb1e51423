package parser

import (
	"bytes"
	"crypto/md5"
	"crypto/rc4"
	"fmt"
	"strings"
)

// pdfLine 测试PDF中的一行文本
type pdfLine struct {
	text string
	x, y float64
	size float64
	bold bool
}

// buildTestPDF 生成一个最小可解析的PDF：每页一组文本行，Courier/Courier-Bold 等宽字体
func buildTestPDF(pages [][]pdfLine) []byte {
	return buildPDF(pages, nil)
}

// buildEncryptedTestPDF 同 buildTestPDF，内容流按标准安全处理器 R2（40位 RC4）加密
func buildEncryptedTestPDF(pages [][]pdfLine, userPassword string) []byte {
	return buildPDF(pages, newPDFEncryption(userPassword, "owner-"+userPassword))
}

var testPasswordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

type pdfEncryption struct {
	key  []byte
	o, u []byte
	id   []byte
	p    int32
}

func padPassword(pw string) []byte {
	out := append([]byte(pw), testPasswordPad...)
	return out[:32]
}

func rc4XOR(key, data []byte) []byte {
	c, _ := rc4.NewCipher(key)
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

func newPDFEncryption(user, owner string) *pdfEncryption {
	e := &pdfEncryption{id: []byte("career-agent-pdf"), p: -4}
	ownerKey := md5.Sum(padPassword(owner))
	e.o = rc4XOR(ownerKey[:5], padPassword(user))

	h := md5.New()
	h.Write(padPassword(user))
	h.Write(e.o)
	p := uint32(e.p)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(e.id)
	e.key = h.Sum(nil)[:5]
	e.u = rc4XOR(e.key, testPasswordPad)
	return e
}

// objectKey 与阅读器一致：MD5(key + 对象号低3字节 + 代号低2字节)
func (e *pdfEncryption) objectKey(num int) []byte {
	h := md5.New()
	h.Write(e.key)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), 0, 0})
	return h.Sum(nil)
}

func buildPDF(pages [][]pdfLine, enc *pdfEncryption) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	write := func(format string, args ...any) { fmt.Fprintf(&buf, format, args...) }
	startObj := func() int {
		offsets = append(offsets, buf.Len())
		return len(offsets)
	}

	widths := strings.TrimSpace(strings.Repeat("600 ", 95))
	buf.WriteString("%PDF-1.4\n")

	// 1: Catalog, 2: Pages, 3: F1, 4: F2，然后每页两个对象（Page, Contents）
	firstPageObj := 5
	var kids []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", firstPageObj+2*i))
	}

	startObj()
	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	startObj()
	write("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(pages))
	startObj()
	write("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>\nendobj\n", widths)
	startObj()
	write("4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Courier-Bold /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>\nendobj\n", widths)

	for i, lines := range pages {
		pageNum := firstPageObj + 2*i
		contentNum := pageNum + 1

		var cs strings.Builder
		for _, l := range lines {
			font := "F1"
			if l.bold {
				font = "F2"
			}
			text := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(l.text)
			fmt.Fprintf(&cs, "BT /%s %.1f Tf %.1f %.1f Td (%s) Tj ET\n", font, l.size, l.x, l.y, text)
		}
		stream := cs.String()
		if enc != nil {
			stream = string(rc4XOR(enc.objectKey(contentNum), []byte(stream)))
		}

		startObj()
		write("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R /F2 4 0 R >> >> /Contents %d 0 R >>\nendobj\n", pageNum, contentNum)
		startObj()
		eol := ""
		if !strings.HasSuffix(stream, "\n") {
			eol = "\n"
		}
		write("%d 0 obj\n<< /Length %d >>\nstream\n%s%sendstream\nendobj\n", contentNum, len(stream), stream, eol)
	}

	xref := buf.Len()
	write("xref\n0 %d\n", len(offsets)+1)
	write("0000000000 65535 f \n")
	for _, off := range offsets {
		write("%010d 00000 n \n", off)
	}
	encrypt := ""
	if enc != nil {
		encrypt = fmt.Sprintf(" /Encrypt << /Filter /Standard /V 1 /R 2 /Length 40 /O <%x> /U <%x> /P %d >> /ID [<%x> <%x>]",
			enc.o, enc.u, enc.p, enc.id, enc.id)
	}
	write("trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, encrypt, xref)
	return buf.Bytes()
}
