package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/dshills/ragkb/pkg/types"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeDocx(t *testing.T, name, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>一、总则</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">图书馆开放时间为</w:t></w:r><w:r><w:t>每日八点。</w:t></w:r></w:p>
    <w:tbl>
      <w:tr><w:tc><w:p><w:r><w:t>楼层</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>用途</w:t></w:r></w:p></w:tc></w:tr>
      <w:tr><w:tc><w:p><w:r><w:t>一楼</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>借阅</w:t></w:r></w:p></w:tc></w:tr>
    </w:tbl>
    <w:p><w:r><w:t>Line</w:t><w:br/><w:t>break</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestRegistry_Dispatch(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		path string
		want Parser
	}{
		{"a.txt", &TextParser{}},
		{"a.MD", &TextParser{}},
		{"a.docx", &DocxParser{}},
		{"dir/a.PDF", &PDFParser{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := reg.Lookup(tt.path)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}

	assert.Equal(t, []string{".docx", ".markdown", ".md", ".pdf", ".text", ".txt"}, reg.Extensions())
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	reg := DefaultRegistry()
	path := writeFile(t, "image.png", []byte{0x89, 'P', 'N', 'G'})

	_, err := reg.Parse(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)

	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, ".png", unsupported.Ext)
}

func TestRegistry_CustomParser(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("a.txt")
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)

	reg.Register(NewTextParser())
	_, err = reg.Lookup("a.txt")
	assert.NoError(t, err)
}

func TestTextParser(t *testing.T) {
	reg := DefaultRegistry()

	t.Run("utf8 with crlf", func(t *testing.T) {
		path := writeFile(t, "notes.txt", []byte("一、引言\r\n内容   \r\n\r\n\r\n\r\n二、正文\r\n"))
		doc, err := reg.Parse(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, "一、引言\n内容\n\n二、正文", doc.Text)
		assert.Equal(t, "notes.txt", doc.Name)
		assert.Equal(t, path, doc.Path)
	})

	t.Run("gb18030", func(t *testing.T) {
		encoded, err := simplifiedchinese.GB18030.NewEncoder().String("图书馆开放时间为每日八点到晚上十点，周末照常开放。")
		require.NoError(t, err)
		path := writeFile(t, "legacy.txt", []byte(encoded))

		doc, err := reg.Parse(context.Background(), path)
		require.NoError(t, err)
		assert.NotEmpty(t, doc.Text)
	})

	t.Run("empty", func(t *testing.T) {
		path := writeFile(t, "empty.txt", nil)
		doc, err := reg.Parse(context.Background(), path)
		require.NoError(t, err)
		assert.Empty(t, doc.Text)
	})

	t.Run("binary", func(t *testing.T) {
		data := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0xff, 0xfe}
		path := writeFile(t, "fake.txt", data)
		_, err := reg.Parse(context.Background(), path)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrParseFailure)
	})
}

func TestDocxParser(t *testing.T) {
	reg := DefaultRegistry()
	path := writeDocx(t, "handbook.docx", sampleDocumentXML)

	doc, err := reg.Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "一、总则\n图书馆开放时间为每日八点。")
	assert.Contains(t, doc.Text, "楼层")
	assert.Contains(t, doc.Text, "一楼")
	assert.Contains(t, doc.Text, "Line\nbreak")
	assert.Equal(t, "handbook.docx", doc.Name)
}

func TestDocxParser_Corrupt(t *testing.T) {
	reg := DefaultRegistry()

	t.Run("not a zip", func(t *testing.T) {
		path := writeFile(t, "broken.docx", []byte("definitely not a zip archive"))
		_, err := reg.Parse(context.Background(), path)
		assert.ErrorIs(t, err, types.ErrParseFailure)
	})

	t.Run("missing body", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.docx")
		f, err := os.Create(path)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		_, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())

		_, err = reg.Parse(context.Background(), path)
		assert.ErrorIs(t, err, types.ErrParseFailure)
	})

	t.Run("malformed xml", func(t *testing.T) {
		path := writeDocx(t, "bad.docx", "<w:document><w:body><w:p>")
		_, err := reg.Parse(context.Background(), path)
		assert.ErrorIs(t, err, types.ErrParseFailure)
	})
}

func TestPDFParser_Corrupt(t *testing.T) {
	reg := DefaultRegistry()
	path := writeFile(t, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf"))

	_, err := reg.Parse(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrParseFailure)
}

// pdfText places s on a page with its baseline at (x, y).
type pdfText struct {
	x, y float64
	s    string
}

// buildPDF renders a minimal PDF with one content stream per page,
// using a standard Type1 font so no font program needs embedding.
func buildPDF(pages [][]pdfText) []byte {
	var objects []string
	kids := make([]string, len(pages))
	fontRef := 3 + 2*len(pages)
	for i, texts := range pages {
		var content strings.Builder
		content.WriteString("BT\n/F1 12 Tf\n")
		for _, t := range texts {
			fmt.Fprintf(&content, "1 0 0 1 %g %g Tm\n(%s) Tj\n", t.x, t.y, t.s)
		}
		content.WriteString("ET")

		pageRef, contentRef := 3+2*i, 4+2*i
		kids[i] = fmt.Sprintf("%d 0 R", pageRef)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontRef, contentRef),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}
	objects = append([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
	}, objects...)
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFParser_PageAndRowOrder(t *testing.T) {
	// content streams list rows bottom-up and split words out of order;
	// extraction reads each page top-down and each row left to right
	data := buildPDF([][]pdfText{
		{
			{72, 650, "Second row of page one."},
			{150, 700, "row of page one."},
			{72, 700, "First "},
		},
		{
			{72, 600, "Last row of page two."},
			{72, 720, "Top row of page two."},
		},
	})
	reg := DefaultRegistry()
	path := writeFile(t, "manual.pdf", data)

	doc, err := reg.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "manual.pdf", doc.Name)

	want := []string{
		"First row of page one.",
		"Second row of page one.",
		"Top row of page two.",
		"Last row of page two.",
	}
	last := -1
	for _, line := range want {
		idx := strings.Index(doc.Text, line)
		require.GreaterOrEqual(t, idx, 0, "missing %q in %q", line, doc.Text)
		assert.Greater(t, idx, last, "%q out of order in %q", line, doc.Text)
		last = idx
	}
	assert.Contains(t, doc.Text, "page one.\n\nTop row", "pages are separated by a blank line")
}

func TestParse_MissingFile(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Parse(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.ErrorIs(t, err, types.ErrParseFailure)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"nul", "a\x00b", "ab"},
		{"bom", "\uFEFFtext", "text"},
		{"trailing space", "a  \nb\t\n", "a\nb"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"ideographic space", "标题　\n正文", "标题\n正文"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
