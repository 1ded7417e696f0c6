package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DocxParser extracts paragraph and table text from Office Open XML word
// processing documents.
type DocxParser struct{}

// NewDocxParser creates a Word document parser.
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// Extensions implements Parser.
func (p *DocxParser) Extensions() []string {
	return []string{".docx"}
}

// Parse implements Parser.
func (p *DocxParser) Parse(_ context.Context, path string) (*Document, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, parseErr(path, fmt.Errorf("not a docx archive: %w", err))
	}
	defer func() { _ = reader.Close() }()

	for _, file := range reader.File {
		if file.Name != docxBody {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, parseErr(path, err)
		}
		text, err := extractDocxText(rc)
		_ = rc.Close()
		if err != nil {
			return nil, parseErr(path, err)
		}
		return newDocument(path, text), nil
	}

	return nil, parseErr(path, errors.New("missing "+docxBody))
}

// extractDocxText walks WordprocessingML tokens. Paragraphs end with a
// newline; table cells are separated by tabs and rows by newlines so table
// content keeps its row structure.
func extractDocxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb        strings.Builder
		inText    bool
		tableDeep int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			case "tbl":
				tableDeep++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tableDeep == 0 {
					sb.WriteByte('\n')
				} else {
					sb.WriteByte(' ')
				}
			case "tc":
				sb.WriteByte('\t')
			case "tr":
				sb.WriteByte('\n')
			case "tbl":
				tableDeep--
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return sb.String(), nil
}
