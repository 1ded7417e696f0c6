package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// TextParser reads plain text and markdown files. Files in legacy
// encodings (GB18030, UTF-16, Windows code pages) are transcoded to UTF-8.
type TextParser struct{}

// NewTextParser creates a plain text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Extensions implements Parser.
func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".text"}
}

// Parse implements Parser.
func (p *TextParser) Parse(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, parseErr(path, err)
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, parseErr(path, err)
	}

	return newDocument(path, text), nil
}

func decodeText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if utf8.Valid(data) && bytes.IndexByte(data, 0) < 0 {
		return string(data), nil
	}

	mime := mimetype.Detect(data).String()
	if !strings.HasPrefix(mime, "text/") {
		return "", fmt.Errorf("binary content detected (%s)", mime)
	}

	enc, name, _ := charset.DetermineEncoding(data, mime)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("transcoded result is not valid utf-8")
	}
	return string(decoded), nil
}
