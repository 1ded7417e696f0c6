package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/ragkb/pkg/types"
)

// Document is the raw text extracted from a source file. It is discarded
// once the document has been chunked.
type Document struct {
	Path string
	Name string // base file name, used as the source label
	Text string
	Hash string // filled by the caller after hashing
}

// Parser extracts text from one family of file formats.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	Extensions() []string
}

// UnsupportedFormatError is returned for files no parser is registered for.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q: %s", e.Ext, e.Path)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return types.ErrUnsupportedFormat
}

// ParseError is returned when a file is unreadable or corrupt.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{types.ErrParseFailure, e.Err}
}

func parseErr(path string, err error) error {
	return &ParseError{Path: path, Err: err}
}

// Registry maps lowercase file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// DefaultRegistry returns a registry with the plain text, Word and PDF
// parsers installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTextParser())
	r.Register(NewDocxParser())
	r.Register(NewPDFParser())
	return r
}

// Register installs p for all of its extensions, replacing any previous
// parser for the same extension.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Extensions lists registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Lookup returns the parser responsible for path.
func (r *Registry) Lookup(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, &UnsupportedFormatError{Path: path, Ext: ext}
	}
	return p, nil
}

// Parse dispatches path to its parser and normalizes the extracted text.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	p, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, parseErr(path, err)
	}

	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	doc.Text = Normalize(doc.Text)
	return doc, nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t\x{3000}]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalize unifies line endings, drops NUL and BOM characters, trims
// trailing whitespace on each line and collapses runs of blank lines.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.TrimPrefix(text, "\uFEFF")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func newDocument(path, text string) *Document {
	return &Document{
		Path: path,
		Name: filepath.Base(path),
		Text: text,
	}
}
