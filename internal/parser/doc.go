// Package parser extracts raw text from source documents.
//
// Parsing is dispatched through a Registry that maps file extensions to
// Parser implementations:
//
//	reg := parser.DefaultRegistry()
//	doc, err := reg.Parse(ctx, "/kb/handbook.docx")
//	if err != nil {
//	    var unsupported *parser.UnsupportedFormatError
//	    if errors.As(err, &unsupported) {
//	        // skip, recorded in the report
//	    }
//	}
//
// # Formats
//
//   - .txt, .md, .markdown, .text: read as UTF-8, transcoding legacy
//     encodings detected by content sniffing
//   - .docx: paragraph and table text from word/document.xml
//   - .pdf: page text in row order
//
// # Errors
//
// Unknown extensions yield *UnsupportedFormatError (matching
// types.ErrUnsupportedFormat). Unreadable or corrupt files yield
// *ParseError (matching types.ErrParseFailure). Both are per-file problems;
// callers record them and move on.
//
// All extracted text goes through Normalize before it is returned.
package parser
