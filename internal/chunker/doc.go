// Package chunker splits document text into bounded, semantically coherent
// chunks for embedding.
//
// # Document Types
//
// Classify scores structural features (Chinese and Arabic numbered
// headings, bracketed sub-headings, markdown headings, list items, code
// fences, table rows, Q&A markers) by density and picks one of technical,
// knowledge-base, structured or narrative. Each type has a default Profile
// of (chunk size, minimum chunk size, overlap); explicit options override
// it.
//
// # Semantic Mode
//
// Text is cut at top-level section headings. Adjacent sections are packed
// greedily up to the chunk size. A section that is too large on its own is
// split on paragraph breaks, then sentence punctuation, then hard character
// cuts; every piece of such a section repeats the section heading. Chunks
// shorter than the minimum are merged into a neighbor, or the pair is
// rebalanced around a boundary near its middle when merging would exceed the
// chunk size. A rebalanced piece that would open mid-section carries the
// section heading forward, so headed chunks keep starting at a heading.
//
// # Basic Mode
//
// A window of chunk size characters slides over the text. Each cut is
// snapped backwards to the best nearby boundary (bracketed heading,
// numbered heading, paragraph break, sentence end, newline, space) and the
// next window starts overlap characters before the cut.
//
// All lengths are measured in runes.
package chunker
