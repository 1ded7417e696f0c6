package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	bracketedStartRe = regexp.MustCompile(`^[（(][一二三四五六七八九十0-9]+[)）]`)
	numberedStartRe  = regexp.MustCompile(`^(?:[一二三四五六七八九十百]+[、.．]|第[一二三四五六七八九十百千0-9]+[章节条]|\d+[、.．])`)
)

// Cut preferences for basic mode, best first.
const (
	cutBracketedHeading = iota
	cutNumberedHeading
	cutParagraph
	cutSentence
	cutNewline
	cutSpace
	cutRaw
)

// splitBasic slides a window of p.ChunkSize runes over text. Consecutive
// windows share at least p.ChunkOverlap runes; windows are not trimmed so
// the shared span is exact.
func splitBasic(text string, p Profile) []string {
	runes := []rune(text)
	n := len(runes)
	if n <= p.ChunkSize {
		return []string{strings.TrimSpace(text)}
	}

	snap := p.ChunkSize / 5
	if snap < 1 {
		snap = 1
	}

	var chunks []string
	start := 0
	for {
		if n-start <= p.ChunkSize {
			chunks = append(chunks, string(runes[start:n]))
			break
		}

		hi := start + p.ChunkSize
		lo := hi - snap
		if floor := start + p.ChunkOverlap + 1; lo < floor {
			lo = floor
		}
		if floor := start + p.MinChunkSize; lo < floor {
			lo = floor
		}
		// cut early enough that the remaining tail reaches the minimum size
		if limit := n - p.MinChunkSize + p.ChunkOverlap; limit < hi && limit >= lo {
			hi = limit
		}
		end := snapCut(runes, lo, hi)
		chunks = append(chunks, string(runes[start:end]))

		next := end - p.ChunkOverlap
		// starting the last window earlier only widens the overlap
		if n-next < p.MinChunkSize {
			next = n - p.MinChunkSize
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// snapCut picks the cut position in [lo, hi] with the best boundary,
// preferring later positions on ties.
func snapCut(runes []rune, lo, hi int) int {
	if lo > hi {
		lo = hi
	}
	best, bestKind := hi, cutRaw+1
	for pos := hi; pos >= lo; pos-- {
		kind := cutKind(runes, pos)
		if kind < bestKind {
			best, bestKind = pos, kind
			if kind == cutBracketedHeading {
				break
			}
		}
	}
	return best
}

// cutKind classifies a cut made just before runes[pos].
func cutKind(runes []rune, pos int) int {
	if pos <= 0 || pos >= len(runes) {
		return cutRaw
	}
	prev := runes[pos-1]
	if prev == '\n' {
		end := pos + 16
		if end > len(runes) {
			end = len(runes)
		}
		head := string(runes[pos:end])
		if bracketedStartRe.MatchString(head) {
			return cutBracketedHeading
		}
		if numberedStartRe.MatchString(head) {
			return cutNumberedHeading
		}
		if pos >= 2 && runes[pos-2] == '\n' {
			return cutParagraph
		}
	}
	switch {
	case prev != '\n' && isSentenceEnd(prev):
		return cutSentence
	case prev == '.' && unicode.IsSpace(runes[pos]):
		return cutSentence
	case prev == '\n':
		return cutNewline
	case unicode.IsSpace(prev):
		return cutSpace
	}
	return cutRaw
}
