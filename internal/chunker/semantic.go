package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// sectionHeadingRe matches lines that open a top-level section.
var sectionHeadingRe = regexp.MustCompile(
	`^(?:[一二三四五六七八九十百]+[、.．]|第[一二三四五六七八九十百千0-9]+[章节条篇部]|\d+(?:[、．]|\.(?:\s|$|[^\d]))|[（(][一二三四五六七八九十0-9]+[)）]|#{1,6}\s)`,
)

// maxHeadingRunes bounds how long a first line may be and still be repeated
// on every piece of an oversized section.
const maxHeadingRunes = 60

func isSectionHeading(line string) bool {
	return sectionHeadingRe.MatchString(strings.TrimLeft(line, " \t"))
}

// splitSections cuts text before every section heading line. Text before
// the first heading forms its own section.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var (
		sections []string
		current  []string
	)
	flush := func() {
		if s := strings.TrimSpace(strings.Join(current, "\n")); s != "" {
			sections = append(sections, s)
		}
		current = current[:0]
	}
	for _, line := range lines {
		if isSectionHeading(line) && len(current) > 0 {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return sections
}

func splitSemantic(text string, p Profile) []string {
	var (
		chunks  []string
		pending string
	)
	for _, section := range splitSections(text) {
		if runeLen(section) > p.ChunkSize {
			if pending != "" {
				chunks = append(chunks, pending)
				pending = ""
			}
			chunks = append(chunks, splitOversizedSection(section, p.ChunkSize)...)
			continue
		}
		switch {
		case pending == "":
			pending = section
		case runeLen(pending)+2+runeLen(section) <= p.ChunkSize:
			pending += "\n\n" + section
		default:
			chunks = append(chunks, pending)
			pending = section
		}
	}
	if pending != "" {
		chunks = append(chunks, pending)
	}
	return mergeShort(chunks, p)
}

// splitOversizedSection splits a section larger than maxSize. When the
// section opens with a short heading line, each piece repeats it.
func splitOversizedSection(section string, maxSize int) []string {
	heading, body, found := strings.Cut(section, "\n")
	body = strings.TrimSpace(body)
	if !found || body == "" || !isSectionHeading(heading) ||
		runeLen(heading) > maxHeadingRunes || runeLen(heading)+1 > maxSize/2 {
		return splitRecursive(section, maxSize, levelParagraph)
	}

	heading = strings.TrimSpace(heading)
	pieces := splitRecursive(body, maxSize-runeLen(heading)-1, levelParagraph)
	for i := range pieces {
		pieces[i] = heading + "\n" + pieces[i]
	}
	return pieces
}

type splitLevel int

const (
	levelParagraph splitLevel = iota
	levelSentence
	levelHard
)

var paragraphBreakRe = regexp.MustCompile(`\n[ \t]*\n`)

// splitRecursive splits text into pieces of at most budget runes, trying
// paragraph breaks, then sentence ends, then hard cuts.
func splitRecursive(text string, budget int, level splitLevel) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= budget {
		return []string{text}
	}
	if level == levelHard {
		return hardCut(text, budget)
	}

	var (
		units []string
		sep   string
	)
	if level == levelParagraph {
		units, sep = paragraphBreakRe.Split(text, -1), "\n\n"
	} else {
		units, sep = splitSentences(text), ""
	}
	if len(units) <= 1 {
		return splitRecursive(text, budget, level+1)
	}

	var (
		pieces []string
		cur    string
	)
	flush := func() {
		if s := strings.TrimSpace(cur); s != "" {
			pieces = append(pieces, s)
		}
		cur = ""
	}
	for _, unit := range units {
		if level == levelParagraph {
			unit = strings.TrimSpace(unit)
		}
		if strings.TrimSpace(unit) == "" {
			continue
		}
		if runeLen(strings.TrimSpace(unit)) > budget {
			flush()
			pieces = append(pieces, splitRecursive(unit, budget, level+1)...)
			continue
		}
		if cur == "" {
			cur = unit
			continue
		}
		if runeLen(strings.TrimSpace(cur+sep+unit)) <= budget {
			cur += sep + unit
		} else {
			flush()
			cur = unit
		}
	}
	flush()
	return pieces
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '…', '!', '?', ';', '\n':
		return true
	}
	return false
}

// splitSentences cuts after sentence-ending punctuation and newlines. A
// period ends a sentence only when followed by whitespace or the end of
// the text, so decimals and abbreviations inside words stay intact.
func splitSentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i, r := range runes {
		end := isSentenceEnd(r)
		if r == '.' && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			end = true
		}
		if end {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func hardCut(text string, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/budget+1)
	for start := 0; start < len(runes); start += budget {
		end := start + budget
		if end > len(runes) {
			end = len(runes)
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			pieces = append(pieces, s)
		}
	}
	return pieces
}

// mergeShort folds chunks shorter than the minimum into a neighbor (the
// previous chunk, or the next one for a leading chunk). If the merged text
// would exceed the chunk size the pair is split again near its middle so
// both halves fall within [min, max].
func mergeShort(chunks []string, p Profile) []string {
	if p.MinChunkSize <= 0 {
		return chunks
	}
	for i := 0; i < len(chunks); {
		if len(chunks) == 1 || runeLen(chunks[i]) >= p.MinChunkSize {
			i++
			continue
		}

		lo := i - 1
		if i == 0 {
			lo = 0
		}
		hi := lo + 1

		combined := joinChunks(chunks[lo], chunks[hi], p.ChunkSize)
		if runeLen(combined) <= p.ChunkSize {
			chunks[lo] = combined
			chunks = append(chunks[:hi], chunks[hi+1:]...)
			i = lo
			continue
		}

		chunks[lo], chunks[hi] = rebalance(combined, p)
		i = hi + 1
	}
	return chunks
}

// carriedHeading reports the heading line of chunk when it is short enough
// to be repeated on continuation pieces of its section.
func carriedHeading(chunk string, maxSize int) (string, bool) {
	first, _, _ := strings.Cut(chunk, "\n")
	first = strings.TrimSpace(first)
	if first == "" || !isSectionHeading(first) || runeLen(first) > maxHeadingRunes || runeLen(first)+1 > maxSize/2 {
		return "", false
	}
	return first, true
}

// joinChunks concatenates two chunks. A continuation piece that repeats the
// heading of the chunk before it loses its copy of the heading.
func joinChunks(a, b string, maxSize int) string {
	ha, okA := carriedHeading(a, maxSize)
	hb, okB := carriedHeading(b, maxSize)
	if okA && okB && ha == hb {
		_, body, _ := strings.Cut(b, "\n")
		if body = strings.TrimSpace(body); body != "" {
			return a + "\n\n" + body
		}
	}
	return a + "\n\n" + b
}

type headingLine struct {
	start, end int // rune offsets of the line, end at its newline
	text       string
}

// headingLines lists the section heading lines of runes in order.
func headingLines(runes []rune) []headingLine {
	var out []headingLine
	for start := 0; start < len(runes); {
		end := start
		for end < len(runes) && runes[end] != '\n' {
			end++
		}
		if line := string(runes[start:end]); isSectionHeading(line) {
			out = append(out, headingLine{start: start, end: end, text: strings.TrimSpace(line)})
		}
		start = end + 1
	}
	return out
}

// lineStart returns the offset of the line containing r when only
// indentation precedes r on that line, or -1.
func lineStart(runes []rune, r int) int {
	k := r
	for k > 0 && (runes[k-1] == ' ' || runes[k-1] == '\t') {
		k--
	}
	if k == 0 || runes[k-1] == '\n' {
		return k
	}
	return -1
}

// boundaryRank ranks a cut before position p of runes; lower is better.
func boundaryRank(runes []rune, p int) int {
	if p <= 0 || p >= len(runes) {
		return 6
	}
	prev := runes[p-1]
	switch {
	case prev == '\n' && p >= 2 && runes[p-2] == '\n':
		return 2
	case prev == '\n':
		return 4
	case isSentenceEnd(prev) || (prev == '.' && unicode.IsSpace(runes[p])):
		return 3
	case unicode.IsSpace(prev):
		return 5
	}
	return 6
}

// rebalance splits text (already trimmed) into two trimmed halves, each
// within [min, max], preferring the best boundary closest to the middle.
// When the cut lands inside a section's body the second half is prefixed
// with that section's heading.
func rebalance(text string, p Profile) (string, string) {
	runes := []rune(text)
	n := len(runes)
	mid := n / 2
	headings := headingLines(runes)

	bestPos, bestRank, bestDist := -1, 7, n
	bestCarry := ""
	for pos := 1; pos < n; pos++ {
		// lengths of the halves once whitespace at the cut is trimmed
		l := pos
		for l > 0 && unicode.IsSpace(runes[l-1]) {
			l--
		}
		r := pos
		for r < n && unicode.IsSpace(runes[r]) {
			r++
		}

		carry, ok := headingCarry(runes, headings, pos, r, p.ChunkSize)
		if !ok {
			continue
		}
		ll, rl := l, n-r
		if carry != "" {
			rl += runeLen(carry) + 1
		}
		if ll < p.MinChunkSize || rl < p.MinChunkSize || ll > p.ChunkSize || rl > p.ChunkSize {
			continue
		}
		rank := boundaryRank(runes, pos)
		dist := pos - mid
		if dist < 0 {
			dist = -dist
		}
		if rank < bestRank || (rank == bestRank && dist < bestDist) {
			bestPos, bestRank, bestDist, bestCarry = pos, rank, dist, carry
		}
	}
	if bestPos < 0 {
		return string(runes[:mid]), string(runes[mid:])
	}
	right := strings.TrimSpace(string(runes[bestPos:]))
	if bestCarry != "" {
		right = bestCarry + "\n" + right
	}
	return strings.TrimSpace(string(runes[:bestPos])), right
}

// headingCarry decides which heading, if any, the second half of a cut at
// pos must repeat. r is the first non-space rune after the cut. Cuts inside
// a heading line are rejected.
func headingCarry(runes []rune, headings []headingLine, pos, r int, maxSize int) (string, bool) {
	var governing *headingLine
	for i := range headings {
		h := &headings[i]
		if h.start >= pos {
			break
		}
		if pos <= h.end {
			return "", false
		}
		governing = h
	}
	if governing == nil {
		return "", true
	}
	if k := lineStart(runes, r); k >= 0 {
		for _, h := range headings {
			if h.start == k {
				return "", true
			}
		}
	}
	heading, ok := carriedHeading(governing.text, maxSize)
	if !ok {
		return "", true
	}
	return heading, true
}
