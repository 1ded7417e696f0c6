package chunker

import (
	"regexp"
	"unicode/utf8"

	"github.com/dshills/ragkb/pkg/types"
)

// Profile holds the chunk sizing used for one document type. All sizes are
// in characters (runes).
type Profile struct {
	ChunkSize    int
	MinChunkSize int
	ChunkOverlap int
}

var profiles = map[types.DocType]Profile{
	// Procedures and code need room to stay intact.
	types.DocTechnical:     {ChunkSize: 800, MinChunkSize: 200, ChunkOverlap: 150},
	types.DocKnowledgeBase: {ChunkSize: 500, MinChunkSize: 100, ChunkOverlap: 80},
	// Tables and lists: small chunks keep keyword density high.
	types.DocStructured: {ChunkSize: 300, MinChunkSize: 50, ChunkOverlap: 50},
	types.DocNarrative:  {ChunkSize: 600, MinChunkSize: 150, ChunkOverlap: 100},
}

// ProfileFor returns the default profile of a document type. Unknown types
// get the narrative profile.
func ProfileFor(docType types.DocType) Profile {
	if p, ok := profiles[docType]; ok {
		return p
	}
	return profiles[types.DocNarrative]
}

var (
	cnHeadingRe    = regexp.MustCompile(`(?m)^[ \t]*[一二三四五六七八九十百]+[、.．]`)
	chapterRe      = regexp.MustCompile(`(?m)^[ \t]*第[一二三四五六七八九十百千0-9]+[章节条篇部]`)
	arabicRe       = regexp.MustCompile(`(?m)^[ \t]*\d+(?:\.\d+)*[、.．][ \t]*\S`)
	bracketedRe    = regexp.MustCompile(`(?m)^[ \t]*[（(][一二三四五六七八九十0-9]+[)）]`)
	letteredRe     = regexp.MustCompile(`(?m)^[ \t]*[A-Za-z][.、)][ \t]`)
	markdownRe     = regexp.MustCompile(`(?m)^#{1,6}[ \t]`)
	listItemRe     = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•·]|\d+\))[ \t]`)
	codeFenceRe    = regexp.MustCompile("(?m)^[ \t]*```")
	codeLineRe     = regexp.MustCompile(`(?m)^[ \t]*(?:func |def |class |import |package |public |private |return |SELECT |INSERT |\$ )|[{};][ \t]*$`)
	tableRowRe     = regexp.MustCompile(`(?m)^[ \t]*\|.*\|[ \t]*$`)
	questionMarkRe = regexp.MustCompile(`(?m)^[ \t]*(?:问[:：]|答[:：]|问题[:：]|Q[:：]|A[:：]|Q\d+[.、:：])`)
)

type feature struct {
	re     *regexp.Regexp
	weight float64
}

var categoryFeatures = map[types.DocType][]feature{
	types.DocTechnical: {
		{codeFenceRe, 3},
		{codeLineRe, 1},
		{markdownRe, 0.5},
	},
	types.DocKnowledgeBase: {
		{questionMarkRe, 2},
		{cnHeadingRe, 1.5},
		{chapterRe, 1},
		{bracketedRe, 1},
	},
	types.DocStructured: {
		{tableRowRe, 1.5},
		{listItemRe, 1},
		{letteredRe, 1},
		{arabicRe, 0.8},
	},
}

// classification order breaks ties deterministically
var categoryOrder = []types.DocType{types.DocTechnical, types.DocKnowledgeBase, types.DocStructured}

// narrativeFloor is the minimum weighted feature density (per 1000
// characters) a structural category needs to beat plain narrative text.
const narrativeFloor = 1.0

// Classify infers the structural category of text by weighted feature
// density.
func Classify(text string) types.DocType {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return types.DocNarrative
	}

	best, bestScore := types.DocNarrative, narrativeFloor
	for _, category := range categoryOrder {
		score := 0.0
		for _, f := range categoryFeatures[category] {
			matches := len(f.re.FindAllStringIndex(text, -1))
			score += f.weight * float64(matches) * 1000 / float64(n)
		}
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	return best
}
