package retrieval

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinQueryLength is the shortest rewrite, in runes, that replaces the
// original query.
const DefaultMinQueryLength = 2

// Boilerplate that wraps the entity a user is asking about. Longer phrases
// come first so they win over their prefixes.
var zhBoilerplate = []string{
	"请详细介绍一下", "请介绍一下", "介绍一下", "请告诉我", "告诉我", "请问",
	"怎么评价", "如何评价", "怎么看待", "如何看待", "你觉得", "你认为",
	"是什么意思", "是什么", "什么是", "在哪里", "在哪儿", "在哪", "怎么样",
	"有哪些", "是谁",
}

var enBoilerplate = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
	`how (?:do|should|would) (?:i|you|we) evaluate`,
	`how to evaluate`,
	`what do you think (?:of|about)`,
	`can you tell me(?: about)?`,
	`could you tell me(?: about)?`,
	`please tell me(?: about)?`,
	`tell me about`,
	`please explain`,
	`where (?:is|are|can i find)`,
	`what (?:is|are)(?: the)? meaning of`,
	`what (?:is|are)`,
	`who (?:is|are)`,
	`how (?:do|does|can) (?:i|you|we)`,
	`please`,
}, "|") + `)\b`)

var spaceRe = regexp.MustCompile(`\s+`)

// RewriteQuery strips interrogative and evaluative boilerplate plus
// punctuation so the core entity drives the embedding. When the rewrite is
// shorter than minLen runes the trimmed original is returned.
func RewriteQuery(query string, minLen int) string {
	original := strings.TrimSpace(query)
	if minLen <= 0 {
		minLen = DefaultMinQueryLength
	}

	q := original
	for _, phrase := range zhBoilerplate {
		q = strings.ReplaceAll(q, phrase, " ")
	}
	q = enBoilerplate.ReplaceAllString(q, " ")
	q = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, q)
	q = strings.TrimSpace(spaceRe.ReplaceAllString(q, " "))
	q = strings.TrimSuffix(strings.TrimSuffix(q, "吗"), "呢")
	q = strings.TrimSpace(q)

	if utf8.RuneCountInString(q) < minLen {
		return original
	}
	return q
}
