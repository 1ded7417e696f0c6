package retrieval

import (
	"fmt"
	"strings"

	"github.com/dshills/ragkb/pkg/types"
)

// FormatContext joins retrieved documents into numbered blocks labelled with
// their source file and score, ready to paste into a prompt.
func FormatContext(docs []types.RetrievedDoc) string {
	if len(docs) == 0 {
		return ""
	}

	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] Source: %s (score %.3f)\n", i+1, d.SourceFileName, d.Score)
		b.WriteString(strings.TrimSpace(d.Content))
	}
	return b.String()
}
