package chunker

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragkb/pkg/types"
)

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c)
	assert.Equal(t, ModeSemantic, c.Mode())
	assert.Equal(t, ModeBasic, New(WithMode(ModeBasic)).Mode())
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, mode := range []Mode{ModeSemantic, ModeBasic} {
		c := New(WithMode(mode))
		assert.Empty(t, c.Split(""), mode.String())
		assert.Empty(t, c.Split("  \n\n\t "), mode.String())
		assert.NotNil(t, c.Split(""))
		assert.Empty(t, c.Chunk("empty.txt", ""))
	}
}

func TestSplit_ShortDocumentIsSingleChunk(t *testing.T) {
	c := New(WithChunkSize(300), WithMinChunkSize(100))
	chunks := c.Split("短文档。")
	assert.Equal(t, []string{"短文档。"}, chunks)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want types.DocType
	}{
		{
			name: "technical",
			text: strings.Repeat("```go\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n```\n", 5),
			want: types.DocTechnical,
		},
		{
			name: "knowledge base",
			text: strings.Repeat("问：如何办理借书证？\n答：携带身份证到一楼服务台办理。\n", 5),
			want: types.DocKnowledgeBase,
		},
		{
			name: "structured",
			text: strings.Repeat("| 楼层 | 用途 |\n| 一楼 | 借阅 |\n- 开放时间 八点\n", 5),
			want: types.DocStructured,
		},
		{
			name: "narrative",
			text: strings.Repeat("The library opened in the spring and served the town for a century. ", 20),
			want: types.DocNarrative,
		},
		{
			name: "empty",
			text: "",
			want: types.DocNarrative,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, Profile{ChunkSize: 800, MinChunkSize: 200, ChunkOverlap: 150}, ProfileFor(types.DocTechnical))
	assert.Equal(t, Profile{ChunkSize: 300, MinChunkSize: 50, ChunkOverlap: 50}, ProfileFor(types.DocStructured))
	assert.Equal(t, ProfileFor(types.DocNarrative), ProfileFor("unknown"))

	t.Run("explicit overrides", func(t *testing.T) {
		c := New(WithChunkSize(400), WithMinChunkSize(80), WithOverlap(40))
		assert.Equal(t, Profile{ChunkSize: 400, MinChunkSize: 80, ChunkOverlap: 40}, c.ProfileFor(types.DocTechnical))
	})

	t.Run("clamps", func(t *testing.T) {
		c := New(WithChunkSize(100), WithMinChunkSize(90), WithOverlap(100))
		p := c.ProfileFor(types.DocNarrative)
		assert.Equal(t, 100, p.ChunkSize)
		assert.Equal(t, 50, p.MinChunkSize)
		assert.Less(t, p.ChunkOverlap, 50)
	})
}

// Two headed sections, each larger than the chunk size: every piece,
// including the rebalanced short tail, starts with its section heading.
func TestSemantic_HeadedSectionsLargerThanChunk(t *testing.T) {
	tests := []struct {
		name    string
		bodyLen int
		minSize int
	}{
		{"even split", 800, 0},
		{"short tail", 600, 0},
		{"short tail after two full pieces", 610, 0},
		{"three full pieces and a tail", 900, 0},
		{"short tail with explicit minimum", 600, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "一、引言\n" + strings.Repeat("x", tt.bodyLen) + "\n二、正文\n" + strings.Repeat("y", tt.bodyLen)
			opts := []Option{WithChunkSize(300)}
			if tt.minSize > 0 {
				opts = append(opts, WithMinChunkSize(tt.minSize))
			}
			chunks := New(opts...).Split(text)
			require.GreaterOrEqual(t, len(chunks), 2)

			var first, second bool
			for i, chunk := range chunks {
				require.True(t, isSectionHeading(chunk), "chunk %d does not start at a heading: %q", i, chunk)
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 300)
				assert.Equal(t, 1, strings.Count(chunk, "、"), "heading repeated inside chunk %d", i)
				first = first || strings.HasPrefix(chunk, "一、引言")
				second = second || strings.HasPrefix(chunk, "二、正文")
			}
			assert.True(t, first)
			assert.True(t, second)

			// no content is lost
			joined := strings.Join(chunks, "")
			assert.Equal(t, tt.bodyLen, strings.Count(joined, "x"))
			assert.Equal(t, tt.bodyLen, strings.Count(joined, "y"))
		})
	}
}

func TestRebalance_CarriesHeading(t *testing.T) {
	text := "一、引言\n" + strings.Repeat("x", 295) + "\n\n" + strings.Repeat("x", 10)
	p := Profile{ChunkSize: 300, MinChunkSize: 100}

	left, right := rebalance(text, p)
	assert.True(t, strings.HasPrefix(left, "一、引言\n"))
	assert.True(t, strings.HasPrefix(right, "一、引言\n"))
	for _, half := range []string{left, right} {
		n := utf8.RuneCountInString(half)
		assert.GreaterOrEqual(t, n, 100)
		assert.LessOrEqual(t, n, 300)
	}
	assert.Equal(t, 305, strings.Count(left+right, "x"))
}

func TestJoinChunks(t *testing.T) {
	assert.Equal(t, "一、引言\naaa\n\nbbb", joinChunks("一、引言\naaa", "一、引言\nbbb", 300))
	assert.Equal(t, "一、引言\naaa\n\n二、正文\nbbb", joinChunks("一、引言\naaa", "二、正文\nbbb", 300))
	assert.Equal(t, "plain\n\ntext", joinChunks("plain", "text", 300))
}

func TestSemantic_PacksSmallSections(t *testing.T) {
	var sb strings.Builder
	for i, title := range []string{"一", "二", "三", "四"} {
		fmt.Fprintf(&sb, "%s、第%d节\n%s\n", title, i+1, strings.Repeat("内容。", 20))
	}
	c := New(WithChunkSize(300), WithMinChunkSize(50))

	chunks := c.Split(sb.String())
	// four sections of ~66 runes pack into one chunk
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasPrefix(chunks[0], "一、第1节"))
	assert.Contains(t, chunks[0], "四、第4节")
}

func TestSemantic_SplitsOnSentences(t *testing.T) {
	text := strings.Repeat("这是一个完整的句子。", 100)
	c := New(WithChunkSize(200), WithMinChunkSize(50))

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, strings.HasSuffix(chunk, "。"), "chunk should end at a sentence: %q", chunk)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 200)
	}
}

func TestSemantic_ShortTailIsMerged(t *testing.T) {
	// first section fills most of a chunk, the trailing section is tiny
	text := "一、主体\n" + strings.Repeat("甲", 200) + "\n二、附注\n短。"
	c := New(WithChunkSize(300), WithMinChunkSize(60))

	chunks := c.Split(text)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "二、附注")
}

func TestSemantic_ShortTailIsRebalanced(t *testing.T) {
	text := "一、主体\n" + strings.Repeat("甲。", 145) + "\n二、附注\n" + strings.Repeat("乙", 20)
	c := New(WithChunkSize(300), WithMinChunkSize(60))

	chunks := c.Split(text)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		assert.GreaterOrEqual(t, n, 60)
		assert.LessOrEqual(t, n, 300)
	}
	assert.Contains(t, chunks[1], "二、附注")
}

func TestBasic_Overlap(t *testing.T) {
	text := randomDocument(rand.New(rand.NewSource(7)), 3000)
	const size, overlap = 300, 50
	c := New(WithMode(ModeBasic), WithChunkSize(size), WithMinChunkSize(50), WithOverlap(overlap))

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-overlap:])
		assert.True(t, strings.HasPrefix(chunks[i], tail), "chunk %d does not start with the previous tail", i)
	}
}

func TestBasic_SnapsToBracketedHeading(t *testing.T) {
	text := strings.Repeat("字", 250) + "\n（一）第二部分\n" + strings.Repeat("文", 300)
	c := New(WithMode(ModeBasic), WithChunkSize(300), WithMinChunkSize(50), WithOverlap(20))

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, strings.Repeat("字", 250)+"\n", chunks[0])
	assert.Contains(t, chunks[1], "（一）第二部分")
}

func TestBasic_SnapsToNumberedHeading(t *testing.T) {
	text := strings.Repeat("a", 200) + "\n\n" + strings.Repeat("b", 60) + "\n二、标题\n" + strings.Repeat("c", 300)
	c := New(WithMode(ModeBasic), WithChunkSize(300), WithMinChunkSize(50), WithOverlap(20))

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], "b\n"), "cut should land before the numbered heading")
}

func TestCutKind(t *testing.T) {
	runes := []rune("句子。\n\n段落 word\n下一行")
	assert.Equal(t, cutSentence, cutKind(runes, 3))
	assert.Equal(t, cutParagraph, cutKind(runes, 5))
	assert.Equal(t, cutSpace, cutKind(runes, 8))
	assert.Equal(t, cutNewline, cutKind(runes, 13))
	assert.Equal(t, cutRaw, cutKind(runes, 1))
}

func TestChunkBound_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	profiles := []Profile{
		{ChunkSize: 120, MinChunkSize: 30, ChunkOverlap: 20},
		{ChunkSize: 300, MinChunkSize: 100, ChunkOverlap: 50},
		{ChunkSize: 500, MinChunkSize: 200, ChunkOverlap: 80},
	}

	for trial := 0; trial < 30; trial++ {
		text := randomDocument(rng, 200+rng.Intn(4000))
		for _, p := range profiles {
			for _, mode := range []Mode{ModeSemantic, ModeBasic} {
				c := New(WithMode(mode), WithChunkSize(p.ChunkSize), WithMinChunkSize(p.MinChunkSize), WithOverlap(p.ChunkOverlap))
				chunks := c.Split(text)
				require.NotEmpty(t, chunks)
				for _, chunk := range chunks {
					n := utf8.RuneCountInString(chunk)
					assert.LessOrEqual(t, n, p.ChunkSize, "mode %s trial %d", mode, trial)
					if len(chunks) > 1 {
						assert.GreaterOrEqual(t, n, p.MinChunkSize, "mode %s trial %d", mode, trial)
					}
				}
			}
		}
	}
}

func TestChunk_Metadata(t *testing.T) {
	text := "一、引言\n" + strings.Repeat("内容。", 120) + "\n二、正文\n" + strings.Repeat("更多。", 120)
	c := New(WithChunkSize(200), WithMinChunkSize(50))

	chunks := c.Chunk("guide.txt", text)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, len(chunks), chunk.Total)
		assert.Equal(t, "guide.txt", chunk.SourceFile)
		assert.Equal(t, types.DocKnowledgeBase, chunk.DocType)
		assert.NoError(t, chunk.Validate())
	}
}

func TestChunk_ForcedDocType(t *testing.T) {
	c := New(WithDocType(types.DocStructured))
	chunks := c.Chunk("a.txt", "plain words here")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.DocStructured, chunks[0].DocType)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("第一句。第二句！Pi is 3.14 here. Next?")
	assert.Equal(t, []string{"第一句。", "第二句！", "Pi is 3.14 here.", " Next?"}, got)
}

func randomDocument(rng *rand.Rand, size int) string {
	headings := []string{"一、", "二、", "（一）", "1. ", "## "}
	sentences := []string{
		"图书馆每天八点开放。",
		"借阅证需要本人携带证件办理！",
		"Overdue books incur a small fine. ",
		"阅览室禁止饮食；",
		"Please return items to the front desk? ",
		"长期未归还的图书将被记录在案",
	}

	var sb strings.Builder
	for utf8.RuneCountInString(sb.String()) < size {
		switch rng.Intn(8) {
		case 0:
			sb.WriteString("\n" + headings[rng.Intn(len(headings))] + "章节标题\n")
		case 1:
			sb.WriteString("\n\n")
		case 2:
			sb.WriteString(strings.Repeat("无标点长串", rng.Intn(80)))
		default:
			sb.WriteString(sentences[rng.Intn(len(sentences))])
		}
	}
	return sb.String()
}
