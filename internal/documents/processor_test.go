package documents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	p := &Processor{chunkSize: 50, chunkOverlap: 20}

	t.Run("empty text", func(t *testing.T) {
		assert.Nil(t, p.splitText(""))
		assert.Nil(t, p.splitText("   \n\t  "))
	})

	t.Run("short text stays in one chunk", func(t *testing.T) {
		chunks := p.splitText("just a few words")
		require.Len(t, chunks, 1)
		assert.Equal(t, "just a few words", chunks[0])
	})

	t.Run("long text is split", func(t *testing.T) {
		text := strings.Repeat("word ", 100)
		chunks := p.splitText(text)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), p.chunkSize+10)
		}
	})

	t.Run("overlap carries trailing words forward", func(t *testing.T) {
		words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet"}
		chunks := p.splitText(strings.Join(words, " "))
		require.Greater(t, len(chunks), 1)

		first := strings.Fields(chunks[0])
		second := strings.Fields(chunks[1])
		assert.Contains(t, second, first[len(first)-1])
	})
}

func TestExtractTableBlocks(t *testing.T) {
	t.Run("plain prose has no tables", func(t *testing.T) {
		text := "This is a normal paragraph.\nIt spans two lines."
		tables, prose := extractTableBlocks(text)
		assert.Empty(t, tables)
		assert.Equal(t, text, prose)
	})

	t.Run("pipe-delimited block is detected", func(t *testing.T) {
		text := "Intro line.\n" +
			"name | size | count\n" +
			"a | 1 | 2\n" +
			"b | 3 | 4\n" +
			"Closing line."
		tables, prose := extractTableBlocks(text)
		require.Len(t, tables, 1)
		assert.Contains(t, tables[0], "name | size | count")
		assert.Contains(t, prose, "Intro line.")
		assert.Contains(t, prose, "Closing line.")
		assert.NotContains(t, prose, "a | 1 | 2")
	})

	t.Run("two columnar lines are too few", func(t *testing.T) {
		text := "header  col1  col2\nvalue  1  2\nregular prose here"
		tables, prose := extractTableBlocks(text)
		assert.Empty(t, tables)
		assert.Contains(t, prose, "header  col1  col2")
	})

	t.Run("tab-separated block is detected", func(t *testing.T) {
		text := "x\ty\tz\n1\t2\t3\n4\t5\t6"
		tables, _ := extractTableBlocks(text)
		require.Len(t, tables, 1)
	})
}
