package texttosql

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	t.Run("requires sql", func(t *testing.T) {
		c := parseClassification("REQUIRES_SQL: YES\nREASONING: asks for specific scores")
		assert.True(t, c.RequiresSQL)
		assert.Equal(t, "asks for specific scores", c.Reasoning)
	})

	t.Run("does not require sql", func(t *testing.T) {
		c := parseClassification("REQUIRES_SQL: NO\nREASONING: conceptual question")
		assert.False(t, c.RequiresSQL)
		assert.Equal(t, "conceptual question", c.Reasoning)
	})

	t.Run("case insensitive decision", func(t *testing.T) {
		c := parseClassification("requires_sql: yes\nreasoning: data lookup")
		assert.True(t, c.RequiresSQL)
	})

	t.Run("missing reasoning", func(t *testing.T) {
		c := parseClassification("REQUIRES_SQL: NO")
		assert.Equal(t, "No reasoning provided", c.Reasoning)
	})

	t.Run("malformed response defaults to no", func(t *testing.T) {
		c := parseClassification("I think you should query the table.")
		assert.False(t, c.RequiresSQL)
	})
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, "SELECT 1;", stripCodeFences("```sql\nSELECT 1;\n```"))
	assert.Equal(t, "SELECT 1;", stripCodeFences("```\nSELECT 1;\n```"))
	assert.Equal(t, "SELECT 1;", stripCodeFences("SELECT 1;"))
}

func TestSplitStatements(t *testing.T) {
	t.Run("single statement", func(t *testing.T) {
		statements := splitStatements("SELECT * FROM scores LIMIT 10")
		require.Len(t, statements, 1)
		assert.Equal(t, "SELECT * FROM scores LIMIT 10;", statements[0])
	})

	t.Run("multiple statements", func(t *testing.T) {
		statements := splitStatements("SELECT a FROM t1; SELECT b FROM t2;")
		require.Len(t, statements, 2)
		assert.Equal(t, "SELECT a FROM t1;", statements[0])
		assert.Equal(t, "SELECT b FROM t2;", statements[1])
	})

	t.Run("semicolon inside string literal", func(t *testing.T) {
		statements := splitStatements("SELECT * FROM notes WHERE body ILIKE '%a;b%'")
		require.Len(t, statements, 1)
		assert.Equal(t, "SELECT * FROM notes WHERE body ILIKE '%a;b%';", statements[0])
	})

	t.Run("literal followed by second statement", func(t *testing.T) {
		statements := splitStatements("SELECT 'x;y' FROM t1; SELECT b FROM t2")
		require.Len(t, statements, 2)
		assert.Equal(t, "SELECT 'x;y' FROM t1;", statements[0])
		assert.Equal(t, "SELECT b FROM t2;", statements[1])
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, splitStatements("  ;  ; "))
	})
}

func TestFormatResults(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		assert.Equal(t, "No SQL results available.", FormatResults(nil))
	})

	t.Run("rows render as markdown table", func(t *testing.T) {
		results := []*ExecResult{{
			SQL:      "SELECT name, score FROM scores;",
			Rows:     []map[string]any{{"name": "Indonesia", "score": 71.5}},
			RowCount: 1,
		}}
		out := FormatResults(results)
		assert.Contains(t, out, "Query 1 Results (1 row(s)):")
		assert.Contains(t, out, "| name | score |")
		assert.Contains(t, out, "| Indonesia | 71.5 |")
	})

	t.Run("nil values render as N/A", func(t *testing.T) {
		results := []*ExecResult{{
			Rows:     []map[string]any{{"name": "Mali", "score": nil}},
			RowCount: 1,
		}}
		assert.Contains(t, FormatResults(results), "| Mali | N/A |")
	})

	t.Run("display capped at ten rows", func(t *testing.T) {
		rows := make([]map[string]any, 15)
		for i := range rows {
			rows[i] = map[string]any{"n": i}
		}
		results := []*ExecResult{{Rows: rows, RowCount: 15}}
		out := FormatResults(results)
		assert.Contains(t, out, "... and 5 more rows")
		assert.Equal(t, 10, strings.Count(out, "\n| ")-1) // header row plus 10 data rows
	})

	t.Run("empty result set", func(t *testing.T) {
		results := []*ExecResult{{RowCount: 0}}
		assert.Contains(t, FormatResults(results), "Query 1: No results found.")
	})

	t.Run("failed statement reports error", func(t *testing.T) {
		results := []*ExecResult{{Err: errors.New("relation does not exist")}}
		assert.Contains(t, FormatResults(results), "Query 1 failed: relation does not exist")
	})
}
