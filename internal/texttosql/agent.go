// Package texttosql implements the structured-data answer path: classify
// whether a question needs relational data, generate PostgreSQL, execute
// it read-only, and format the rows.
package texttosql

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/llm"
)

// Classification is the outcome of the SQL-need check
type Classification struct {
	RequiresSQL bool
	Reasoning   string
}

// ExecResult holds the outcome of one executed statement
type ExecResult struct {
	SQL      string
	Rows     []map[string]any
	RowCount int
	Err      error
}

// Agent runs the classify, generate, execute, format pipeline
type Agent struct {
	db     *db.DB
	client llm.LLM
	model  string
}

// NewAgent creates a new text-to-SQL agent
func NewAgent(database *db.DB, client llm.LLM, model string) *Agent {
	return &Agent{db: database, client: client, model: model}
}

var reasoningPattern = regexp.MustCompile(`(?i)REASONING:\s*(.+)`)

// Classify decides whether the question needs structured data. With no
// registered tables it returns false without a model call.
func (a *Agent) Classify(ctx context.Context, query string) (*Classification, error) {
	schemas, err := a.db.ListTableSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(schemas) == 0 {
		return &Classification{RequiresSQL: false, Reasoning: "No tables available in database"}, nil
	}

	var tableInfo strings.Builder
	for _, s := range schemas {
		desc := s.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&tableInfo, "- %s: %s\n", s.TableName, desc)
	}

	prompt := fmt.Sprintf(`You are a query classifier. Analyze the user's question and determine if it requires querying structured database tables.

Available Tables:
%s
User Question: %s

Analyze the question and determine:
1. Does this question ask for specific data values, statistics, or comparisons that would be in database tables?
2. Does it mention specific entities (countries, products, scores, etc.) that would be stored in tables?
3. Or is it asking for conceptual explanations, definitions, or general knowledge?

Respond in this exact format:
REQUIRES_SQL: [YES/NO]
REASONING: [Brief explanation of why SQL is or isn't needed]`, tableInfo.String(), query)

	response, err := a.client.Generate(ctx, prompt, llm.GenerateOptions{Model: a.model, Temperature: 0.1})
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	return parseClassification(response), nil
}

// parseClassification extracts the YES/NO decision and the reasoning line
func parseClassification(response string) *Classification {
	c := &Classification{
		RequiresSQL: strings.Contains(strings.ToUpper(response), "REQUIRES_SQL: YES"),
		Reasoning:   "No reasoning provided",
	}
	if m := reasoningPattern.FindStringSubmatch(response); m != nil {
		if line := strings.TrimSpace(strings.SplitN(m[1], "\n", 2)[0]); line != "" {
			c.Reasoning = line
		}
	}
	return c
}

// Generate converts the question into one or more SELECT statements
func (a *Agent) Generate(ctx context.Context, query string) ([]string, error) {
	schemas, err := a.db.ListTableSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var schemaInfo strings.Builder
	for _, s := range schemas {
		fmt.Fprintf(&schemaInfo, "Table: %s\nSchema:\n%s\n", s.TableName, s.CreateSQL)
		if s.Description != "" {
			fmt.Fprintf(&schemaInfo, "Description: %s\n", s.Description)
		}
		schemaInfo.WriteString(strings.Repeat("-", 40) + "\n")
	}

	prompt := fmt.Sprintf(`You are an expert PostgreSQL developer. Convert the natural language question into a valid SQL query.

Database Schema:
%s
User Question: %s

Important Guidelines:
1. Generate ONLY valid PostgreSQL SELECT queries
2. Use proper table names exactly as shown in the schema
3. Use appropriate WHERE clauses to filter data
4. Use JOINs if multiple tables are needed
5. Use aggregate functions (COUNT, AVG, SUM, etc.) when appropriate
6. Always include LIMIT clause to prevent excessive results (default LIMIT 100)
7. Use ILIKE for case-insensitive text matching

Respond with ONLY the SQL query (or multiple queries if needed, separated by semicolons).
Do not include any explanations or markdown formatting.`, schemaInfo.String(), query)

	response, err := a.client.Generate(ctx, prompt, llm.GenerateOptions{Model: a.model, Temperature: 0.1})
	if err != nil {
		return nil, fmt.Errorf("sql generation failed: %w", err)
	}

	statements := splitStatements(stripCodeFences(response))
	if len(statements) == 0 {
		return nil, fmt.Errorf("model returned no SQL statements")
	}
	return statements, nil
}

// stripCodeFences removes markdown code block markers
func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```sql", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// splitStatements splits on semicolons outside string literals, keeping
// non-empty statements.
func splitStatements(text string) []string {
	var statements []string
	var current strings.Builder
	inLiteral := false

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			statements = append(statements, s+";")
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			current.WriteRune(r)
		case r == ';' && !inLiteral:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return statements
}

// Execute runs each statement read-only. Per-statement failures are
// captured in the result, not returned.
func (a *Agent) Execute(ctx context.Context, statements []string) []*ExecResult {
	results := make([]*ExecResult, 0, len(statements))
	for _, stmt := range statements {
		rows, err := a.db.ExecuteSelect(ctx, stmt)
		results = append(results, &ExecResult{
			SQL:      stmt,
			Rows:     rows,
			RowCount: len(rows),
			Err:      err,
		})
	}
	return results
}

// displayRowLimit caps how many rows appear in the formatted output
const displayRowLimit = 10

// FormatResults renders execution results as markdown tables
func FormatResults(results []*ExecResult) string {
	if len(results) == 0 {
		return "No SQL results available."
	}

	var parts []string
	for i, result := range results {
		switch {
		case result.Err != nil:
			parts = append(parts, fmt.Sprintf("Query %d failed: %v", i+1, result.Err))
		case result.RowCount == 0:
			parts = append(parts, fmt.Sprintf("Query %d: No results found.", i+1))
		default:
			parts = append(parts, fmt.Sprintf("Query %d Results (%d row(s)):", i+1, result.RowCount))
			parts = append(parts, formatTable(result.Rows)...)
			if result.RowCount > displayRowLimit {
				parts = append(parts, fmt.Sprintf("... and %d more rows", result.RowCount-displayRowLimit))
			}
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

// formatTable renders rows as a markdown table with stable column order
func formatTable(rows []map[string]any) []string {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	lines := []string{
		"| " + strings.Join(columns, " | ") + " |",
		"|" + strings.Repeat("---|", len(columns)),
	}

	display := rows
	if len(display) > displayRowLimit {
		display = display[:displayRowLimit]
	}
	for _, row := range display {
		cells := make([]string, 0, len(columns))
		for _, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				cells = append(cells, fmt.Sprintf("%v", v))
			} else {
				cells = append(cells, "N/A")
			}
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return lines
}
