package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{
			name: "plain select",
			sql:  "SELECT id, score FROM scores ORDER BY score DESC LIMIT 5",
		},
		{
			name: "read-only cte",
			sql:  "WITH top AS (SELECT * FROM scores ORDER BY score DESC LIMIT 5) SELECT * FROM top",
		},
		{
			name:    "delete statement",
			sql:     "DELETE FROM scores WHERE id = 1",
			wantErr: true,
		},
		{
			name:    "data-modifying cte",
			sql:     "WITH d AS (DELETE FROM scores RETURNING *) SELECT * FROM d;",
			wantErr: true,
		},
		{
			name:    "insert behind select prefix",
			sql:     "SELECT 1; INSERT INTO scores (score) VALUES (99)",
			wantErr: true,
		},
		{
			name: "write keyword inside string literal",
			sql:  "SELECT * FROM notes WHERE body ILIKE '%delete%'",
		},
		{
			name: "column names containing keyword substrings",
			sql:  "SELECT created_at, updated_at FROM documents",
		},
		{
			name:    "not a select at all",
			sql:     "TRUNCATE scores",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkReadOnly(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
