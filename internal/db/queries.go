package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// GetDocumentByHash retrieves a document by its file hash
func (db *DB) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	var doc Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, file_path, file_hash, title, processed_at, created_at, updated_at
		 FROM documents WHERE file_hash = $1`,
		hash,
	).Scan(
		&doc.ID, &doc.FilePath, &doc.FileHash, &doc.Title,
		&doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by hash: %w", err)
	}
	return &doc, nil
}

// GetDocumentByID retrieves a document by its ID
func (db *DB) GetDocumentByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, file_path, file_hash, title, processed_at, created_at, updated_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(
		&doc.ID, &doc.FilePath, &doc.FileHash, &doc.Title,
		&doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by id: %w", err)
	}
	return &doc, nil
}

// CreateDocument creates a new document record
func (db *DB) CreateDocument(ctx context.Context, filePath, fileHash, title string) (*Document, error) {
	var doc Document
	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (file_path, file_hash, title)
		 VALUES ($1, $2, $3)
		 RETURNING id, file_path, file_hash, title, processed_at, created_at, updated_at`,
		filePath, fileHash, title,
	).Scan(
		&doc.ID, &doc.FilePath, &doc.FileHash, &doc.Title,
		&doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return &doc, nil
}

// UpdateDocumentProcessed updates the processed_at timestamp
func (db *DB) UpdateDocumentProcessed(ctx context.Context, docID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE documents SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`,
		docID,
	)
	return err
}

// InsertChunksBatch inserts multiple chunks in a single batch
func (db *DB) InsertChunksBatch(ctx context.Context, chunks []*Chunk) error {
	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, document_id, kind, chunk_index, section_id, content, file_path, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			chunk.ID, chunk.DocumentID, chunk.Kind, chunk.ChunkIndex,
			chunk.SectionID, chunk.Content, chunk.FilePath, chunk.Embedding,
		)
	}
	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	return nil
}

// SimilarChunk pairs a stored chunk with its cosine similarity to a query.
type SimilarChunk struct {
	Chunk
	Similarity     float64
	SourceDocument string
}

// SearchSimilarChunks finds the closest chunks of one kind by cosine distance.
func (db *DB) SearchSimilarChunks(ctx context.Context, embedding *pgvector.Vector, kind ChunkKind, limit int) ([]*SimilarChunk, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.kind, c.chunk_index, c.section_id, c.content,
		        c.file_path, c.created_at,
		        1 - (c.embedding <=> $1) AS similarity,
		        d.title
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.kind = $2 AND c.embedding IS NOT NULL
		 ORDER BY c.embedding <=> $1
		 LIMIT $3`,
		embedding, kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s chunks: %w", kind, err)
	}
	defer rows.Close()

	var chunks []*SimilarChunk
	for rows.Next() {
		var c SimilarChunk
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.Kind, &c.ChunkIndex, &c.SectionID,
			&c.Content, &c.FilePath, &c.CreatedAt, &c.Similarity, &c.SourceDocument,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// RegisterTableSchema records a relational table for the SQL path catalog.
func (db *DB) RegisterTableSchema(ctx context.Context, ts *TableSchema) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO table_schemas (table_name, create_sql, description)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (table_name) DO UPDATE SET create_sql = $2, description = $3`,
		ts.TableName, ts.CreateSQL, ts.Description,
	)
	return err
}

// ListTableSchemas returns the catalog of tables available to the SQL path.
func (db *DB) ListTableSchemas(ctx context.Context) ([]*TableSchema, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT table_name, create_sql, description, created_at
		 FROM table_schemas ORDER BY table_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list table schemas: %w", err)
	}
	defer rows.Close()

	var schemas []*TableSchema
	for rows.Next() {
		var ts TableSchema
		if err := rows.Scan(&ts.TableName, &ts.CreateSQL, &ts.Description, &ts.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table schema: %w", err)
		}
		schemas = append(schemas, &ts)
	}
	return schemas, rows.Err()
}

var (
	stringLiteral = regexp.MustCompile(`'[^']*'`)
	writeKeyword  = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|TRUNCATE|DROP|ALTER|CREATE|GRANT|COPY)\b`)
)

// checkReadOnly rejects statements that are not plain reads. A prefix
// check alone is not enough: WITH admits data-modifying CTEs, so write
// keywords outside string literals are rejected too.
func checkReadOnly(sql string) error {
	trimmed := strings.TrimSpace(strings.ToUpper(sql))
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	if kw := writeKeyword.FindString(stringLiteral.ReplaceAllString(sql, "''")); kw != "" {
		return fmt.Errorf("statement contains write keyword %s", strings.ToUpper(kw))
	}
	return nil
}

// ExecuteSelect runs one read-only statement and returns its rows as
// column/value maps. The statement executes inside a READ ONLY
// transaction, so anything the keyword scan misses is still rejected
// by the database.
func (db *DB) ExecuteSelect(ctx context.Context, sql string) ([]map[string]any, error) {
	if err := checkReadOnly(sql); err != nil {
		return nil, err
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit read-only transaction: %w", err)
	}
	return out, nil
}

// SaveQueryLog persists one completed orchestration pass
func (db *DB) SaveQueryLog(ctx context.Context, log *QueryLog) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO query_log (id, query, final_answer, agreement, confidence, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, log.Query, log.FinalAnswer, log.Agreement, log.Confidence, log.DurationMS,
	)
	return err
}

// RecentQueryLogs returns the most recent completed passes
func (db *DB) RecentQueryLogs(ctx context.Context, limit int) ([]*QueryLog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, query, final_answer, agreement, confidence, duration_ms, created_at
		 FROM query_log ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get query log: %w", err)
	}
	defer rows.Close()

	var logs []*QueryLog
	for rows.Next() {
		var l QueryLog
		if err := rows.Scan(&l.ID, &l.Query, &l.FinalAnswer, &l.Agreement, &l.Confidence, &l.DurationMS, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// GetAllDocuments retrieves all documents
func (db *DB) GetAllDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, file_path, file_hash, title, processed_at, created_at, updated_at
		 FROM documents ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(
			&doc.ID, &doc.FilePath, &doc.FileHash, &doc.Title,
			&doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument deletes a document and its chunks (via ON DELETE CASCADE)
func (db *DB) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	return err
}

// ChunkCounts returns the number of stored chunks per kind
func (db *DB) ChunkCounts(ctx context.Context) (map[ChunkKind]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT kind, COUNT(*) FROM chunks GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	defer rows.Close()

	counts := make(map[ChunkKind]int)
	for rows.Next() {
		var kind ChunkKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
