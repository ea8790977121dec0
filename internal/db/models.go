package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ChunkKind distinguishes the three chunk sources stored in the vector table.
type ChunkKind string

const (
	KindText  ChunkKind = "text"
	KindImage ChunkKind = "image"
	KindTable ChunkKind = "table"
)

// Document represents a processed source document
type Document struct {
	ID          uuid.UUID
	FilePath    string
	FileHash    string
	Title       string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk represents one embedded passage. Image chunks carry the figure
// caption as content plus the rendered image path; table chunks carry a
// textual summary of a detected table block.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Kind       ChunkKind
	ChunkIndex int
	SectionID  string
	Content    string
	FilePath   string // set for image chunks only
	Embedding  *pgvector.Vector
	CreatedAt  time.Time
}

// TableSchema describes one relational table available to the SQL path.
type TableSchema struct {
	TableName   string
	CreateSQL   string
	Description string
	CreatedAt   time.Time
}

// QueryLog records one completed orchestration pass for the dashboard.
type QueryLog struct {
	ID          uuid.UUID
	Query       string
	FinalAnswer string
	Agreement   string
	Confidence  float64
	DurationMS  int64
	CreatedAt   time.Time
}
