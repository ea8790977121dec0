package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// Stage names one pipeline step in the trace
type Stage string

const (
	StageRetrieval         Stage = "retrieval"
	StageReranking         Stage = "reranking"
	StageGeneration        Stage = "llm-generation"
	StageGenerationRetry   Stage = "llm-generation-retry"
	StageSQLClassification Stage = "sql-classification"
	StageSQLGeneration     Stage = "sql-generation"
	StageSQLExecution      Stage = "sql-execution"
	StageComparison        Stage = "comparison"
)

// StepStatus is the outcome of one recorded step
type StepStatus string

const (
	StatusOK    StepStatus = "ok"
	StatusError StepStatus = "error"
)

// StepRecord describes one executed pipeline stage
type StepRecord struct {
	Stage     Stage
	Status    StepStatus
	Summary   string
	StartedAt time.Time
	EndedAt   time.Time
	Data      map[string]any
}

// Trace is the append-only audit record for one query. Both answer paths
// append to it concurrently; each append is a single atomic insertion.
type Trace struct {
	mu    sync.Mutex
	steps []StepRecord
}

// NewTrace creates an empty trace
func NewTrace() *Trace {
	return &Trace{}
}

// Append adds one step record
func (t *Trace) Append(rec StepRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, rec)
}

// Len returns the number of recorded steps
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// Steps returns a copy of all records sorted by start time. Insertion
// order across the two paths is not meaningful, so consumers get a
// timestamp-ordered view.
func (t *Trace) Steps() []StepRecord {
	t.mu.Lock()
	out := make([]StepRecord, len(t.steps))
	copy(out, t.steps)
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
