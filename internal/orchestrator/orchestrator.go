// Package orchestrator runs one query through two concurrent answer
// paths (document retrieval and text-to-SQL), reconciles the results,
// and returns a single answer with a confidence score and a full trace.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/rerank"
	"github.com/insight-ai/cli/internal/retrieval"
	"github.com/insight-ai/cli/internal/texttosql"
)

var (
	// ErrInvalidInput is returned for empty queries, before any stage runs.
	ErrInvalidInput = errors.New("query must not be empty")

	// ErrAllPathsFailed is returned when neither path produced an answer.
	ErrAllPathsFailed = errors.New("all answer paths failed")

	// ErrPathTimeout marks a path that exceeded its deadline.
	ErrPathTimeout = errors.New("path deadline exceeded")
)

// Retriever is the document retrieval collaborator. topK <= 0 leaves
// the limit to the implementation.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]*retrieval.Chunk, error)
}

// SQLAgent is the structured-data collaborator
type SQLAgent interface {
	Classify(ctx context.Context, query string) (*texttosql.Classification, error)
	Generate(ctx context.Context, query string) ([]string, error)
	Execute(ctx context.Context, statements []string) []*texttosql.ExecResult
}

// QueryLogStore persists completed passes for the dashboard
type QueryLogStore interface {
	SaveQueryLog(ctx context.Context, log *db.QueryLog) error
}

// Options tune one orchestration pass
type Options struct {
	// RetrievalTopK limits how many chunks retrieval returns.
	RetrievalTopK int

	// RerankTopK limits how many chunks reach generation.
	RerankTopK int

	// SkipSQL forces the SQL path off regardless of classification.
	SkipSQL bool

	// Temperature is forwarded to generation calls.
	Temperature float32

	// SimilarityOnly selects the alternate (no-LLM) reranking backend.
	SimilarityOnly bool

	// PathTimeout bounds each path. Checked between stages, not
	// mid-call: in-flight model calls are never interrupted.
	PathTimeout time.Duration
}

// DefaultOptions returns the standard settings
func DefaultOptions() Options {
	return Options{
		RetrievalTopK: 10,
		RerankTopK:    5,
		Temperature:   0.3,
		PathTimeout:   4 * time.Minute,
	}
}

// RAGAnswer is the document-path output
type RAGAnswer struct {
	Text           string
	Chunks         []*rerank.ScoredChunk
	RetrievedCount int
	Retried        bool
}

// SQLAnswer is the structured-data-path output
type SQLAnswer struct {
	Text       string
	Statements []string
	Reasoning  string
	RowCount   int
}

// AgreementLevel classifies how well the two answers align
type AgreementLevel string

const (
	AgreementFull     AgreementLevel = "FULL"
	AgreementPartial  AgreementLevel = "PARTIAL"
	AgreementConflict AgreementLevel = "CONFLICT"
	AgreementUnknown  AgreementLevel = "UNKNOWN"
)

// Verdict is the reconciliation of the two answers
type Verdict struct {
	Agreement  AgreementLevel
	Confidence float64
	Analysis   string
}

// QueryResult is the final artifact of one orchestration pass
type QueryResult struct {
	Query       string
	FinalAnswer string
	Verdict     Verdict
	RAG         *RAGAnswer
	SQL         *SQLAnswer
	Steps       []StepRecord
	Duration    time.Duration
}

// Orchestrator drives the dual-path pipeline
type Orchestrator struct {
	retriever   Retriever
	reranker    rerank.Reranker
	altReranker rerank.Reranker
	sqlAgent    SQLAgent
	client      llm.LLM
	model       string
	logStore    QueryLogStore
	logger      *slog.Logger
}

// New creates an orchestrator. altReranker and logStore may be nil.
func New(
	retriever Retriever,
	reranker rerank.Reranker,
	altReranker rerank.Reranker,
	sqlAgent SQLAgent,
	client llm.LLM,
	model string,
	logStore QueryLogStore,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		retriever:   retriever,
		reranker:    reranker,
		altReranker: altReranker,
		sqlAgent:    sqlAgent,
		client:      client,
		model:       model,
		logStore:    logStore,
		logger:      logger,
	}
}

// ProcessQuery runs one query through both paths and returns the
// reconciled result.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, opts Options) (*QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 10
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = 5
	}

	start := time.Now()
	trace := NewTrace()

	var (
		wg     sync.WaitGroup
		rag    *RAGAnswer
		ragErr error
		sqlAns *SQLAnswer
		sqlErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		rag, ragErr = o.runRAGPath(ctx, query, opts, trace)
	}()
	go func() {
		defer wg.Done()
		sqlAns, sqlErr = o.runSQLPath(ctx, query, opts, trace)
	}()
	wg.Wait()

	if ragErr != nil {
		o.logger.Warn("rag path failed", "query", query, "error", ragErr)
	}
	if sqlErr != nil {
		o.logger.Warn("sql path failed", "query", query, "error", sqlErr)
	}

	// A pass that produced no answer at all is a hard failure. A skipped
	// SQL path (classification said no) is not a failure but also not an
	// answer.
	if rag == nil && sqlAns == nil {
		if ragErr != nil && sqlErr != nil {
			return nil, fmt.Errorf("%w: rag: %v; sql: %v", ErrAllPathsFailed, ragErr, sqlErr)
		}
		if ragErr != nil {
			return nil, fmt.Errorf("%w: rag: %v; sql path skipped", ErrAllPathsFailed, ragErr)
		}
		return nil, ErrAllPathsFailed
	}

	result := &QueryResult{
		Query: query,
		RAG:   rag,
		SQL:   sqlAns,
	}

	switch {
	case rag != nil && sqlAns != nil:
		verdict, finalAnswer := o.compareAnswers(ctx, query, rag, sqlAns, trace)
		result.Verdict = verdict
		result.FinalAnswer = finalAnswer
	case rag != nil:
		// No comparison possible; the path's own confidence stands.
		result.Verdict = Verdict{
			Agreement:  AgreementUnknown,
			Confidence: ragOnlyConfidence,
			Analysis:   "Answer is based solely on document retrieval.",
		}
		result.FinalAnswer = rag.Text
	default:
		result.Verdict = Verdict{
			Agreement:  AgreementUnknown,
			Confidence: sqlOnlyConfidence(sqlAns.RowCount),
			Analysis:   "Answer is based solely on the database query.",
		}
		result.FinalAnswer = sqlAns.Text
	}

	result.Steps = trace.Steps()
	result.Duration = time.Since(start)

	o.persistLog(ctx, result)
	o.logger.Info("query processed",
		"agreement", result.Verdict.Agreement,
		"confidence", result.Verdict.Confidence,
		"duration", result.Duration,
	)
	return result, nil
}

// runStage times fn and appends one record to the trace
func runStage(trace *Trace, stage Stage, fn func() (string, map[string]any, error)) error {
	started := time.Now()
	summary, data, err := fn()
	rec := StepRecord{
		Stage:     stage,
		Status:    StatusOK,
		Summary:   summary,
		StartedAt: started,
		EndedAt:   time.Now(),
		Data:      data,
	}
	if err != nil {
		rec.Status = StatusError
		rec.Summary = err.Error()
	}
	trace.Append(rec)
	return err
}

// checkDeadline fails a path between stages once its budget is spent
func checkDeadline(deadline time.Time, next Stage) error {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return fmt.Errorf("%w before %s", ErrPathTimeout, next)
	}
	return nil
}

// runRAGPath executes retrieval, reranking, and generation in order
func (o *Orchestrator) runRAGPath(ctx context.Context, query string, opts Options, trace *Trace) (*RAGAnswer, error) {
	var deadline time.Time
	if opts.PathTimeout > 0 {
		deadline = time.Now().Add(opts.PathTimeout)
	}

	var chunks []*retrieval.Chunk
	err := runStage(trace, StageRetrieval, func() (string, map[string]any, error) {
		var err error
		chunks, err = o.retriever.Retrieve(ctx, query, opts.RetrievalTopK)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Retrieved %d chunks", len(chunks)),
			map[string]any{"chunk_count": len(chunks)}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkDeadline(deadline, StageReranking); err != nil {
		trace.Append(StepRecord{
			Stage: StageReranking, Status: StatusError, Summary: err.Error(),
			StartedAt: time.Now(), EndedAt: time.Now(),
		})
		return nil, err
	}

	reranker := o.reranker
	if opts.SimilarityOnly && o.altReranker != nil {
		reranker = o.altReranker
	}

	var scored []*rerank.ScoredChunk
	err = runStage(trace, StageReranking, func() (string, map[string]any, error) {
		var err error
		scored, err = reranker.Rerank(ctx, query, chunks, opts.RerankTopK)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Reranked to top %d chunks", len(scored)),
			map[string]any{"chunk_count": len(scored)}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkDeadline(deadline, StageGeneration); err != nil {
		trace.Append(StepRecord{
			Stage: StageGeneration, Status: StatusError, Summary: err.Error(),
			StartedAt: time.Now(), EndedAt: time.Now(),
		})
		return nil, err
	}

	answer, retried, err := o.generateAnswer(ctx, query, scored, opts, trace)
	if err != nil {
		return nil, err
	}

	return &RAGAnswer{
		Text:           answer,
		Chunks:         scored,
		RetrievedCount: len(chunks),
		Retried:        retried,
	}, nil
}

// runSQLPath executes classification and, when needed, generation and
// execution. A "not needed" classification yields (nil, nil): skipped,
// not failed.
func (o *Orchestrator) runSQLPath(ctx context.Context, query string, opts Options, trace *Trace) (*SQLAnswer, error) {
	var deadline time.Time
	if opts.PathTimeout > 0 {
		deadline = time.Now().Add(opts.PathTimeout)
	}

	var classification *texttosql.Classification
	err := runStage(trace, StageSQLClassification, func() (string, map[string]any, error) {
		if opts.SkipSQL {
			classification = &texttosql.Classification{
				RequiresSQL: false,
				Reasoning:   "SQL path disabled by options",
			}
			return "SQL not required: disabled by options", nil, nil
		}
		var err error
		classification, err = o.sqlAgent.Classify(ctx, query)
		if err != nil {
			return "", nil, err
		}
		if !classification.RequiresSQL {
			return "SQL not required: " + classification.Reasoning, nil, nil
		}
		return "SQL required: " + classification.Reasoning, nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !classification.RequiresSQL {
		return nil, nil
	}

	if err := checkDeadline(deadline, StageSQLGeneration); err != nil {
		trace.Append(StepRecord{
			Stage: StageSQLGeneration, Status: StatusError, Summary: err.Error(),
			StartedAt: time.Now(), EndedAt: time.Now(),
		})
		return nil, err
	}

	var statements []string
	err = runStage(trace, StageSQLGeneration, func() (string, map[string]any, error) {
		var err error
		statements, err = o.sqlAgent.Generate(ctx, query)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Generated %d SQL statement(s)", len(statements)),
			map[string]any{"sql": statements}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkDeadline(deadline, StageSQLExecution); err != nil {
		trace.Append(StepRecord{
			Stage: StageSQLExecution, Status: StatusError, Summary: err.Error(),
			StartedAt: time.Now(), EndedAt: time.Now(),
		})
		return nil, err
	}

	var results []*texttosql.ExecResult
	err = runStage(trace, StageSQLExecution, func() (string, map[string]any, error) {
		results = o.sqlAgent.Execute(ctx, statements)

		total := 0
		failures := 0
		for _, r := range results {
			total += r.RowCount
			if r.Err != nil {
				failures++
			}
		}
		if failures == len(results) {
			return "", nil, fmt.Errorf("all %d SQL statement(s) failed", failures)
		}
		return fmt.Sprintf("Executed %d statement(s), %d row(s)", len(results), total),
			map[string]any{"row_count": total}, nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += r.RowCount
	}

	return &SQLAnswer{
		Text:       texttosql.FormatResults(results),
		Statements: statements,
		Reasoning:  classification.Reasoning,
		RowCount:   total,
	}, nil
}

// persistLog saves the pass to the query log, best effort
func (o *Orchestrator) persistLog(ctx context.Context, result *QueryResult) {
	if o.logStore == nil {
		return
	}
	err := o.logStore.SaveQueryLog(ctx, &db.QueryLog{
		ID:          uuid.New(),
		Query:       result.Query,
		FinalAnswer: result.FinalAnswer,
		Agreement:   string(result.Verdict.Agreement),
		Confidence:  result.Verdict.Confidence,
		DurationMS:  result.Duration.Milliseconds(),
	})
	if err != nil {
		o.logger.Warn("failed to persist query log", "error", err)
	}
}
