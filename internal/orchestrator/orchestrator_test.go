package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/rerank"
	"github.com/insight-ai/cli/internal/retrieval"
	"github.com/insight-ai/cli/internal/texttosql"
)

type stubRetriever struct {
	chunks  []*retrieval.Chunk
	err     error
	delay   time.Duration
	gotTopK int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, topK int) ([]*retrieval.Chunk, error) {
	s.gotTopK = topK
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.chunks, s.err
}

type stubReranker struct {
	err   error
	score float64
}

func (s *stubReranker) Rerank(ctx context.Context, query string, chunks []*retrieval.Chunk, topK int) ([]*rerank.ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*rerank.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, &rerank.ScoredChunk{Chunk: *c, FinalScore: s.score})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type stubSQLAgent struct {
	classification *texttosql.Classification
	classifyErr    error
	statements     []string
	generateErr    error
	results        []*texttosql.ExecResult
}

func (s *stubSQLAgent) Classify(ctx context.Context, query string) (*texttosql.Classification, error) {
	return s.classification, s.classifyErr
}

func (s *stubSQLAgent) Generate(ctx context.Context, query string) ([]string, error) {
	return s.statements, s.generateErr
}

func (s *stubSQLAgent) Execute(ctx context.Context, statements []string) []*texttosql.ExecResult {
	return s.results
}

// routeLLM answers generation and comparison prompts separately and
// counts generation calls.
type routeLLM struct {
	mu           sync.Mutex
	genResponses []string
	genErrs      []error
	genCalls     int
	compResponse string
	compErr      error
}

func (m *routeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if strings.Contains(prompt, "answer quality evaluator") {
		return m.compResponse, m.compErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.genCalls
	m.genCalls++
	var err error
	if i < len(m.genErrs) {
		err = m.genErrs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.genResponses) {
		return m.genResponses[i], nil
	}
	return "fallback answer", nil
}

type recordingLogStore struct {
	mu   sync.Mutex
	logs []*db.QueryLog
}

func (r *recordingLogStore) SaveQueryLog(ctx context.Context, log *db.QueryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func defaultChunks() []*retrieval.Chunk {
	return []*retrieval.Chunk{
		{Kind: db.KindText, SourceDocument: "report", SectionID: "page-1", Content: "Indonesia scored 71.5.", Similarity: 0.9},
		{Kind: db.KindTable, SourceDocument: "report", SectionID: "page-9", Content: "country scores table", Similarity: 0.8},
	}
}

func workingSQLAgent() *stubSQLAgent {
	return &stubSQLAgent{
		classification: &texttosql.Classification{RequiresSQL: true, Reasoning: "asks for a score"},
		statements:     []string{"SELECT score FROM scores WHERE country ILIKE '%indonesia%' LIMIT 10;"},
		results: []*texttosql.ExecResult{{
			Rows:     []map[string]any{{"score": 71.5}},
			RowCount: 1,
		}},
	}
}

func newTestOrchestrator(ret Retriever, sqlAgent SQLAgent, model *routeLLM, store QueryLogStore) *Orchestrator {
	return New(ret, &stubReranker{score: 0.8}, rerank.NewSimilarityReranker(), sqlAgent, model, "test-model", store, nil)
}

func stageNames(steps []StepRecord) []Stage {
	names := make([]Stage, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Stage)
	}
	return names
}

func TestProcessQueryEmptyInput(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{}, workingSQLAgent(), &routeLLM{}, nil)

	for _, q := range []string{"", "   ", "\n\t"} {
		result, err := o.ProcessQuery(context.Background(), q, DefaultOptions())
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, result)
	}
}

func TestProcessQueryBothPathsAgree(t *testing.T) {
	model := &routeLLM{
		genResponses: []string{"Indonesia's score is 71.5 according to the report."},
		compResponse: "AGREEMENT_LEVEL: FULL\nANALYSIS: Both report the same value.\nRECOMMENDED_ANSWER: Either.",
	}
	store := &recordingLogStore{}
	o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, store)

	result, err := o.ProcessQuery(context.Background(), "What is Indonesia's pillar score?", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, AgreementFull, result.Verdict.Agreement)
	assert.GreaterOrEqual(t, result.Verdict.Confidence, 0.90)
	assert.LessOrEqual(t, result.Verdict.Confidence, 1.00)
	assert.NotEmpty(t, result.FinalAnswer)
	require.NotNil(t, result.RAG)
	require.NotNil(t, result.SQL)

	stages := stageNames(result.Steps)
	assert.Contains(t, stages, StageRetrieval)
	assert.Contains(t, stages, StageReranking)
	assert.Contains(t, stages, StageGeneration)
	assert.Contains(t, stages, StageSQLClassification)
	assert.Contains(t, stages, StageSQLGeneration)
	assert.Contains(t, stages, StageSQLExecution)
	assert.Contains(t, stages, StageComparison)

	require.Len(t, store.logs, 1)
	assert.Equal(t, "FULL", store.logs[0].Agreement)
}

func TestProcessQuerySQLNotNeeded(t *testing.T) {
	model := &routeLLM{genResponses: []string{"Governance factors cover regulation and institutions."}}
	sqlAgent := &stubSQLAgent{
		classification: &texttosql.Classification{RequiresSQL: false, Reasoning: "conceptual question"},
	}
	o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, sqlAgent, model, nil)

	result, err := o.ProcessQuery(context.Background(), "Explain governance factors", DefaultOptions())
	require.NoError(t, err)

	assert.Nil(t, result.SQL)
	require.NotNil(t, result.RAG)
	assert.Equal(t, result.RAG.Text, result.FinalAnswer)
	assert.Equal(t, AgreementUnknown, result.Verdict.Agreement)
	assert.Equal(t, ragOnlyConfidence, result.Verdict.Confidence)

	stages := stageNames(result.Steps)
	assert.Contains(t, stages, StageSQLClassification)
	assert.NotContains(t, stages, StageSQLGeneration)
	assert.NotContains(t, stages, StageSQLExecution)
	assert.NotContains(t, stages, StageComparison)
}

func TestProcessQueryRAGFailsSQLSucceeds(t *testing.T) {
	o := newTestOrchestrator(
		&stubRetriever{err: errors.New("vector store unavailable")},
		workingSQLAgent(),
		&routeLLM{},
		nil,
	)

	result, err := o.ProcessQuery(context.Background(), "What is the score?", DefaultOptions())
	require.NoError(t, err)

	assert.Nil(t, result.RAG)
	require.NotNil(t, result.SQL)
	assert.Equal(t, result.SQL.Text, result.FinalAnswer)
	assert.Equal(t, AgreementUnknown, result.Verdict.Agreement)
	assert.Equal(t, 0.80, result.Verdict.Confidence)
	assert.NotContains(t, stageNames(result.Steps), StageComparison)
}

func TestProcessQueryAllPathsFailed(t *testing.T) {
	sqlAgent := &stubSQLAgent{classifyErr: errors.New("database down")}
	o := newTestOrchestrator(&stubRetriever{err: errors.New("vector store down")}, sqlAgent, &routeLLM{}, nil)

	result, err := o.ProcessQuery(context.Background(), "What is the score?", DefaultOptions())
	assert.ErrorIs(t, err, ErrAllPathsFailed)
	assert.Nil(t, result)
}

func TestProcessQueryRAGFailsSQLSkipped(t *testing.T) {
	sqlAgent := &stubSQLAgent{
		classification: &texttosql.Classification{RequiresSQL: false, Reasoning: "conceptual"},
	}
	o := newTestOrchestrator(&stubRetriever{err: errors.New("down")}, sqlAgent, &routeLLM{}, nil)

	result, err := o.ProcessQuery(context.Background(), "Explain factors", DefaultOptions())
	assert.ErrorIs(t, err, ErrAllPathsFailed)
	assert.Nil(t, result)
}

func TestProcessQueryForceSkipSQL(t *testing.T) {
	model := &routeLLM{genResponses: []string{"answer from documents"}}
	o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, nil)

	opts := DefaultOptions()
	opts.SkipSQL = true
	result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
	require.NoError(t, err)

	assert.Nil(t, result.SQL)
	stages := stageNames(result.Steps)
	assert.Contains(t, stages, StageSQLClassification)
	assert.NotContains(t, stages, StageSQLGeneration)
}

func TestProcessQueryRetrievalTopKOption(t *testing.T) {
	model := &routeLLM{genResponses: []string{"answer from documents"}}
	ret := &stubRetriever{chunks: defaultChunks()}
	o := newTestOrchestrator(ret, workingSQLAgent(), model, nil)

	opts := DefaultOptions()
	opts.RetrievalTopK = 3
	_, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
	require.NoError(t, err)
	assert.Equal(t, 3, ret.gotTopK)

	// Unset falls back to the default
	opts.RetrievalTopK = 0
	_, err = o.ProcessQuery(context.Background(), "What is the score?", opts)
	require.NoError(t, err)
	assert.Equal(t, 10, ret.gotTopK)
}

func TestProcessQueryComparisonFailureDegrades(t *testing.T) {
	model := &routeLLM{
		genResponses: []string{"The score is 71.5."},
		compErr:      errors.New("model timeout"),
	}
	o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, nil)

	result, err := o.ProcessQuery(context.Background(), "What is the score?", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, AgreementUnknown, result.Verdict.Agreement)
	assert.InDelta(t, 0.90*0.70, result.Verdict.Confidence, 0.01)
	assert.NotEmpty(t, result.FinalAnswer)

	// The failed comparison is still recorded
	var comparison *StepRecord
	for i := range result.Steps {
		if result.Steps[i].Stage == StageComparison {
			comparison = &result.Steps[i]
		}
	}
	require.NotNil(t, comparison)
	assert.Equal(t, StatusError, comparison.Status)
}

const genericResponse = "The context does not contain this information and the documents do not provide details."

func TestProcessQueryGenericRetry(t *testing.T) {
	t.Run("generic answer triggers exactly one retry", func(t *testing.T) {
		model := &routeLLM{genResponses: []string{genericResponse, "The score is 71.5, from Source 1."}}
		o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, nil)

		opts := DefaultOptions()
		opts.SkipSQL = true
		result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
		require.NoError(t, err)

		assert.Equal(t, 2, model.genCalls)
		assert.True(t, result.RAG.Retried)
		assert.Equal(t, "The score is 71.5, from Source 1.", result.RAG.Text)

		retries := 0
		for _, s := range result.Steps {
			if s.Stage == StageGenerationRetry {
				retries++
			}
		}
		assert.Equal(t, 1, retries)
	})

	t.Run("second generic response is accepted without another retry", func(t *testing.T) {
		model := &routeLLM{genResponses: []string{genericResponse, genericResponse}}
		o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, nil)

		opts := DefaultOptions()
		opts.SkipSQL = true
		result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
		require.NoError(t, err)

		assert.Equal(t, 2, model.genCalls)
		assert.Equal(t, genericResponse, result.RAG.Text)
	})

	t.Run("retry failure keeps the original answer", func(t *testing.T) {
		model := &routeLLM{
			genResponses: []string{genericResponse},
			genErrs:      []error{nil, errors.New("model overloaded")},
		}
		o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks()}, workingSQLAgent(), model, nil)

		opts := DefaultOptions()
		opts.SkipSQL = true
		result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
		require.NoError(t, err)

		assert.False(t, result.RAG.Retried)
		assert.Equal(t, genericResponse, result.RAG.Text)
	})
}

func TestProcessQueryPathTimeout(t *testing.T) {
	model := &routeLLM{}
	o := newTestOrchestrator(
		&stubRetriever{chunks: defaultChunks(), delay: 20 * time.Millisecond},
		workingSQLAgent(),
		model,
		nil,
	)

	opts := DefaultOptions()
	opts.PathTimeout = time.Nanosecond
	result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)

	// SQL path also hits its deadline after classification, so the
	// outcome depends on which stages completed before the budget ran
	// out. With a nanosecond budget neither path can finish.
	assert.ErrorIs(t, err, ErrAllPathsFailed)
	assert.Nil(t, result)
}

func TestProcessQueryDuration(t *testing.T) {
	model := &routeLLM{genResponses: []string{"answer"}}
	o := newTestOrchestrator(&stubRetriever{chunks: defaultChunks(), delay: 5 * time.Millisecond}, workingSQLAgent(), model, nil)

	opts := DefaultOptions()
	opts.SkipSQL = true
	result, err := o.ProcessQuery(context.Background(), "What is the score?", opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Duration, 5*time.Millisecond)
}
