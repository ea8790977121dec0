// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/orchestrator"
)

// QueryProcessor runs one query through the dual-path pipeline
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string, opts orchestrator.Options) (*orchestrator.QueryResult, error)
}

// Store provides the read endpoints backing data
type Store interface {
	GetAllDocuments(ctx context.Context) ([]*db.Document, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*db.Document, error)
	RecentQueryLogs(ctx context.Context, limit int) ([]*db.QueryLog, error)
}

// HTTPServer serves the query API
type HTTPServer struct {
	server    *http.Server
	processor QueryProcessor
	store     Store
	opts      orchestrator.Options
	logger    *slog.Logger
}

// NewHTTPServer creates the HTTP server and wires its routes
func NewHTTPServer(port int, processor QueryProcessor, store Store, opts orchestrator.Options, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		processor: processor,
		store:     store,
		opts:      opts,
		logger:    logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealth)
	router.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/documents", s.handleDocuments)
		r.Get("/documents/{id}", s.handleDocument)
		r.Get("/logs", s.handleLogs)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // dual-path queries involve several model calls
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the configured router, for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type queryRequest struct {
	Query          string `json:"query"`
	RetrievalTopK  int    `json:"retrieval_top_k,omitempty"`
	RerankTopK     int    `json:"rerank_top_k,omitempty"`
	SkipSQL        bool   `json:"skip_sql,omitempty"`
	SimilarityOnly bool   `json:"similarity_only,omitempty"`
}

type stepResponse struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Summary   string         `json:"summary"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Data      map[string]any `json:"data,omitempty"`
}

type queryResponse struct {
	Query       string         `json:"query"`
	FinalAnswer string         `json:"final_answer"`
	Agreement   string         `json:"agreement"`
	Confidence  float64        `json:"confidence"`
	Analysis    string         `json:"analysis"`
	RAGAnswer   string         `json:"rag_answer,omitempty"`
	SQLAnswer   string         `json:"sql_answer,omitempty"`
	Steps       []stepResponse `json:"steps"`
	DurationMS  int64          `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	opts := s.opts
	if req.RetrievalTopK > 0 {
		opts.RetrievalTopK = req.RetrievalTopK
	}
	if req.RerankTopK > 0 {
		opts.RerankTopK = req.RerankTopK
	}
	opts.SkipSQL = opts.SkipSQL || req.SkipSQL
	opts.SimilarityOnly = opts.SimilarityOnly || req.SimilarityOnly

	result, err := s.processor.ProcessQuery(r.Context(), req.Query, opts)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, orchestrator.ErrAllPathsFailed):
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		default:
			s.logger.Error("query processing failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	resp := queryResponse{
		Query:       result.Query,
		FinalAnswer: result.FinalAnswer,
		Agreement:   string(result.Verdict.Agreement),
		Confidence:  result.Verdict.Confidence,
		Analysis:    result.Verdict.Analysis,
		DurationMS:  result.Duration.Milliseconds(),
	}
	if result.RAG != nil {
		resp.RAGAnswer = result.RAG.Text
	}
	if result.SQL != nil {
		resp.SQLAnswer = result.SQL.Text
	}
	for _, step := range result.Steps {
		resp.Steps = append(resp.Steps, stepResponse{
			Stage:     string(step.Stage),
			Status:    string(step.Status),
			Summary:   step.Summary,
			StartedAt: step.StartedAt,
			EndedAt:   step.EndedAt,
			Data:      step.Data,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.GetAllDocuments(r.Context())
	if err != nil {
		s.logger.Error("failed to list documents", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	type docResponse struct {
		ID        string     `json:"id"`
		FilePath  string     `json:"file_path"`
		Title     string     `json:"title"`
		Processed *time.Time `json:"processed_at,omitempty"`
	}
	out := make([]docResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, docResponse{
			ID:        d.ID.String(),
			FilePath:  d.FilePath,
			Title:     d.Title,
			Processed: d.ProcessedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid document id"})
		return
	}

	doc, err := s.store.GetDocumentByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get document", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           doc.ID.String(),
		"file_path":    doc.FilePath,
		"title":        doc.Title,
		"processed_at": doc.ProcessedAt,
		"created_at":   doc.CreatedAt,
	})
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.RecentQueryLogs(r.Context(), 50)
	if err != nil {
		s.logger.Error("failed to list query logs", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	type logResponse struct {
		Query      string    `json:"query"`
		Agreement  string    `json:"agreement"`
		Confidence float64   `json:"confidence"`
		DurationMS int64     `json:"duration_ms"`
		CreatedAt  time.Time `json:"created_at"`
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			Query:      l.Query,
			Agreement:  l.Agreement,
			Confidence: l.Confidence,
			DurationMS: l.DurationMS,
			CreatedAt:  l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
