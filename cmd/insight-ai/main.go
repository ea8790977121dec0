package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/insight-ai/cli/config"
	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/documents"
	"github.com/insight-ai/cli/internal/embeddings"
	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/orchestrator"
	"github.com/insight-ai/cli/internal/rerank"
	"github.com/insight-ai/cli/internal/retrieval"
	"github.com/insight-ai/cli/internal/server"
	"github.com/insight-ai/cli/internal/texttosql"
	"github.com/insight-ai/cli/internal/tui"
	"github.com/insight-ai/cli/migrations"
)

func main() {
	var (
		migrateFlag  = flag.Bool("migrate", false, "Run database migrations and exit")
		serveFlag    = flag.Bool("serve", false, "Run the HTTP API server instead of the TUI")
		ingestFlag   = flag.String("ingest", "", "Ingest all PDFs under the given directory and exit")
		askFlag      = flag.String("ask", "", "Answer one question and exit")
		registerFlag = flag.String("register-table", "", "Create the table defined in the given .sql file and add it to the SQL-path catalog")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *migrateFlag {
		if err := runMigrations(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations completed successfully")
		return
	}

	if *registerFlag != "" {
		if err := runRegisterTable(cfg, *registerFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error registering table: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := os.MkdirAll(cfg.Paths.ImageDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating image directory: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *ingestFlag != "":
		if err := runIngest(cfg, *ingestFlag, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error ingesting documents: %v\n", err)
			os.Exit(1)
		}
	case *askFlag != "":
		if err := runAsk(cfg, *askFlag, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *serveFlag:
		if err := runServer(cfg, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	default:
		app, err := tui.NewApp(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing app: %v\n", err)
			os.Exit(1)
		}
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running app: %v\n", err)
			os.Exit(1)
		}
	}
}

// runMigrations applies the embedded schema
func runMigrations(cfg *config.Config) error {
	ctx := context.Background()
	database, err := db.New(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	for _, name := range migrations.Files() {
		sql, err := migrations.Read(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := database.Pool().Exec(ctx, sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		slog.Info("applied migration", "file", name)
	}
	return nil
}

var createTablePattern = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)`)

// runRegisterTable creates a relational table from a DDL file and adds
// it to the catalog the SQL path sees. The first "-- " comment line is
// used as the table description.
func runRegisterTable(cfg *config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read DDL file: %w", err)
	}
	ddl := string(data)

	m := createTablePattern.FindStringSubmatch(ddl)
	if m == nil {
		return fmt.Errorf("no CREATE TABLE statement found in %s", path)
	}
	tableName := strings.ToLower(m[1])

	var description string
	for _, line := range strings.Split(ddl, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-- ") {
			description = strings.TrimPrefix(line, "-- ")
			break
		}
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if _, err := database.Pool().Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	if err := database.RegisterTableSchema(ctx, &db.TableSchema{
		TableName:   tableName,
		CreateSQL:   ddl,
		Description: description,
	}); err != nil {
		return fmt.Errorf("failed to register table %s: %w", tableName, err)
	}

	fmt.Printf("Registered table %q for SQL answering\n", tableName)
	return nil
}

// pipeline bundles the wired collaborators for the non-TUI modes
type pipeline struct {
	db        *db.DB
	processor *documents.Processor
	orch      *orchestrator.Orchestrator
	opts      orchestrator.Options
}

// buildPipeline wires the full stack from configuration
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	database, err := db.New(context.Background(), cfg.Database.ConnectionString, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.Ollama.BaseURL),
		llm.WithModel(cfg.Ollama.ChatModel),
	)

	chatModel, err := llm.NewModelSelector(client).GetDefaultModel(context.Background(), cfg.Ollama.ChatModel)
	if err != nil {
		logger.Warn("model selection failed, using default", "error", err)
		chatModel = llm.DefaultModel
	}
	logger.Info("using ollama", "url", client.BaseURL(), "chat_model", chatModel)

	textEmb := embeddings.NewTextEmbedder(cfg.Ollama.BaseURL, cfg.Embeddings.TextModel)
	annotator := embeddings.NewImageAnnotator(client, cfg.Embeddings.VisionModel)
	processor := documents.NewProcessor(
		database, textEmb, annotator,
		cfg.Paths.ImageDir,
		cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap,
		logger,
	)

	retriever := retrieval.NewRetriever(database, textEmb, cfg.Query.RetrievalTopK)
	hybrid := rerank.NewHybridReranker(client, chatModel)
	similarity := rerank.NewSimilarityReranker()
	sqlAgent := texttosql.NewAgent(database, client, chatModel)

	orch := orchestrator.New(retrieval.Hybrid{Retriever: retriever}, hybrid, similarity, sqlAgent, client, chatModel, database, logger)

	return &pipeline{
		db:        database,
		processor: processor,
		orch:      orch,
		opts: orchestrator.Options{
			RetrievalTopK:  cfg.Query.RetrievalTopK,
			RerankTopK:     cfg.Query.RerankTopK,
			Temperature:    cfg.Query.Temperature,
			SimilarityOnly: cfg.Query.SimilarityOnly,
			PathTimeout:    cfg.Query.PathTimeout,
		},
	}, nil
}

// runIngest processes every PDF under dir
func runIngest(cfg *config.Config, dir string, logger *slog.Logger) error {
	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.db.Close()

	return p.processor.ProcessDirectory(context.Background(), dir)
}

// runAsk answers a single question on stdout
func runAsk(cfg *config.Config, question string, logger *slog.Logger) error {
	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.db.Close()

	result, err := p.orch.ProcessQuery(context.Background(), question, p.opts)
	if err != nil {
		return err
	}

	fmt.Println(result.FinalAnswer)
	fmt.Printf("\n[%s, confidence %.0f%%, %s]\n",
		result.Verdict.Agreement, result.Verdict.Confidence*100, result.Duration.Round(100*time.Millisecond))
	return nil
}

// runServer starts the HTTP API with graceful shutdown
func runServer(cfg *config.Config, logger *slog.Logger) error {
	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.db.Close()

	srv := server.NewHTTPServer(cfg.Server.HTTPPort, p.orch, p.db, p.opts, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
