// Package tui is the terminal interface: chat, document management,
// dashboard, model selection, and settings.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insight-ai/cli/config"
	"github.com/insight-ai/cli/internal/db"
	"github.com/insight-ai/cli/internal/documents"
	"github.com/insight-ai/cli/internal/embeddings"
	"github.com/insight-ai/cli/internal/llm"
	"github.com/insight-ai/cli/internal/orchestrator"
	"github.com/insight-ai/cli/internal/rerank"
	"github.com/insight-ai/cli/internal/retrieval"
	"github.com/insight-ai/cli/internal/texttosql"
)

type view int

const (
	viewDashboard view = iota
	viewChat
	viewDocuments
	viewModels
	viewSettings
)

var viewNames = []string{"Dashboard", "Chat", "Documents", "Models", "Settings"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tabStyle    = lipgloss.NewStyle().Padding(0, 1)
	activeTab   = tabStyle.Bold(true).Foreground(lipgloss.Color("205")).Underline(true)
)

// errorMsg carries a failure into the update loop
type errorMsg struct {
	error
}

// App is the root bubbletea model
type App struct {
	db            *db.DB
	processor     *documents.Processor
	orchestrator  *orchestrator.Orchestrator
	modelSelector *llm.ModelSelector
	cfg           *config.Config

	active view
	width  int
	height int

	dashboard *DashboardView
	chat      *ChatView
	documents *DocumentsView
	models    *ModelsView
	settings  *SettingsView
}

// NewApp wires the full pipeline and creates the TUI
func NewApp(cfg *config.Config) (*App, error) {
	database, err := db.New(context.Background(), cfg.Database.ConnectionString, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.Ollama.BaseURL),
		llm.WithModel(cfg.Ollama.ChatModel),
	)
	modelSelector := llm.NewModelSelector(client)

	chatModel, err := modelSelector.GetDefaultModel(context.Background(), cfg.Ollama.ChatModel)
	if err != nil {
		chatModel = llm.DefaultModel
	}

	textEmb := embeddings.NewTextEmbedder(cfg.Ollama.BaseURL, cfg.Embeddings.TextModel)
	annotator := embeddings.NewImageAnnotator(client, cfg.Embeddings.VisionModel)
	processor := documents.NewProcessor(
		database, textEmb, annotator,
		cfg.Paths.ImageDir,
		cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap,
		nil,
	)

	retriever := retrieval.NewRetriever(database, textEmb, cfg.Query.RetrievalTopK)
	hybrid := rerank.NewHybridReranker(client, chatModel)
	similarity := rerank.NewSimilarityReranker()
	sqlAgent := texttosql.NewAgent(database, client, chatModel)

	orch := orchestrator.New(retrieval.Hybrid{Retriever: retriever}, hybrid, similarity, sqlAgent, client, chatModel, database, nil)

	app := &App{
		db:            database,
		processor:     processor,
		orchestrator:  orch,
		modelSelector: modelSelector,
		cfg:           cfg,
		active:        viewDashboard,
		width:         80,
		height:        24,
	}

	app.dashboard = NewDashboardView(app)
	app.chat = NewChatView(app, chatModel)
	app.documents = NewDocumentsView(app)
	app.models = NewModelsView(app, chatModel)
	app.settings = NewSettingsView(app)

	return app, nil
}

// Init loads the dashboard first
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.dashboard.load, a.documents.load)
}

// Update routes messages to the active view after global keys
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.db.Close()
			return a, tea.Quit
		case "esc":
			if a.active == viewDashboard {
				a.db.Close()
				return a, tea.Quit
			}
			a.active = viewDashboard
			return a, a.dashboard.load
		}

		// The chat view owns the keyboard while active so typing works
		if a.active != viewChat {
			switch msg.String() {
			case "0":
				a.active = viewDashboard
				return a, a.dashboard.load
			case "1":
				a.active = viewChat
				return a, nil
			case "2":
				a.active = viewDocuments
				return a, a.documents.load
			case "3":
				a.active = viewModels
				return a, a.models.loadModels
			case "4":
				a.active = viewSettings
				return a, nil
			}
		}
	}

	switch a.active {
	case viewChat:
		return a, a.chat.Update(msg)
	case viewDocuments:
		return a, a.documents.Update(msg)
	case viewModels:
		return a, a.models.Update(msg)
	case viewSettings:
		return a, a.settings.Update(msg)
	default:
		return a, a.dashboard.Update(msg)
	}
}

// View renders the tab bar plus the active view
func (a *App) View() string {
	var tabs []string
	for i, name := range viewNames {
		label := fmt.Sprintf("%d:%s", i, name)
		if view(i) == a.active {
			tabs = append(tabs, activeTab.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	var body string
	switch a.active {
	case viewChat:
		body = a.chat.View()
	case viewDocuments:
		body = a.documents.View()
	case viewModels:
		body = a.models.View()
	case viewSettings:
		body = a.settings.View()
	default:
		body = a.dashboard.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, bar, "", body)
}

// Run starts the TUI
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
