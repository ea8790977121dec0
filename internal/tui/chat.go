package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insight-ai/cli/internal/orchestrator"
)

// chatEntry is one completed question/answer exchange
type chatEntry struct {
	query  string
	result *orchestrator.QueryResult
}

// ChatView handles the question/answer loop
type ChatView struct {
	app       *App
	model     string
	input     string
	history   []chatEntry
	busy      bool
	showTrace bool
	errText   string
}

// NewChatView creates a new chat view
func NewChatView(app *App, model string) *ChatView {
	return &ChatView{app: app, model: model}
}

// queryDoneMsg carries a finished orchestration pass
type queryDoneMsg struct {
	query  string
	result *orchestrator.QueryResult
}

// Update handles chat input and results
func (cv *ChatView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cv.busy {
			return nil
		}
		switch msg.String() {
		case "enter":
			query := strings.TrimSpace(cv.input)
			if query == "" {
				return nil
			}
			cv.input = ""
			cv.errText = ""
			cv.busy = true
			return cv.runQuery(query)
		case "backspace":
			if len(cv.input) > 0 {
				cv.input = cv.input[:len(cv.input)-1]
			}
		case "ctrl+t":
			cv.showTrace = !cv.showTrace
		case "ctrl+l":
			cv.history = nil
		default:
			if msg.Type == tea.KeyRunes {
				cv.input += string(msg.Runes)
			} else if msg.Type == tea.KeySpace {
				cv.input += " "
			}
		}

	case queryDoneMsg:
		cv.busy = false
		cv.history = append(cv.history, chatEntry{query: msg.query, result: msg.result})

	case errorMsg:
		cv.busy = false
		cv.errText = msg.Error()
	}
	return nil
}

// runQuery executes one orchestration pass off the update loop
func (cv *ChatView) runQuery(query string) tea.Cmd {
	cfg := cv.app.cfg
	return func() tea.Msg {
		opts := orchestrator.Options{
			RetrievalTopK:  cfg.Query.RetrievalTopK,
			RerankTopK:     cfg.Query.RerankTopK,
			Temperature:    cfg.Query.Temperature,
			SimilarityOnly: cfg.Query.SimilarityOnly,
			PathTimeout:    cfg.Query.PathTimeout,
		}
		result, err := cv.app.orchestrator.ProcessQuery(context.Background(), query, opts)
		if err != nil {
			return errorMsg{err}
		}
		return queryDoneMsg{query: query, result: result}
	}
}

func agreementStyle(level orchestrator.AgreementLevel) lipgloss.Style {
	switch level {
	case orchestrator.AgreementFull:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	case orchestrator.AgreementPartial:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	case orchestrator.AgreementConflict:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	default:
		return helpStyle.Bold(true)
	}
}

// View renders the chat history and input line
func (cv *ChatView) View() string {
	var lines []string
	lines = append(lines, titleStyle.Render("Chat"), "")

	for _, entry := range cv.history {
		lines = append(lines, accentStyle.Render("> "+entry.query))

		r := entry.result
		badge := agreementStyle(r.Verdict.Agreement).Render(string(r.Verdict.Agreement))
		lines = append(lines, fmt.Sprintf("%s  confidence %.0f%%  (%s)",
			badge, r.Verdict.Confidence*100, r.Duration.Round(10*time.Millisecond)))
		lines = append(lines, "")
		lines = append(lines, r.FinalAnswer)

		if r.RAG != nil && len(r.RAG.Chunks) > 0 {
			lines = append(lines, "", helpStyle.Render("Sources:"))
			for i, c := range r.RAG.Chunks {
				lines = append(lines, helpStyle.Render(
					fmt.Sprintf("  %d. [%s] %s (%s) score %.2f", i+1, c.Kind, c.SourceDocument, c.SectionID, c.FinalScore)))
			}
		}

		if cv.showTrace {
			lines = append(lines, "", helpStyle.Render("Trace:"))
			for _, step := range r.Steps {
				status := "✓"
				if step.Status == orchestrator.StatusError {
					status = "✗"
				}
				lines = append(lines, helpStyle.Render(
					fmt.Sprintf("  %s %-20s %s", status, step.Stage, step.Summary)))
			}
		}
		lines = append(lines, "")
	}

	if cv.errText != "" {
		lines = append(lines, errorStyle.Render("Error: "+cv.errText), "")
	}

	if cv.busy {
		lines = append(lines, accentStyle.Render("Thinking..."))
	} else {
		lines = append(lines, "> "+cv.input+"█")
	}

	lines = append(lines, "", helpStyle.Render("Enter: Ask | Ctrl+T: Toggle trace | Ctrl+L: Clear | Esc: Back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
