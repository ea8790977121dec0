package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insight-ai/cli/internal/db"
)

// DocumentsView lists processed documents and triggers ingestion
type DocumentsView struct {
	app      *App
	docs     []*db.Document
	selected int
	busy     bool
	status   string
	errText  string
}

// NewDocumentsView creates a new documents view
func NewDocumentsView(app *App) *DocumentsView {
	return &DocumentsView{app: app}
}

type docsLoadedMsg struct {
	docs []*db.Document
}

type ingestDoneMsg struct{}

// load fetches the document list
func (dv *DocumentsView) load() tea.Msg {
	docs, err := dv.app.db.GetAllDocuments(context.Background())
	if err != nil {
		return errorMsg{err}
	}
	return docsLoadedMsg{docs: docs}
}

// ingest processes every PDF in the configured documents directory
func (dv *DocumentsView) ingest() tea.Msg {
	err := dv.app.processor.ProcessDirectory(context.Background(), dv.app.cfg.Paths.DocumentsDir)
	if err != nil {
		return errorMsg{err}
	}
	return ingestDoneMsg{}
}

// deleteSelected removes the selected document and its chunks
func (dv *DocumentsView) deleteSelected() tea.Msg {
	if dv.selected < 0 || dv.selected >= len(dv.docs) {
		return nil
	}
	if err := dv.app.db.DeleteDocument(context.Background(), dv.docs[dv.selected].ID); err != nil {
		return errorMsg{err}
	}
	return dv.load()
}

// Update handles list navigation and actions
func (dv *DocumentsView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if dv.selected < len(dv.docs)-1 {
				dv.selected++
			}
		case "k", "up":
			if dv.selected > 0 {
				dv.selected--
			}
		case "i":
			if !dv.busy {
				dv.busy = true
				dv.status = "Ingesting " + dv.app.cfg.Paths.DocumentsDir + "..."
				dv.errText = ""
				return dv.ingest
			}
		case "d":
			if !dv.busy && len(dv.docs) > 0 {
				return dv.deleteSelected
			}
		case "r":
			return dv.load
		}

	case docsLoadedMsg:
		dv.docs = msg.docs
		if dv.selected >= len(dv.docs) {
			dv.selected = len(dv.docs) - 1
		}
		if dv.selected < 0 {
			dv.selected = 0
		}

	case ingestDoneMsg:
		dv.busy = false
		dv.status = "Ingestion complete"
		return dv.load

	case errorMsg:
		dv.busy = false
		dv.errText = msg.Error()
	}
	return nil
}

// View renders the document list
func (dv *DocumentsView) View() string {
	var lines []string
	lines = append(lines, titleStyle.Render("Documents"), "")

	if dv.errText != "" {
		lines = append(lines, errorStyle.Render("Error: "+dv.errText), "")
	}
	if dv.status != "" {
		lines = append(lines, accentStyle.Render(dv.status), "")
	}

	if len(dv.docs) == 0 {
		lines = append(lines, "No documents processed yet. Press i to ingest.")
	}
	for i, doc := range dv.docs {
		style := lipgloss.NewStyle()
		if i == dv.selected {
			style = style.Bold(true).Foreground(lipgloss.Color("205"))
		}
		state := "pending"
		if doc.ProcessedAt != nil {
			state = doc.ProcessedAt.Format("2006-01-02 15:04")
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s  (%s)", doc.Title, state)))
	}

	lines = append(lines, "", helpStyle.Render("j/k: Navigate | i: Ingest | d: Delete | r: Reload | Esc: Back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
