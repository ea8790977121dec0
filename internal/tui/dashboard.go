package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insight-ai/cli/internal/db"
)

// DashboardView shows corpus statistics and recent queries
type DashboardView struct {
	app     *App
	counts  map[db.ChunkKind]int
	logs    []*db.QueryLog
	docs    int
	errText string
}

// NewDashboardView creates a new dashboard view
func NewDashboardView(app *App) *DashboardView {
	return &DashboardView{app: app}
}

type dashboardLoadedMsg struct {
	counts map[db.ChunkKind]int
	logs   []*db.QueryLog
	docs   int
}

// load fetches chunk counts and recent query logs
func (dashb *DashboardView) load() tea.Msg {
	ctx := context.Background()

	counts, err := dashb.app.db.ChunkCounts(ctx)
	if err != nil {
		return errorMsg{err}
	}
	logs, err := dashb.app.db.RecentQueryLogs(ctx, 10)
	if err != nil {
		return errorMsg{err}
	}
	docs, err := dashb.app.db.GetAllDocuments(ctx)
	if err != nil {
		return errorMsg{err}
	}

	return dashboardLoadedMsg{counts: counts, logs: logs, docs: len(docs)}
}

// Update handles reloads
func (dashb *DashboardView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "r" {
			return dashb.load
		}
	case dashboardLoadedMsg:
		dashb.counts = msg.counts
		dashb.logs = msg.logs
		dashb.docs = msg.docs
		dashb.errText = ""
	case errorMsg:
		dashb.errText = msg.Error()
	}
	return nil
}

// View renders the dashboard
func (dashb *DashboardView) View() string {
	var lines []string
	lines = append(lines, titleStyle.Render("Dashboard"), "")

	if dashb.errText != "" {
		lines = append(lines, errorStyle.Render("Error: "+dashb.errText), "")
	}

	lines = append(lines, accentStyle.Render("Corpus"))
	lines = append(lines, fmt.Sprintf("  Documents: %d", dashb.docs))
	for _, kind := range []db.ChunkKind{db.KindText, db.KindImage, db.KindTable} {
		lines = append(lines, fmt.Sprintf("  %-6s chunks: %d", kind, dashb.counts[kind]))
	}

	lines = append(lines, "", accentStyle.Render("Recent Queries"))
	if len(dashb.logs) == 0 {
		lines = append(lines, "  none yet")
	}
	for _, l := range dashb.logs {
		query := l.Query
		if len(query) > 60 {
			query = query[:60] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %-8s %3.0f%%  %s",
			l.Agreement, l.Confidence*100, query))
	}

	lines = append(lines, "", helpStyle.Render("1-4: Switch view | r: Reload | Esc: Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
