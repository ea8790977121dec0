package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SettingsView edits query settings and persists them
type SettingsView struct {
	app      *App
	selected int
	status   string
	errText  string
}

const (
	settingRetrievalTopK = iota
	settingRerankTopK
	settingSimilarityOnly
	settingCount
)

// NewSettingsView creates a new settings view
func NewSettingsView(app *App) *SettingsView {
	return &SettingsView{app: app}
}

// Update handles setting navigation and adjustment
func (sv *SettingsView) Update(msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}

	cfg := sv.app.cfg
	switch keyMsg.String() {
	case "j", "down":
		if sv.selected < settingCount-1 {
			sv.selected++
		}
	case "k", "up":
		if sv.selected > 0 {
			sv.selected--
		}
	case "h", "left":
		switch sv.selected {
		case settingRetrievalTopK:
			if cfg.Query.RetrievalTopK > 1 {
				cfg.Query.RetrievalTopK--
			}
		case settingRerankTopK:
			if cfg.Query.RerankTopK > 1 {
				cfg.Query.RerankTopK--
			}
		case settingSimilarityOnly:
			cfg.Query.SimilarityOnly = !cfg.Query.SimilarityOnly
		}
		sv.status = ""
	case "l", "right", " ":
		switch sv.selected {
		case settingRetrievalTopK:
			if cfg.Query.RetrievalTopK < 50 {
				cfg.Query.RetrievalTopK++
			}
		case settingRerankTopK:
			if cfg.Query.RerankTopK < cfg.Query.RetrievalTopK {
				cfg.Query.RerankTopK++
			}
		case settingSimilarityOnly:
			cfg.Query.SimilarityOnly = !cfg.Query.SimilarityOnly
		}
		sv.status = ""
	case "s":
		if err := cfg.Save(); err != nil {
			sv.errText = err.Error()
		} else {
			sv.status = "Settings saved"
			sv.errText = ""
		}
	}
	return nil
}

// View renders the settings list
func (sv *SettingsView) View() string {
	cfg := sv.app.cfg

	rerankMode := "hybrid (LLM)"
	if cfg.Query.SimilarityOnly {
		rerankMode = "similarity only"
	}

	items := []string{
		fmt.Sprintf("Retrieval top-K:  %d", cfg.Query.RetrievalTopK),
		fmt.Sprintf("Rerank top-K:     %d", cfg.Query.RerankTopK),
		fmt.Sprintf("Reranking mode:   %s", rerankMode),
	}

	var lines []string
	lines = append(lines, titleStyle.Render("Settings"), "")

	if sv.errText != "" {
		lines = append(lines, errorStyle.Render("Error: "+sv.errText), "")
	}
	if sv.status != "" {
		lines = append(lines, accentStyle.Render(sv.status), "")
	}

	for i, item := range items {
		style := lipgloss.NewStyle()
		if i == sv.selected {
			style = style.Bold(true).Foreground(lipgloss.Color("205"))
		}
		lines = append(lines, style.Render(item))
	}

	lines = append(lines, "", helpStyle.Render("j/k: Navigate | h/l: Adjust | s: Save | Esc: Back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
