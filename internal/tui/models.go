package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insight-ai/cli/internal/llm"
)

// ModelsView handles model selection
type ModelsView struct {
	app          *App
	models       []llm.ModelInfo
	selected     int
	currentModel string
	loading      bool
	errText      string
}

// NewModelsView creates a new models view
func NewModelsView(app *App, currentModel string) *ModelsView {
	return &ModelsView{
		app:          app,
		currentModel: currentModel,
	}
}

// modelsLoadedMsg signals models have been loaded
type modelsLoadedMsg struct {
	models []llm.ModelInfo
}

// modelSelectedMsg signals a model has been selected
type modelSelectedMsg struct {
	model string
}

// loadModels loads available models
func (mv *ModelsView) loadModels() tea.Msg {
	models, err := mv.app.modelSelector.ListModels(context.Background())
	if err != nil {
		return errorMsg{err}
	}
	return modelsLoadedMsg{models: models}
}

// selectModel selects the highlighted model
func (mv *ModelsView) selectModel() tea.Msg {
	if mv.selected < 0 || mv.selected >= len(mv.models) {
		return nil
	}
	return modelSelectedMsg{model: mv.models[mv.selected].Name}
}

// Update handles updates
func (mv *ModelsView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if mv.selected < len(mv.models)-1 {
				mv.selected++
			}
		case "k", "up":
			if mv.selected > 0 {
				mv.selected--
			}
		case "enter", " ":
			if len(mv.models) > 0 && mv.selected >= 0 {
				return mv.selectModel
			}
		case "r":
			mv.loading = true
			return mv.loadModels
		}

	case modelsLoadedMsg:
		mv.models = msg.models
		mv.loading = false
		for i, model := range mv.models {
			if model.Name == mv.currentModel {
				mv.selected = i
				break
			}
		}

	case modelSelectedMsg:
		mv.currentModel = msg.model
		mv.app.chat.model = msg.model
		mv.app.cfg.Ollama.ChatModel = msg.model

	case errorMsg:
		mv.errText = msg.Error()
		mv.loading = false
	}
	return nil
}

// View renders the models view
func (mv *ModelsView) View() string {
	var lines []string
	lines = append(lines, titleStyle.Render("Ollama Models"), "")

	if mv.loading {
		lines = append(lines, "Loading models...")
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	if mv.errText != "" {
		lines = append(lines, errorStyle.Render("Error: "+mv.errText), "")
	}

	lines = append(lines, accentStyle.Bold(true).Render(fmt.Sprintf("Current: %s", mv.currentModel)), "")

	if len(mv.models) == 0 {
		lines = append(lines, "No models found. Make sure Ollama is running.")
	} else {
		for i, model := range mv.models {
			style := lipgloss.NewStyle()
			if i == mv.selected {
				style = style.Bold(true).Foreground(lipgloss.Color("205"))
			}
			if model.Name == mv.currentModel {
				style = style.Foreground(lipgloss.Color("39"))
			}

			sizeMB := float64(model.Size) / (1024 * 1024)
			lines = append(lines, style.Render(fmt.Sprintf("%s %.2f MB", model.Name, sizeMB)))
		}
	}

	lines = append(lines, "", helpStyle.Render("j/k: Navigate | Enter/Space: Select | r: Reload | Esc: Back"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
