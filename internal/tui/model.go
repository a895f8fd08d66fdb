package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"copilot/internal/domain"
)

// Port is the TUI-facing subset of the retrieval engine.
type Port interface {
	Answer(ctx context.Context, text string) (string, []domain.SearchResult)
	Stats(ctx context.Context) domain.Stats
	Refresh(ctx context.Context) (domain.BuildReport, error)
}

// RefreshedMsg reports a finished corpus refresh, whether started from the
// TUI or by the corpus watcher.
type RefreshedMsg struct {
	Report domain.BuildReport
	Stats  domain.Stats
	Err    error
}

type answerMsg struct {
	query    string
	response string
	results  []domain.SearchResult
}

// Model is the Bubble Tea model for the copilot TUI.
type Model struct {
	ctx       context.Context
	engine    Port
	input     textinput.Model
	viewport  viewport.Model
	stats     domain.Stats
	results   []domain.SearchResult
	answer    string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model instance.
func New(ctx context.Context, engine Port, stats domain.Stats) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the course material and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		engine:   engine,
		input:    ti,
		viewport: vp,
		stats:    stats,
		status:   "Ready. Ctrl+R rescans the corpus.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case answerMsg:
		m.busy = false
		m.lastQuery = msg.query
		m.answer = msg.response
		m.results = msg.results
		m.cursor = 0
		if len(msg.results) == 0 {
			m.status = fmt.Sprintf("Nothing relevant for %q", msg.query)
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case RefreshedMsg:
		if msg.Err != nil {
			m.status = "Refresh failed: " + msg.Err.Error()
			return m, nil
		}
		m.stats = msg.Stats
		m.status = fmt.Sprintf("Corpus rescanned: %d new chunks", msg.Report.ChunksAdded)
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Searching..."
				return m, m.ask(q)
			}
		case "ctrl+r":
			m.status = "Rescanning corpus..."
			return m, m.refresh()
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		response, results := engine.Answer(ctx, q)
		return answerMsg{query: q, response: response, results: results}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		rep, err := engine.Refresh(ctx)
		return RefreshedMsg{Report: rep, Stats: engine.Stats(ctx), Err: err}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Course Copilot")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
		Render(fmt.Sprintf("%d chunks from %d files", m.stats.TotalChunks, m.stats.TotalFiles))
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		if m.answer != "" {
			return m.answer
		}
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  %s  score=%.3f", m.cursor+1, len(m.results), r.Source, r.Score)
	body := highlightBestSentence(r.Content, m.lastQuery)
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sentenceRe     = regexp.MustCompile(`[^。！？.!?\n]+[。！？.!?]?`)
)

func highlightBestSentence(text, query string) string {
	sentences, best := bestSentence(text, query)
	if best < 0 {
		return strings.Join(sentences, " ")
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

// bestSentence splits text into trimmed sentences and returns the index of
// the one sharing the most character bigrams with query, or -1 when nothing overlaps.
func bestSentence(text, query string) ([]string, int) {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{strings.TrimSpace(text)}, -1
	}
	qGrams := bigrams(query)
	best, bestScore := -1, 0
	for i, s := range sentences {
		score := 0
		for g := range bigrams(s) {
			if _, ok := qGrams[g]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return sentences, best
}

// bigrams returns the set of adjacent rune pairs in s, ignoring spaces and
// punctuation. A single remaining rune is returned on its own.
func bigrams(s string) map[string]struct{} {
	var runes []rune
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, r)
		}
	}
	set := make(map[string]struct{}, len(runes))
	if len(runes) == 1 {
		set[string(runes)] = struct{}{}
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}
