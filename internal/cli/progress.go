package cli

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/intake/internal/models"
)

// maxListedFailures caps the failed items shown in the final summary.
const maxListedFailures = 10

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// scheduledMsg reports newly scheduled items.
type scheduledMsg int

// resultMsg carries one finalized item.
type resultMsg models.Item

// doneMsg is sent when the run has drained.
type doneMsg struct {
	err error
}

// failure is one failed item for the summary.
type failure struct {
	name string
	err  error
}

// progressModel is the bubbletea model for a one-shot processing run.
type progressModel struct {
	progress  progress.Model
	theme     Theme
	started   time.Time
	total     int
	processed int
	failed    int
	failures  []failure
	done      bool
	quitting  bool
	err       error
}

// newProgressModel creates a new progress model.
func newProgressModel() progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		progress: prog,
		theme:    defaultTheme,
		started:  time.Now(),
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case scheduledMsg:
		m.total += int(msg)

	case resultMsg:
		item := models.Item(msg)
		if item.Succeeded() {
			m.processed++
		} else {
			m.failed++
			m.failures = append(m.failures, failure{name: item.Name(), err: item.Err})
		}

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) finished() int {
	return m.processed + m.failed
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.total == 0 {
		return m.theme.statusStyle().Render("Scanning inbound...") + "\n"
	}

	pct := float64(m.finished()) / float64(m.total)
	status := m.theme.statusStyle().Render("[processing]")
	counts := fmt.Sprintf("%d/%d items", m.finished(), m.total)
	if m.failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.failed))
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop after the items in flight")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nStopping after the items in flight. %d of %d items done.\nUnprocessed items stay in the inbound folder.\n",
			m.finished(), m.total)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Stopped: %s\n", m.err))
	}

	return summary(m.theme, m.processed, m.failed, m.failures, time.Since(m.started))
}

// summary renders the end-of-run report shared by the interactive and plain
// outputs.
func summary(theme Theme, processed, failed int, failures []failure, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString(theme.completedStyle().Render("✓ Completed") + "\n\n")
	fmt.Fprintf(&b, "  Processed: %d\n", processed)
	fmt.Fprintf(&b, "  Failed:    %d\n", failed)
	fmt.Fprintf(&b, "  Duration:  %s\n", elapsed.Round(time.Millisecond))

	if len(failures) > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("\nFailed items (%d):\n", len(failures))))
		for i, f := range failures {
			if i == maxListedFailures {
				fmt.Fprintf(&b, "  … and %d more\n", len(failures)-maxListedFailures)
				break
			}
			fmt.Fprintf(&b, "  • %s: %v\n", f.name, f.err)
		}
	}
	return b.String()
}
