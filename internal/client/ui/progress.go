package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// ProgressModel renders a single transfer's progress bar. The model
// follows the bubbletea shape but is driven manually by RunLoop so it
// composes with plain line-based command output.
type ProgressModel struct {
	mu       sync.RWMutex
	bar      progress.Model
	fileName string
	total    int64
	percent  int
	state    string
	start    time.Time
}

// NewProgressModel creates a progress model for one file.
func NewProgressModel(fileName string, total int64) *ProgressModel {
	bar := progress.New(
		progress.WithGradient(ProgressStart, ProgressEnd),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)
	return &ProgressModel{
		bar:      bar,
		fileName: fileName,
		total:    total,
		state:    "waiting",
		start:    time.Now(),
	}
}

// TickMsg is sent periodically to update the progress display.
type TickMsg time.Time

func (m *ProgressModel) Init() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Set records the latest progress and state label.
func (m *ProgressModel) Set(percent int, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if percent > m.percent {
		m.percent = percent
	}
	m.state = state
}

// View renders the progress line.
func (m *ProgressModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	b.WriteString(BoldStyle.Render(m.fileName))
	b.WriteString("  ")
	b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
	fmt.Fprintf(&b, "  %3d%%  %s\n", m.percent, MutedStyle.Render(m.state))
	return b.String()
}

// RunLoop redraws the progress line until done is closed, then prints
// the final state.
func RunLoop(done <-chan struct{}, view func() string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	firstPrint := true
	for {
		select {
		case <-done:
			if !firstPrint {
				clearLine()
			}
			fmt.Print(view())
			return
		case <-ticker.C:
			if !firstPrint {
				clearLine()
			}
			firstPrint = false
			fmt.Print(view())
		}
	}
}

func clearLine() {
	fmt.Print("\033[A\033[2K")
}
