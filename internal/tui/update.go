package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refresh(time.Time(msg))
		if m.finished {
			// One last refresh so the final numbers are on screen.
			return m, tea.Quit
		}
		return m, m.tick()

	case benchDoneMsg:
		m.finished = true
		m.runErr = msg.err
		m.refresh(time.Now())
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh(now time.Time) {
	m.progress = m.runner.Progress()
	m.stats = m.store.Stats()

	if dt := now.Sub(m.lastAt); dt > 0 {
		m.opsPerSec = float64(m.progress.Done-m.lastDone) / dt.Seconds()
		m.lastDone = m.progress.Done
		m.lastAt = now
	}
}
