package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/michaelscutari/fdmux"
	"github.com/michaelscutari/fdmux/internal/bench"
)

const tickInterval = 100 * time.Millisecond

// Model renders a running bench: workload progress on top, scheduler
// pressure below.
type Model struct {
	store  *fdmux.Store
	runner *bench.Runner
	doneCh <-chan error

	progress bench.Progress
	stats    fdmux.Stats

	startedAt time.Time
	lastDone  int64
	lastAt    time.Time
	opsPerSec float64

	width    int
	height   int
	finished bool
	runErr   error
	quitting bool
}

// NewModel creates a live bench monitor. doneCh delivers the bench result
// when the workload finishes.
func NewModel(store *fdmux.Store, runner *bench.Runner, doneCh <-chan error) *Model {
	now := time.Now()
	return &Model{
		store:     store,
		runner:    runner,
		doneCh:    doneCh,
		startedAt: now,
		lastAt:    now,
	}
}

type tickMsg time.Time

type benchDoneMsg struct {
	err error
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitDone())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) waitDone() tea.Cmd {
	return func() tea.Msg {
		return benchDoneMsg{err: <-m.doneCh}
	}
}
