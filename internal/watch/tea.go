package watch

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mtlynch/sia-load-tester/internal/status"
)

type snapshotMsg struct {
	snap status.Snapshot
	at   time.Time
}

type tickMsg time.Time
type stopMsg struct{}

type model struct {
	view     View
	now      time.Time
	quitting bool
	// cancel stops the feed when the user quits.
	cancel func()
}

func newModel(url string, cancel func()) model {
	return model{view: View{URL: url}, now: time.Now(), cancel: cancel}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}
	case snapshotMsg:
		m.view.Snapshot = msg.snap
		m.view.Received = true
		m.view.Updated = msg.at
		m.now = msg.at
		return m, nil
	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()
	case stopMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	out := renderTTY(m.view, m.now)
	if !m.quitting {
		out += "\n(q to quit)"
	}
	return out + "\n"
}
