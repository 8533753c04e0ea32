package live

import (
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"evalstream/internal/session"
)

// Model renders a live console UI using Bubble Tea.
type Model struct {
	state        State
	table        table.Model
	columns      []table.Column
	bar          progress.Model
	keys         keyMap
	snapshots    <-chan session.Snapshot
	onCancel     func()
	cancelSent   bool
	tickInterval time.Duration
	now          time.Time
	noColor      bool
}

// Options configures the live UI model.
type Options struct {
	NoColor      bool
	TickInterval time.Duration
	// OnCancel is invoked once when the user asks to stop a running session.
	OnCancel func()
	// Input overrides the program input; stdin when nil.
	Input io.Reader
}

type keyMap struct {
	Cancel key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Cancel: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "cancel"),
		),
	}
}

// NewModel constructs a live UI model for a snapshot stream.
func NewModel(snapshots <-chan session.Snapshot, opts Options) Model {
	tickInterval := opts.TickInterval
	if tickInterval <= 0 {
		tickInterval = 200 * time.Millisecond
	}
	columns := defaultColumns()
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
		table.WithWidth(80),
		table.WithHeight(12),
	)
	t.SetStyles(tableStyles(opts.NoColor))
	return Model{
		table:        t,
		columns:      columns,
		bar:          newBar(opts.NoColor),
		keys:         defaultKeyMap(),
		snapshots:    snapshots,
		onCancel:     opts.OnCancel,
		tickInterval: tickInterval,
		now:          time.Now(),
		noColor:      opts.NoColor,
	}
}

func newBar(noColor bool) progress.Model {
	if noColor {
		return progress.New(progress.WithoutPercentage(), progress.WithFillCharacters('#', '.'), progress.WithWidth(40))
	}
	return progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40))
}

// Init starts ticking and waits for the first snapshot.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snapshots), tick(m.tickInterval))
}

// Update consumes snapshots, key presses, and timer ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.columns = columnsForWidth(typed.Width)
		m.table.SetColumns(m.columns)
		m.table.SetWidth(typed.Width)
		m.table.SetHeight(max(typed.Height-7, 1))
		m.bar.Width = max(typed.Width-60, 10)
		m.table.SetRows(rowsForState(m.state, m.columns, m.noColor))
		return m, nil
	case tea.KeyMsg:
		if !key.Matches(typed, m.keys.Cancel) {
			return m, nil
		}
		if m.state.Phase.Terminal() || m.cancelSent || m.onCancel == nil {
			return m, tea.Quit
		}
		m.cancelSent = true
		m.onCancel()
		return m, nil
	case SnapshotMsg:
		m.state = Reduce(m.state, typed.Snapshot)
		m.table.SetRows(rowsForState(m.state, m.columns, m.noColor))
		return m, waitForSnapshot(m.snapshots)
	case tickMsg:
		m.now = time.Time(typed)
		return m, tick(m.tickInterval)
	}
	return m, nil
}

// View renders the live UI.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m.state, m.now, m.noColor),
		renderProgress(m.state, m.bar),
		renderMetrics(m.state, m.noColor),
		m.table.View(),
		renderFooter(m.state, m.noColor),
		renderHelp(m.state, m.noColor),
	)
}

// State returns the reduced UI state.
func (m Model) State() State {
	return m.state
}

// SnapshotMsg wraps a session snapshot for Bubble Tea.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// tickMsg carries a clock tick for updates.
type tickMsg time.Time

// waitForSnapshot blocks until a snapshot is available.
func waitForSnapshot(snapshots <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		if snapshots == nil {
			return nil
		}
		snap, ok := <-snapshots
		if !ok {
			return tea.Quit()
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// tick emits a periodic tick message.
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
