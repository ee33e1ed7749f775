package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dsj7419/qa-doc-convert/internal/api"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
	"github.com/dsj7419/qa-doc-convert/internal/training"
)

const (
	maxEventLog = 50
	runsShown   = 8
	// statusPollTicks is how many one-second ticks pass between /status polls.
	statusPollTicks = 5
)

// Model is the BubbleTea model for the training monitor.
type Model struct {
	ctx    context.Context
	client *api.Client
	epochs float64

	width  int
	height int

	status    api.StatusResponse
	connected bool
	eventLog  []events.Event
	lastID    int64
	runs      table.Model
	bar       progress.Model

	ticks    int
	ticker   Ticker
	activity Activity
	theme    Theme

	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a monitor for the server behind client. epochs scales the
// progress bar; zero hides the percentage.
func New(ctx context.Context, client *api.Client, epochs float64) Model {
	runs := table.New(
		table.WithColumns([]table.Column{
			{Title: "Run", Width: 10},
			{Title: "Trigger", Width: 9},
			{Title: "Status", Width: 14},
			{Title: "Step", Width: 6},
			{Title: "Started", Width: 19},
		}),
		table.WithHeight(runsShown),
	)
	return Model{
		ctx:       ctx,
		client:    client,
		epochs:    epochs,
		runs:      runs,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.ctx, m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchStatus(m.ctx, m.client),
		fetchRuns(m.ctx, m.client, runsShown),
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if !m.status.IsTraining {
				m.notice = "nothing to stop"
				return m, nil
			}
			m.notice = "stop requested, waiting for the trainer..."
			return m, requestStop(m.ctx, m.client)
		case "r":
			return m, tea.Batch(fetchStatus(m.ctx, m.client), fetchRuns(m.ctx, m.client, runsShown))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := msg.Width - 12; w > 10 {
			m.bar.Width = min(w, 60)
		}

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		m.ticks++
		if m.ticks%statusPollTicks == 0 {
			return m, tea.Batch(tick(), fetchStatus(m.ctx, m.client))
		}
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.activity.OnEvent(time.Now())
		m.connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		cmds = append(cmds, m.applyEvent(e)...)
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.status = api.StatusResponse(msg)
		m.connected = true
		m.lastError = ""

	case runsMsg:
		m.runs.SetRows(runRows([]history.Run(msg)))

	case noticeMsg:
		m.notice = string(msg)
		return m, fetchStatus(m.ctx, m.client)

	case streamEndedMsg:
		if msg.lastID > m.lastID {
			m.lastID = msg.lastID
		}
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.ctx, m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

// applyEvent folds an event into the displayed status.
func (m *Model) applyEvent(e events.Event) []tea.Cmd {
	switch e.Type {
	case events.TypeProgress:
		var p training.Progress
		if err := e.Decode(&p); err != nil {
			return nil
		}
		m.status.Progress = p
		if p.RunID != "" {
			m.status.RunID = p.RunID
		}
		m.status.IsTraining = !p.Phase.Terminal() && p.Phase != training.PhaseIdle
	case events.TypeStarted:
		m.status.IsTraining = true
		m.notice = ""
		return []tea.Cmd{fetchRuns(m.ctx, m.client, runsShown)}
	case events.TypeFinished:
		m.status.IsTraining = false
		return []tea.Cmd{fetchStatus(m.ctx, m.client), fetchRuns(m.ctx, m.client, runsShown)}
	}
	return nil
}

func (m Model) percent() float64 {
	p := m.status.Progress
	if p.Phase == training.PhaseCompleted {
		return 1
	}
	if m.epochs <= 0 {
		return 0
	}
	return min(max(p.Epoch/m.epochs, 0), 1)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.client.BaseURL() + "..."
	}
	innerWidth := m.width - 4

	header := renderHeader(m, innerWidth)
	progressBox := renderProgress(m, innerWidth)
	runs := m.theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("RECENT RUNS"),
		m.runs.View(),
	))
	eventStream := renderEventStream(m.eventLog, m.theme, innerWidth)

	parts := []string{header, progressBox, runs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [s] Stop training • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func runRows(runs []history.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		step := "-"
		if r.LastStep != nil {
			step = fmt.Sprintf("%d", *r.LastStep)
		}
		rows = append(rows, table.Row{
			id,
			r.Trigger,
			string(r.Status),
			step,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}
