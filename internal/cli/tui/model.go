// Package tui renders a live view of a run by tailing its orchestrator
// event log through the byte-offset cursor reader.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JamesPaynter/mycelium/internal/events"
)

// Model is the bubbletea model for the watch view.
type Model struct {
	RunID   string
	LogPath string
	Styles  Styles

	cursor    int64
	lines     []logLine
	logLimit  int
	taskState map[string]string
	batchSeen map[int]string
	startTime time.Time
	width     int
	height    int

	finalStatus string
	quitting    bool
}

type logLine struct {
	at   time.Time
	text string
	bad  bool
}

// NewModel creates a model tailing the given orchestrator log.
func NewModel(runID, logPath string) *Model {
	return &Model{
		RunID:     runID,
		LogPath:   logPath,
		Styles:    DefaultStyles(),
		logLimit:  500,
		taskState: make(map[string]string),
		batchSeen: make(map[int]string),
		startTime: time.Now(),
	}
}

// DoneMsg tells the TUI the run finished; it shows the final status and
// keeps tailing until the user quits.
type DoneMsg struct {
	Status string
}

// TickMsg drives the timer display.
type TickMsg time.Time

// pageMsg carries one page of log lines.
type pageMsg events.Page

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.pollCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// pollCmd reads the next page of events from the log.
func (m *Model) pollCmd() tea.Cmd {
	path, cursor := m.LogPath, m.cursor
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		page, err := events.ReadPage(path, cursor, 200)
		if err != nil {
			return pageMsg(events.Page{NextCursor: cursor})
		}
		return pageMsg(page)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case TickMsg:
		return m, tickCmd()
	case DoneMsg:
		m.finalStatus = msg.Status
	case pageMsg:
		m.cursor = msg.NextCursor
		for _, line := range msg.Lines {
			m.ingest(line)
		}
		return m, m.pollCmd()
	}
	return m, nil
}

// ingest folds one event line into the task/batch panels and the log tail.
func (m *Model) ingest(line string) {
	ev, err := events.ParseLine([]byte(line))
	if err != nil {
		return
	}
	if ev.Task != "" {
		switch ev.Type {
		case events.TaskAttempt:
			m.taskState[ev.Task] = "running"
		case events.TaskValidated:
			m.taskState[ev.Task] = "validated"
		case events.TaskCompleted:
			m.taskState[ev.Task] = "complete"
		case events.TaskFailed:
			m.taskState[ev.Task] = "failed"
		case events.TaskNeedsReview:
			m.taskState[ev.Task] = "needs_human_review"
		case events.TaskRescopeRequired:
			m.taskState[ev.Task] = "rescope_required"
		case events.TaskReset:
			m.taskState[ev.Task] = "pending"
		}
	}
	if ev.Batch != nil {
		switch ev.Type {
		case events.BatchStarted:
			m.batchSeen[*ev.Batch] = "running"
		case events.BatchCompleted:
			m.batchSeen[*ev.Batch] = "complete"
		case events.BatchFailed:
			m.batchSeen[*ev.Batch] = "failed"
		}
	}

	m.lines = append(m.lines, logLine{at: ev.Time, text: ev.String(), bad: ev.IsFailure()})
	if len(m.lines) > m.logLimit {
		m.lines = m.lines[len(m.lines)-m.logLimit:]
	}
}
