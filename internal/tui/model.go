// Package tui provides the live run dashboard shown by "goalflow run
// --watch". It subscribes to the event bus and renders wave progress,
// status counts, and a tail of recent task activity.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/goalflow/internal/events"
)

// activityLines is how many recent event lines the dashboard keeps.
const activityLines = 12

// DoneMsg tells the dashboard the run finished; the CLI sends it via
// Program.Send once the runner returns.
type DoneMsg struct {
	Err error
}

// Model is the root Bubble Tea model for the watch dashboard.
type Model struct {
	eventSub <-chan events.Event
	spin     spinner.Model
	progress events.RunProgressEvent
	activity []string
	width    int
	height   int
	done     bool
	runErr   error
	quitting bool
}

// New creates a dashboard model subscribed to all events on the bus.
func New(bus *events.Bus) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StyleStatusRunning

	return Model{
		eventSub: bus.SubscribeAll(256),
		spin:     s,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.eventSub))
}

// waitForEvent returns a command that waits for the next event from the
// event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return DoneMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		if m.done {
			// Any key dismisses the finished dashboard.
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case DoneMsg:
		m.done = true
		m.runErr = msg.Err

	case events.RunProgressEvent:
		m.progress = msg
		return m, waitForEvent(m.eventSub)

	case events.Event:
		m.record(msg)
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

// record appends a formatted activity line for the event.
func (m *Model) record(ev events.Event) {
	var line string
	switch e := ev.(type) {
	case events.WaveStartedEvent:
		line = StyleTitle.Render(fmt.Sprintf("wave %d: %d task(s)", e.Wave+1, e.Size))
	case events.TaskQueuedEvent:
		line = StyleStatusPending.Render(fmt.Sprintf("  queued    %s", shortID(e.ID)))
	case events.TaskStartedEvent:
		line = StyleStatusRunning.Render(fmt.Sprintf("  started   %s", shortID(e.ID))) +
			StyleHelp.Render(fmt.Sprintf("  role=%s worker=%s attempt=%d", e.Role, e.WorkerID, e.Attempt))
	case events.TaskRetryEvent:
		line = StyleStatusRunning.Render(fmt.Sprintf("  retry     %s", shortID(e.ID))) +
			StyleHelp.Render(fmt.Sprintf("  attempt=%d", e.Attempt))
	case events.TaskCompletedEvent:
		line = StyleStatusComplete.Render(fmt.Sprintf("  completed %s", shortID(e.ID))) +
			StyleHelp.Render(fmt.Sprintf("  in %s", e.Duration.Round(time.Millisecond)))
	case events.TaskFailedEvent:
		line = StyleStatusFailed.Render(fmt.Sprintf("  failed    %s", shortID(e.ID))) +
			StyleHelp.Render(fmt.Sprintf("  %v", e.Err))
	case events.TaskBlockedEvent:
		line = StyleStatusBlocked.Render(fmt.Sprintf("  blocked   %s", shortID(e.ID))) +
			StyleHelp.Render(fmt.Sprintf("  upstream=%s", shortID(e.Upstream)))
	case events.TaskCancelledEvent:
		line = StyleStatusPending.Render(fmt.Sprintf("  cancelled %s", shortID(e.ID)))
	default:
		return
	}

	m.activity = append(m.activity, line)
	if len(m.activity) > activityLines {
		m.activity = m.activity[len(m.activity)-activityLines:]
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder

	title := StyleTitle.Render("goalflow")
	if m.done {
		if m.runErr != nil {
			title += "  " + StyleStatusFailed.Render("run finished with errors")
		} else {
			title += "  " + StyleStatusComplete.Render("run finished")
		}
	} else {
		title += "  " + m.spin.View() + StyleHelp.Render(fmt.Sprintf(" wave %d/%d", m.progress.Wave+1, m.progress.Waves))
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	p := m.progress
	b.WriteString(fmt.Sprintf("Total:     %d\n", p.Total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", p.Completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", p.Running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", p.Failed))))
	b.WriteString(fmt.Sprintf("Blocked:   %s\n", StyleStatusBlocked.Render(fmt.Sprintf("%d", p.Blocked))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", p.Pending+p.Cancelled))))
	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := min(m.width-6, 40)
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := ((p.Failed + p.Blocked + p.Cancelled) * barWidth) / p.Total
		runningWidth := (p.Running * barWidth) / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, p.Completed, p.Total))
		b.WriteString("\n")
	}

	for _, line := range m.activity {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(StyleHelp.Render("press any key to exit"))
	} else {
		b.WriteString(StyleHelp.Render("q: quit"))
	}

	return StyleBorder.
		Width(max(20, m.width-2)).
		Render(b.String())
}

// shortID trims a uuid down to its first group for display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
