// Package lifecycle renders a one-shot, read-only view of a single
// task's seven-stage lifecycle. It is wired to the CLI's --tui flag for
// local inspection and never runs on the polling path.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	metaStyle  = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	footStyle  = lipgloss.NewStyle().Faint(true).Padding(1, 1, 0, 1)

	statusStyles = map[state.StageStatus]lipgloss.Style{
		state.StatusDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		state.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		state.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		state.StatusPending: lipgloss.NewStyle().Faint(true),
	}
)

// Model is the bubbletea model for the stage table.
type Model struct {
	project string
	task    *state.TaskRecord
	table   table.Model
}

// New builds the view for one task.
func New(project string, task *state.TaskRecord) *Model {
	columns := []table.Column{
		{Title: "stage", Width: 14},
		{Title: "status", Width: 10},
		{Title: "last note", Width: 44},
	}
	rows := make([]table.Row, 0, len(state.Stages()))
	for _, stage := range state.Stages() {
		status := task.Stages.Get(stage)
		rows = append(rows, table.Row{
			string(stage),
			statusStyles[status].Render(string(status)),
			lastNote(task, stage),
		})
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	tbl.Blur()
	return &Model{project: project, task: task, table: tbl}
}

func lastNote(task *state.TaskRecord, stage state.Stage) string {
	for i := len(task.History) - 1; i >= 0; i-- {
		ev := task.History[i]
		if ev.Stage == stage && ev.Note != "" {
			return ev.Note
		}
	}
	return ""
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd { return nil }

// Update exits on any key.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(tea.KeyMsg); ok {
		return m, tea.Quit
	}
	return m, nil
}

// View renders the header, stage table, and lineage footer.
func (m *Model) View() string {
	var b strings.Builder
	label := m.task.Alias
	if label == "" {
		label = m.task.ShortID
	}
	if label == "" {
		label = m.task.RequestID
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", m.project, label)))
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(fmt.Sprintf(
		"request_id=%s status=%s mode=%s roles=%s",
		m.task.RequestID, m.task.Status, m.task.Mode, orDash(strings.Join(m.task.Roles, ",")))))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	if m.task.SourceRequestID != "" {
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(fmt.Sprintf("%s_of=%s", m.task.ControlMode, m.task.SourceRequestID)))
	}
	b.WriteString(footStyle.Render("press any key to exit"))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Show runs the one-shot program for task.
func Show(project string, task *state.TaskRecord) error {
	_, err := tea.NewProgram(New(project, task)).Run()
	return err
}
