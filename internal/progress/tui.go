package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	statusStyle      = map[string]lipgloss.Style{
		"Running":  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Complete": lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Failures": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"Error":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type runRow struct {
	Tag     string
	Total   int
	Done    int
	Failed  int
	Batch   string
	Status  string
	Start   time.Time
	Elapsed time.Duration
	ErrMsg  string
}

// Model is the bubbletea model behind the TUI reporter.
type Model struct {
	title   string
	spinner spinner.Model
	bar     progressbar.Model
	runs    map[string]*runRow
	order   []string
	current string

	termWidth  int
	termHeight int

	cancel   context.CancelFunc
	Quitting bool
}

// NewModel creates the model. cancel, when set, is called if the user quits.
func NewModel(title string, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		title:   title,
		spinner: s,
		bar:     progressbar.New(progressbar.WithDefaultGradient()),
		runs:    make(map[string]*runRow),
		cancel:  cancel,
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.bar.Width = max(0, m.termWidth-4)
	case RunStartedMsg:
		if _, ok := m.runs[msg.Tag]; !ok {
			m.order = append(m.order, msg.Tag)
		}
		m.runs[msg.Tag] = &runRow{Tag: msg.Tag, Total: msg.Total, Status: "Running", Start: msg.Start}
		m.current = msg.Tag
		cmds = append(cmds, m.bar.SetPercent(0))
	case BatchMsg:
		row := m.row(msg.Tag)
		row.Total = msg.Total
		row.Batch = BatchLabel(msg.Start, msg.Stop, msg.Total)
		if msg.Done {
			row.Done = msg.Stop
			row.Failed += msg.Failed
		}
		m.current = msg.Tag
		cmds = append(cmds, m.bar.SetPercent(row.percent()))
	case RunFinishedMsg:
		row := m.row(msg.Tag)
		row.Elapsed = msg.End.Sub(row.Start)
		switch {
		case msg.Err != nil:
			row.Status = "Error"
			row.ErrMsg = msg.Err.Error()
		case row.Failed > 0:
			row.Status = "Failures"
		default:
			row.Status = "Complete"
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case progressbar.FrameMsg:
		progModel, frameCmd := m.bar.Update(msg)
		if newModel, ok := progModel.(progressbar.Model); ok {
			m.bar = newModel
			cmds = append(cmds, frameCmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) row(tag string) *runRow {
	row, ok := m.runs[tag]
	if !ok {
		row = &runRow{Tag: tag, Status: "Running", Start: time.Now()}
		m.runs[tag] = row
		m.order = append(m.order, tag)
	}
	return row
}

func (r *runRow) percent() float64 {
	if r.Total <= 0 {
		return 0
	}
	return float64(r.Done) / float64(r.Total)
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- " + m.title + " ---"))
	b.WriteString("\n\n")

	if cur, ok := m.runs[m.current]; ok {
		b.WriteString(fmt.Sprintf("%s Running: %s %s\n", m.spinner.View(), cur.Tag, cur.Batch))
		b.WriteString(progressBarStyle.Render(m.bar.ViewAs(cur.percent())))
		b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", cur.Done, cur.Total))
	}

	if len(m.order) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s | %-10s | %-12s | %-7s | %s", "Run", "Status", "Progress", "Failed", "Elapsed")))
		b.WriteString("\n")
		for _, tag := range m.order {
			row := m.runs[tag]
			style, ok := statusStyle[row.Status]
			if !ok {
				style = infoStyle
			}
			elapsed := row.Elapsed
			if row.Status == "Running" {
				elapsed = time.Since(row.Start)
			}
			b.WriteString(fmt.Sprintf("%-20s | %-10s | %-12s | %-7d | %s",
				row.Tag, style.Render(row.Status), fmt.Sprintf("%d/%d", row.Done, row.Total), row.Failed, elapsed.Round(time.Second)))
			if row.ErrMsg != "" {
				b.WriteString("\n")
				b.WriteString(errorStyle.Render("  -> Error: " + truncate(row.ErrMsg, m.termWidth-14)))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.Quitting {
		b.WriteString(infoStyle.Render("Stopping after the current batch..."))
	} else {
		b.WriteString(infoStyle.Render("'q' or Ctrl+C to stop."))
	}
	return b.String()
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

// TUI is a Reporter that renders on the terminal.
type TUI struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// NewTUI creates the reporter. cancel is invoked when the user quits the UI.
func NewTUI(title string, cancel context.CancelFunc, opts ...tea.ProgramOption) *TUI {
	return &TUI{
		program: tea.NewProgram(NewModel(title, cancel), opts...),
		done:    make(chan struct{}),
	}
}

// Start runs the UI in the background.
func (t *TUI) Start() {
	go func() {
		defer close(t.done)
		_, t.err = t.program.Run()
	}()
}

// Stop quits the UI and waits for the terminal to be restored.
func (t *TUI) Stop() error {
	t.program.Quit()
	<-t.done
	return t.err
}

func (t *TUI) RunStarted(tag string, total int) {
	t.program.Send(RunStartedMsg{Tag: tag, Total: total, Start: time.Now()})
}

func (t *TUI) BatchStarted(tag string, start, stop, total int) {
	t.program.Send(BatchMsg{Tag: tag, Start: start, Stop: stop, Total: total})
}

func (t *TUI) BatchFinished(tag string, start, stop, total, failed int) {
	t.program.Send(BatchMsg{Tag: tag, Start: start, Stop: stop, Total: total, Failed: failed, Done: true})
}

func (t *TUI) RunFinished(tag string, err error) {
	t.program.Send(RunFinishedMsg{Tag: tag, Err: err, End: time.Now()})
}
