package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stageStyle = lipgloss.NewStyle().
			Width(12)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type stageStatus int

const (
	statusPending stageStatus = iota
	statusRunning
	statusDone
	statusFailed
	statusSkipped
)

type stageRow struct {
	state    pipeline.State
	tool     string
	status   stageStatus
	duration time.Duration
}

type progressModel struct {
	err        error
	report     *pipeline.Report
	run        func() tea.Msg
	cancel     context.CancelFunc
	title      string
	rows       []stageRow
	spinner    spinner.Model
	started    time.Time
	cancelling bool
	finished   bool
}

type eventMsg pipeline.Event

type finishedMsg struct {
	err    error
	report *pipeline.Report
}

func newProgressModel(cfg *config.Build) *progressModel {
	tools := cfg.Tools()
	rows := []stageRow{
		{state: pipeline.StateCompiling, tool: tools.Compiler.Program},
		{state: pipeline.StateBinding, tool: tools.Binder.Program},
		{state: pipeline.StateOptimizing, tool: tools.Optimizer.Program},
	}
	if !cfg.Optimize().Enabled {
		rows[2].status = statusSkipped
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = toolStyle

	return &progressModel{
		title:   fmt.Sprintf("%s (%s, %s)", cfg.Name(), cfg.Target(), cfg.Profile()),
		rows:    rows,
		spinner: s,
	}
}

func (m *progressModel) Init() tea.Cmd {
	m.started = time.Now()
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The pipeline kills the running tool and reports back.
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
		}

	case eventMsg:
		m.apply(pipeline.Event(msg))

	case finishedMsg:
		m.report = msg.report
		m.err = msg.err
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) apply(e pipeline.Event) {
	if r := e.Result; r != nil {
		if row := m.row(r.Stage); row != nil {
			row.duration = r.Duration
			row.status = statusDone
			if !r.OK() {
				row.status = statusFailed
			}
		}
	}
	switch e.To {
	case pipeline.StateFailed:
		if row := m.row(e.From); row != nil {
			row.status = statusFailed
		}
	case pipeline.StateDone:
	default:
		if row := m.row(e.To); row != nil {
			row.status = statusRunning
		}
	}
}

func (m *progressModel) row(s pipeline.State) *stageRow {
	for i := range m.rows {
		if m.rows[i].state == s {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *progressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasm-release"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	for _, r := range m.rows {
		var mark, suffix string
		switch r.status {
		case statusPending:
			mark = helpStyle.Render("·")
		case statusRunning:
			mark = m.spinner.View()
		case statusDone:
			mark = doneStyle.Render("✓")
			suffix = helpStyle.Render(r.duration.Round(time.Millisecond).String())
		case statusFailed:
			mark = errorStyle.Render("✗")
		case statusSkipped:
			mark = helpStyle.Render("-")
			suffix = helpStyle.Render("skipped")
		}
		fmt.Fprintf(&b, " %s %s %s %s\n", mark, stageStyle.Render(r.state.String()), toolStyle.Render(r.tool), suffix)
	}
	b.WriteString("\n")

	switch {
	case m.finished && m.err != nil:
		b.WriteString(errorStyle.Render("failed"))
		b.WriteString("\n")
	case m.finished:
		b.WriteString(doneStyle.Render(fmt.Sprintf("done in %s", time.Since(m.started).Round(time.Millisecond))))
		b.WriteString("\n")
	case m.cancelling:
		b.WriteString(helpStyle.Render("cancelling..."))
		b.WriteString("\n")
	default:
		b.WriteString(helpStyle.Render("ctrl+c cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// runWithProgress runs the pipeline under a live stage view written to w.
func runWithProgress(ctx context.Context, cfg *config.Build, stages pipeline.Stages, opts []pipeline.Option, w io.Writer) (*pipeline.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newProgressModel(cfg)
	model.cancel = cancel
	prog := tea.NewProgram(model, tea.WithOutput(w))

	opts = append(opts, pipeline.WithObserver(func(e pipeline.Event) {
		prog.Send(eventMsg(e))
	}))
	p, err := pipeline.New(cfg, stages, opts...)
	if err != nil {
		return nil, err
	}
	model.run = func() tea.Msg {
		report, err := p.Run(ctx)
		return finishedMsg{report: report, err: err}
	}

	if _, err := prog.Run(); err != nil && !model.finished {
		cancel()
		return nil, fmt.Errorf("progress view: %w", err)
	}
	return model.report, model.err
}
