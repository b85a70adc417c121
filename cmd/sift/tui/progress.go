package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Scanner is the part of scanner.Scanner the progress view drives.
type Scanner interface {
	ScanWithProgress(ctx context.Context, onProgress func(types.ProgressEvent)) (*types.ScanSummary, error)
	Cancel()
}

// ProgressMsg carries one scan progress event.
type ProgressMsg types.ProgressEvent

// DoneMsg is sent when the scan has returned.
type DoneMsg struct {
	Summary *types.ScanSummary
	Err     error
}

type categoryState struct {
	status types.Status
	files  int
	size   int64
}

// Model shows one line per category and an overall progress bar.
type Model struct {
	categories []types.Category
	states     map[string]categoryState
	bar        progress.Model
	spinner    spinner.Model

	percent float64
	files   int
	size    int64
	start   time.Time
	width   int

	onCancel   func()
	cancelling bool
	done       bool
	summary    *types.ScanSummary
	err        error
}

// NewModel returns a model for the given categories, or all of them when
// none are given. onCancel is called once when the user asks to stop.
func NewModel(categories []types.Category, onCancel func()) Model {
	if len(categories) == 0 {
		categories = types.AllCategories()
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	return Model{
		categories: categories,
		states:     make(map[string]categoryState, len(categories)),
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:    s,
		start:      time.Now(),
		width:      80,
		onCancel:   onCancel,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-20, 10), 60)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling && !m.done {
				m.cancelling = true
				if m.onCancel != nil {
					m.onCancel()
				}
			}
		}
		return m, nil

	case ProgressMsg:
		ev := types.ProgressEvent(msg)
		m.percent = ev.Progress
		m.files = ev.FilesScanned
		m.size = ev.TotalSize
		st := categoryState{status: ev.Status}
		if ev.CategoryFiles != nil {
			st.files = *ev.CategoryFiles
		}
		if ev.CategorySize != nil {
			st.size = *ev.CategorySize
		}
		m.states[ev.Category] = st
		return m, m.bar.SetPercent(ev.Progress / 100)

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render("sift")
	switch {
	case m.done:
		title += "  " + doneStyle.Render("done")
	case m.cancelling:
		title += "  " + warningStyle.Render("stopping...")
	default:
		title += "  " + m.spinner.View() + mutedStyle.Render(" scanning  [q to stop]")
	}
	b.WriteString(title + "\n\n")

	for _, c := range m.categories {
		b.WriteString(m.categoryLine(c) + "\n")
	}

	b.WriteString("\n" + m.bar.View() + fmt.Sprintf(" %3.0f%%\n", m.percent))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s files  %s  %s",
		humanize.Comma(int64(m.files)), types.FormatSize(m.size), time.Since(m.start).Round(time.Second))))

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()))
	} else if m.summary != nil && m.summary.Cancelled {
		b.WriteString("\n" + warningStyle.Render("Cancelled, results are partial"))
	}

	return boxStyle.Render(b.String()) + "\n"
}

func (m Model) categoryLine(c types.Category) string {
	name := fmt.Sprintf("%-10s", c.String())
	st, ok := m.states[c.String()]
	switch {
	case !ok:
		return mutedStyle.Render("  " + name + " waiting")
	case st.status == types.StatusScanning:
		return activeStyle.Render("> "+name) + " scanning"
	default:
		return doneStyle.Render("+ "+name) + fmt.Sprintf(" %s files  %s",
			humanize.Comma(int64(st.files)), types.FormatSize(st.size))
	}
}

// Summary returns the result delivered by DoneMsg.
func (m Model) Summary() (*types.ScanSummary, error) {
	return m.summary, m.err
}

// Options configures Run.
type Options struct {
	Categories []types.Category

	// Input and Output default to the terminal. Output is where the view
	// is drawn; stdout stays free for the report.
	Input  io.Reader
	Output io.Writer
}

// Run scans with s while showing progress, and returns what the scan returned.
func Run(ctx context.Context, s Scanner, opts Options) (*types.ScanSummary, error) {
	model := NewModel(opts.Categories, s.Cancel)

	teaOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Output != nil {
		teaOpts = append(teaOpts, tea.WithOutput(opts.Output))
	}
	if opts.Input != nil {
		teaOpts = append(teaOpts, tea.WithInput(opts.Input))
	}
	p := tea.NewProgram(model, teaOpts...)

	result := make(chan DoneMsg, 1)
	go func() {
		summary, err := s.ScanWithProgress(ctx, func(ev types.ProgressEvent) {
			p.Send(ProgressMsg(ev))
		})
		done := DoneMsg{Summary: summary, Err: err}
		result <- done
		p.Send(done)
	}()

	_, runErr := p.Run()
	if runErr != nil {
		// The program stopped early; make sure the scan does too.
		s.Cancel()
	}
	done := <-result
	if done.Err == nil && runErr != nil && ctx.Err() == nil {
		return done.Summary, fmt.Errorf("progress view: %w", runErr)
	}
	return done.Summary, done.Err
}
