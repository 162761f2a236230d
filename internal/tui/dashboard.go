package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/astrobak/astrobak/internal/sync"
)

// Interactive reports whether stdout is a terminal that can host the
// dashboard. Non-interactive runs fall back to plain log output.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

type tickMsg time.Time

type doneMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// dashboardModel renders live progress for one sync run. It polls the
// tracker once per second; all state mutation happens on the workers' side.
type dashboardModel struct {
	tracker *sync.Tracker
	bar     progress.Model

	snap     *sync.Snapshot
	width    int
	done     bool
	canceled bool
}

func newDashboardModel(tracker *sync.Tracker) dashboardModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50
	return dashboardModel{
		tracker: tracker,
		bar:     bar,
		snap:    tracker.Snapshot(),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tick()
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		}
		if msg.String() == "q" {
			m.canceled = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 10; w > 10 && w < 80 {
			m.bar.Width = w
		}

	case tickMsg:
		m.snap = m.tracker.Snapshot()
		return m, tick()

	case doneMsg:
		m.snap = m.tracker.Snapshot()
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m dashboardModel) View() string {
	var b strings.Builder
	s := m.snap

	b.WriteString(titleStyle.Render("astrobak"))
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(s.Percent()))
	b.WriteString(fmt.Sprintf(" %d/%d files\n\n", s.Processed, s.TotalFiles))

	m.renderCounters(&b, s)
	m.renderSpeeds(&b, s)
	m.renderActive(&b, s)
	m.renderIssues(&b, s)

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Press 'q' or 'Ctrl+C' to stop."))
	b.WriteString("\n")
	return b.String()
}

func (m dashboardModel) renderCounters(b *strings.Builder, s *sync.Snapshot) {
	row := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("uploaded"), valueStyle.Render(fmt.Sprintf("%d", s.Uploaded)),
		labelStyle.Render("skipped"), valueStyle.Render(fmt.Sprintf("%d", s.Skipped)),
		labelStyle.Render("failed"), failedStyle(s.Failed).Render(fmt.Sprintf("%d", s.Failed)),
		labelStyle.Render("sent"), valueStyle.Render(humanize.Bytes(uint64(s.BytesUploaded))),
	)
	if s.VerifyPassed+s.VerifyFailed > 0 {
		row += fmt.Sprintf("   %s %s/%s",
			labelStyle.Render("verified"),
			valueStyle.Render(fmt.Sprintf("%d", s.VerifyPassed)),
			failedStyle(s.VerifyFailed).Render(fmt.Sprintf("%d", s.VerifyFailed)),
		)
	}
	b.WriteString(panelStyle.Render(row))
	b.WriteString("\n")
}

func (m dashboardModel) renderSpeeds(b *strings.Builder, s *sync.Snapshot) {
	row := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("now"), valueStyle.Render(formatMbps(s.SmoothedSpeedMbps)),
		labelStyle.Render("avg"), valueStyle.Render(formatMbps(s.AverageSpeedMbps)),
		labelStyle.Render("peak"), valueStyle.Render(formatMbps(s.PeakSpeedMbps)),
		labelStyle.Render("elapsed"), valueStyle.Render(formatDuration(s.Elapsed)),
		labelStyle.Render("eta"), valueStyle.Render(formatETA(s)),
	)
	b.WriteString(panelStyle.Render(row))
	b.WriteString("\n")
}

func (m dashboardModel) renderActive(b *strings.Builder, s *sync.Snapshot) {
	if s.ActiveFile == "" {
		return
	}
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("uploading"), cyan.Render(s.ActiveFile)))
}

func (m dashboardModel) renderIssues(b *strings.Builder, s *sync.Snapshot) {
	for _, w := range lastN(s.RecentWarnings, 3) {
		b.WriteString(yellow.Render(fmt.Sprintf("WARN  %s", w.Message)))
		b.WriteString("\n")
	}
	for _, e := range lastN(s.RecentErrors, 5) {
		b.WriteString(red.Render(fmt.Sprintf("ERROR %s: %s", e.File, e.Message)))
		b.WriteString("\n")
	}
}

func failedStyle(n int64) interface{ Render(...string) string } {
	if n > 0 {
		return red
	}
	return valueStyle
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func formatMbps(mbps float64) string {
	return fmt.Sprintf("%.1f Mbps", mbps)
}

// formatDuration renders a duration as h/m/s with second precision.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatETA(s *sync.Snapshot) string {
	if s.ETA <= 0 {
		return "--"
	}
	return formatDuration(s.ETA)
}

// Dashboard hosts the live progress view for one run.
type Dashboard struct {
	program *tea.Program
}

// NewDashboard builds the dashboard over the given tracker. Call Run to
// block on the UI loop and Done when the sync finishes.
func NewDashboard(tracker *sync.Tracker) *Dashboard {
	return &Dashboard{
		program: tea.NewProgram(newDashboardModel(tracker)),
	}
}

// ErrCanceled is returned by Run when the user quit the dashboard before
// the sync finished.
var ErrCanceled = fmt.Errorf("canceled by user")

// Run blocks until the sync completes (Done is called) or the user quits.
func (d *Dashboard) Run() error {
	model, err := d.program.Run()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if m, ok := model.(dashboardModel); ok && m.canceled {
		return ErrCanceled
	}
	return nil
}

// Done tells the dashboard the run is finished and shuts it down after one
// final snapshot.
func (d *Dashboard) Done() {
	d.program.Send(doneMsg{})
}
