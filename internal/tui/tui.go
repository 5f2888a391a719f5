// Package tui provides a Bubble Tea viewer for replay reports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/replay/internal/report"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	kindCheckoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindMutationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindOtherStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabSegments
	tabTimeline
	tabLinks
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Segments", "Timeline", "Links"}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	report    *report.Report
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Segments tab: cursor position and expanded set
	segCursor   int
	expandedSeg map[int]bool
}

// New creates a viewer model for rep loaded from filename.
func New(rep *report.Report, filename string) Model {
	return Model{
		report:      rep,
		filename:    filepath.Base(filename),
		sortAsc:     true,
		expandedSeg: make(map[int]bool),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.refresh(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabSegments && m.segCursor > 0 {
				m.segCursor--
				m.refresh(tabSegments)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabSegments && m.segCursor < len(m.report.Segments)-1 {
				m.segCursor++
				m.refresh(tabSegments)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabSegments && len(m.report.Segments) > 0 {
				if m.expandedSeg[m.segCursor] {
					delete(m.expandedSeg, m.segCursor)
				} else {
					m.expandedSeg[m.segCursor] = true
				}
				m.refresh(tabSegments)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  replay  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  q quit"
	switch m.activeTab {
	case tabTimeline:
		dir := "oldest first"
		if !m.sortAsc {
			dir = "newest first"
		}
		hint += "  s sort (" + dir + ")"
	case tabSegments:
		hint += "  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := max(m.width-lipgloss.Width(hint)-len(pct)-2, 1)
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title, tab row and status bar
	vpHeight := max(m.height-3, 1)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refresh(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabSegments:
		return m.renderSegments()
	case tabTimeline:
		return m.renderTimeline()
	case tabLinks:
		return m.renderLinks()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func (m *Model) renderSummary() string {
	r := m.report.Replay
	var sb strings.Builder
	sb.WriteString(heading("Replay Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Replay ID:", r.ID)
	row("Type:", r.ReplayType)
	row("Started:", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	row("Last segment:", r.EndedAt.Format("2006-01-02 15:04:05 MST"))
	row("Duration:", r.Duration)

	sb.WriteString(heading("Counts"))
	row("Segments:", fmt.Sprintf("%d", r.Segments))
	row("Events:", fmt.Sprintf("%d", r.Events))
	row("Uploaded:", fmt.Sprintf("%d bytes", r.Bytes))
	row("URLs:", fmt.Sprintf("%d", len(m.report.URLs)))
	row("Errors:", fmt.Sprintf("%d", len(m.report.ErrorIDs)))
	return sb.String()
}

func (m *Model) renderSegments() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Segments (%d)", len(m.report.Segments))))
	if len(m.report.Segments) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, s := range m.report.Segments {
		toggle := dimStyle.Render("  ▶ ")
		if m.expandedSeg[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		comp := s.Compression
		if comp == "" {
			comp = "none"
		}
		ts := timeStyle.Render(s.Timestamp.Format("15:04:05"))
		row := fmt.Sprintf("%s#%-4d %s  %5d events  %8d bytes  %s", toggle, s.ID, ts, s.Events, s.Bytes, comp)
		if len(s.ErrorIDs) > 0 {
			row += "  " + errorStyle.Render(fmt.Sprintf("%d errors", len(s.ErrorIDs)))
		}
		if i == m.segCursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")

		if m.expandedSeg[i] {
			sb.WriteString(m.renderSegmentDetail(s.ID))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderSegmentDetail lists the timeline entries of one segment.
func (m *Model) renderSegmentDetail(id int) string {
	var sb strings.Builder
	n := 0
	for _, e := range m.report.Timeline {
		if e.Segment != id {
			continue
		}
		n++
		sb.WriteString("      " + timeStyle.Render(e.Timestamp.Format("15:04:05.000")) + "  " + e.Kind)
		if e.Detail != "" {
			sb.WriteString(dimStyle.Render("  " + e.Detail))
		}
		sb.WriteString("\n")
	}
	if n == 0 {
		sb.WriteString(dimStyle.Render("      (no timeline events)") + "\n")
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder
	dir := "oldest first"
	if !m.sortAsc {
		dir = "newest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]report.TimelineEntry, len(m.report.Timeline))
	copy(events, m.report.Timeline)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	}

	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no timeline events in this replay)") + "\n")
		return sb.String()
	}
	for _, ev := range events {
		ts := timeStyle.Render(ev.Timestamp.Format("15:04:05.000"))
		style := kindOtherStyle
		switch ev.Kind {
		case "checkout":
			style = kindCheckoutStyle
		case "mutation":
			style = kindMutationStyle
		}
		badge := style.Render(fmt.Sprintf("  %-10s", strings.ToUpper(ev.Kind)))
		line := ts + badge + dimStyle.Render(fmt.Sprintf("  #%d", ev.Segment))
		if ev.Detail != "" {
			line += "  " + ev.Detail
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (m *Model) renderLinks() string {
	var sb strings.Builder
	section := func(title string, items []string) {
		sb.WriteString(heading(fmt.Sprintf("%s (%d)", title, len(items))))
		if len(items) == 0 {
			sb.WriteString(dimStyle.Render("  (none)") + "\n")
			return
		}
		for _, it := range items {
			sb.WriteString(bullet(it))
		}
	}
	section("URLs", m.report.URLs)
	section("Error IDs", m.report.ErrorIDs)
	section("Trace IDs", m.report.TraceIDs)
	return sb.String()
}

// Run starts the viewer for rep.
func Run(rep *report.Report, filename string) error {
	p := tea.NewProgram(New(rep, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
