package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fakeyudi/replay/internal/report"
)

func sampleReport() *report.Report {
	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	return &report.Report{
		Replay: report.ReplayMeta{ID: "abc123", ReplayType: "session", StartedAt: t0, EndedAt: t0.Add(time.Minute), Duration: "1m0s", Segments: 2, Events: 5},
		Segments: []report.SegmentInfo{
			{ID: 0, Timestamp: t0, Events: 3, Bytes: 120, Compression: "zlib"},
			{ID: 1, Timestamp: t0.Add(time.Minute), Events: 2, Bytes: 80, ErrorIDs: []string{"err-1"}},
		},
		Timeline: []report.TimelineEntry{
			{Timestamp: t0, Segment: 0, Kind: "checkout"},
			{Timestamp: t0.Add(time.Second), Segment: 0, Kind: "custom", Detail: "options"},
			{Timestamp: t0.Add(time.Minute), Segment: 1, Kind: "mutation", Detail: "4 changes"},
		},
		URLs:     []string{"https://example.com"},
		ErrorIDs: []string{"err-1"},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(t *testing.T) Model {
	t.Helper()
	m, _ := New(sampleReport(), "/tmp/abc123.md").Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m.(Model)
}

func TestViewBeforeResize(t *testing.T) {
	if v := New(sampleReport(), "x").View(); v != "Loading…" {
		t.Fatalf("unexpected view %q", v)
	}
}

func TestTabNavigation(t *testing.T) {
	m := sized(t)
	if !strings.Contains(m.View(), "abc123.md") || !strings.Contains(m.View(), "Replay Summary") {
		t.Fatal("summary tab should render first")
	}

	next, _ := m.Update(key("3"))
	m = next.(Model)
	if m.activeTab != tabTimeline || !strings.Contains(m.View(), "MUTATION") {
		t.Fatalf("expected timeline tab, got %d", m.activeTab)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(Model)
	if m.activeTab != tabSegments {
		t.Fatalf("shift+tab should go back to segments, got %d", m.activeTab)
	}
	next, _ = m.Update(key("h"))
	next, _ = next.Update(key("h"))
	if next.(Model).activeTab != tabLinks {
		t.Fatal("tabs should wrap around")
	}
}

func TestSegmentExpand(t *testing.T) {
	m := sized(t)
	next, _ := m.Update(key("2"))
	next, _ = next.Update(key("j"))
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	if m.segCursor != 1 || !m.expandedSeg[1] {
		t.Fatalf("expected segment 1 expanded, cursor=%d", m.segCursor)
	}
	if out := m.renderSegments(); !strings.Contains(out, "4 changes") || !strings.Contains(out, "1 errors") {
		t.Fatalf("expanded segment detail missing:\n%s", out)
	}
}

func TestTimelineSort(t *testing.T) {
	m := sized(t)
	m.activeTab = tabTimeline
	asc := m.renderTimeline()
	next, _ := m.Update(key("s"))
	sorted := next.(Model)
	desc := sorted.renderTimeline()

	if strings.Index(asc, "CHECKOUT") > strings.Index(asc, "MUTATION") {
		t.Fatal("ascending timeline should start with the checkout")
	}
	if strings.Index(desc, "CHECKOUT") < strings.Index(desc, "MUTATION") {
		t.Fatal("descending timeline should start with the mutation")
	}
}

func TestQuit(t *testing.T) {
	_, cmd := sized(t).Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}
