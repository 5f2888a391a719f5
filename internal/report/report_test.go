package report_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/report"
)

func generateTime(t *rapid.T, label string) time.Time {
	ms := rapid.Int64Range(1_000_000_000_000, 1_900_000_000_000).Draw(t, label+"_unix_ms")
	return time.UnixMilli(ms).UTC()
}

func generateStrings(t *rapid.T, label string) []string {
	return rapid.SliceOfN(rapid.StringN(1, 40, -1), 1, 4).Draw(t, label)
}

// generateReport produces a Report with at least one entry in every list.
func generateReport(t *rapid.T) *report.Report {
	rep := &report.Report{
		Replay: report.ReplayMeta{
			ID:         rapid.StringMatching(`[a-f0-9]{32}`).Draw(t, "id"),
			ReplayType: rapid.SampledFrom([]string{"session", "buffer"}).Draw(t, "type"),
			StartedAt:  generateTime(t, "start"),
			EndedAt:    generateTime(t, "end"),
			Duration:   rapid.StringN(1, 20, -1).Draw(t, "duration"),
			Segments:   rapid.IntRange(1, 100).Draw(t, "segments"),
			Events:     rapid.Int64Range(0, 1_000_000).Draw(t, "events"),
			Bytes:      rapid.Int64Range(0, 1<<30).Draw(t, "bytes"),
		},
		URLs:     generateStrings(t, "urls"),
		ErrorIDs: generateStrings(t, "errors"),
		TraceIDs: generateStrings(t, "traces"),
	}
	for i, n := 0, rapid.IntRange(1, 5).Draw(t, "num_segments"); i < n; i++ {
		rep.Segments = append(rep.Segments, report.SegmentInfo{
			ID:          i,
			Timestamp:   generateTime(t, "seg_ts"),
			Events:      rapid.IntRange(0, 1000).Draw(t, "seg_events"),
			Bytes:       rapid.IntRange(0, 1<<20).Draw(t, "seg_bytes"),
			Compression: rapid.SampledFrom([]string{"zlib", "gzip", "zstd"}).Draw(t, "seg_codec"),
			ErrorIDs:    generateStrings(t, "seg_errors"),
		})
	}
	for i, n := 0, rapid.IntRange(1, 10).Draw(t, "num_timeline"); i < n; i++ {
		rep.Timeline = append(rep.Timeline, report.TimelineEntry{
			Timestamp: generateTime(t, "tl_ts"),
			Segment:   rapid.IntRange(0, 4).Draw(t, "tl_segment"),
			Kind:      rapid.SampledFrom([]string{"checkout", "mutation", "meta", "custom"}).Draw(t, "tl_kind"),
			Detail:    rapid.StringN(1, 30, -1).Draw(t, "tl_detail"),
		})
	}
	return rep
}

// Feature: replay, Property 12: Report completeness
func TestReportCompleteness(t *testing.T) {
	md := &report.MarkdownRenderer{}
	js := &report.JSONRenderer{}

	rapid.Check(t, func(t *rapid.T) {
		rep := generateReport(t)

		mdBytes, err := md.Render(rep)
		if err != nil {
			t.Fatalf("MarkdownRenderer.Render: %v", err)
		}
		for _, section := range []string{"## Summary", "## Segments", "## Timeline", "## URLs", "## Errors", "## Traces"} {
			if !strings.Contains(string(mdBytes), section) {
				t.Errorf("Markdown output missing section %q", section)
			}
		}

		jsBytes, err := js.Render(rep)
		if err != nil {
			t.Fatalf("JSONRenderer.Render: %v", err)
		}
		for _, key := range []string{`"replay"`, `"segments"`, `"timeline"`, `"urls"`, `"error_ids"`, `"trace_ids"`} {
			if !strings.Contains(string(jsBytes), key) {
				t.Errorf("JSON output missing key %q", key)
			}
		}
	})
}

// Feature: replay, Property 13: Rendered reports parse back unchanged
func TestReportRoundTrip(t *testing.T) {
	pairs := []struct {
		name     string
		renderer report.Renderer
		parser   report.Parser
	}{
		{"json", &report.JSONRenderer{}, &report.JSONParser{}},
		{"markdown", &report.MarkdownRenderer{}, &report.MarkdownParser{}},
	}
	for _, p := range pairs {
		t.Run(p.name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				original := generateReport(t)
				data, err := p.renderer.Render(original)
				if err != nil {
					t.Fatalf("Render: %v", err)
				}
				got, err := p.parser.Parse(data)
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				if !reflect.DeepEqual(got, original) {
					t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, original)
				}
			})
		})
	}
}

func TestMarkdownParserErrors(t *testing.T) {
	p := &report.MarkdownParser{}
	cases := map[string]string{
		"no sentinel":    "# Some document\n",
		"no payload":     "<!-- replay-report-version: 1 -->\n# Replay\n",
		"unterminated":   "<!-- replay-report-version: 1 -->\n<!-- replay-data: abc",
		"corrupt base64": "<!-- replay-report-version: 1 -->\n<!-- replay-data: !!!not-base64!!! -->\n",
	}
	for name, in := range cases {
		if _, err := p.Parse([]byte(in)); err == nil || !strings.Contains(err.Error(), "not a valid replay report") {
			t.Errorf("%s: expected invalid report error, got %v", name, err)
		}
	}
}

func TestRendererFor(t *testing.T) {
	if r, err := report.RendererFor("JSON"); err != nil || reflect.TypeOf(r) != reflect.TypeOf(&report.JSONRenderer{}) {
		t.Fatalf("RendererFor(JSON) = %T, %v", r, err)
	}
	if r, err := report.RendererFor("md"); err != nil || reflect.TypeOf(r) != reflect.TypeOf(&report.MarkdownRenderer{}) {
		t.Fatalf("RendererFor(md) = %T, %v", r, err)
	}
	if _, err := report.RendererFor("pdf"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, ok := report.ParserFor("out/replay.JSON").(*report.JSONParser); !ok {
		t.Fatal("ParserFor should pick JSON by extension")
	}
}

func TestBuild(t *testing.T) {
	base := int64(1_700_000_000_000)
	segs := []archive.Segment{
		{
			ReplayID: "r1", SegmentID: 0, ReplayType: "buffer", StartedAt: base, Timestamp: base + 5_000,
			URLs: []string{"https://a"}, ErrorIDs: []string{"e1"}, EventCount: 4, Size: 100,
			Events: []byte(`[
				{"type":2,"timestamp":1700000000000,"data":{}},
				{"type":5,"timestamp":1700000000001,"data":{"tag":"options","payload":{}}},
				{"type":3,"timestamp":1700000001000,"data":{"source":0,"adds":[{},{}],"texts":[{}]}},
				{"type":3,"timestamp":1700000002000,"data":{"source":2}}
			]`),
		},
		{
			ReplayID: "r1", SegmentID: 1, ReplayType: "buffer", StartedAt: base, Timestamp: base + 65_000,
			URLs: []string{"https://a", "https://b"}, TraceIDs: []string{"t1"}, EventCount: 1, Size: 40,
			Events: []byte(`[{"type":4,"timestamp":1700000060}]`),
		},
	}

	rep, err := report.Build(segs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rep.Replay.ID != "r1" || rep.Replay.Segments != 2 || rep.Replay.Events != 5 || rep.Replay.Bytes != 140 {
		t.Fatalf("unexpected meta %+v", rep.Replay)
	}
	if rep.Replay.Duration != "1m5s" {
		t.Fatalf("expected 1m5s, got %s", rep.Replay.Duration)
	}
	if !reflect.DeepEqual(rep.URLs, []string{"https://a", "https://b"}) {
		t.Fatalf("urls not merged: %v", rep.URLs)
	}
	kinds := make([]string, len(rep.Timeline))
	for i, e := range rep.Timeline {
		kinds[i] = e.Kind
	}
	if !reflect.DeepEqual(kinds, []string{"checkout", "custom", "mutation", "meta"}) {
		t.Fatalf("unexpected timeline %v", kinds)
	}
	if rep.Timeline[1].Detail != "options" || rep.Timeline[2].Detail != "3 changes" {
		t.Fatalf("unexpected details %+v", rep.Timeline)
	}
	if !rep.Timeline[3].Timestamp.Equal(time.UnixMilli(1_700_000_060_000)) {
		t.Fatalf("second timestamps should be normalised, got %v", rep.Timeline[3].Timestamp)
	}

	if _, err := report.Build(nil); !errors.Is(err, report.ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}
