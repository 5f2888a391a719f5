package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// RendererFor returns the renderer for format ("json" or "markdown"/"md").
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md", "":
		return &MarkdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// JSONRenderer renders a Report as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(rep *Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

const (
	versionSentinel = "<!-- replay-report-version: 1 -->"
	dataPrefix      = "<!-- replay-data: "
	dataSuffix      = " -->"
	timeLayout      = "2006-01-02 15:04:05.000"
)

// MarkdownRenderer renders a Report as Markdown with the JSON form embedded
// in a comment so MarkdownParser can restore it.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(rep *Report) ([]byte, error) {
	jsonBytes, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(jsonBytes), dataSuffix)

	fmt.Fprintf(&sb, "# Replay %s (%s)\n\n", rep.Replay.ID, rep.Replay.StartedAt.Format(timeLayout))

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Type: %s\n", rep.Replay.ReplayType)
	fmt.Fprintf(&sb, "- Duration: %s\n", rep.Replay.Duration)
	fmt.Fprintf(&sb, "- Segments: %d\n", rep.Replay.Segments)
	fmt.Fprintf(&sb, "- Events: %d\n", rep.Replay.Events)
	fmt.Fprintf(&sb, "- Uploaded: %d bytes\n\n", rep.Replay.Bytes)

	sb.WriteString("## Segments\n\n")
	if len(rep.Segments) == 0 {
		sb.WriteString("_No segments._\n")
	} else {
		sb.WriteString("| Segment | Time | Events | Bytes | Compression |\n")
		sb.WriteString("|---------|------|--------|-------|-------------|\n")
		for _, s := range rep.Segments {
			comp := s.Compression
			if comp == "" {
				comp = "none"
			}
			fmt.Fprintf(&sb, "| %d | %s | %d | %d | %s |\n", s.ID, s.Timestamp.Format(timeLayout), s.Events, s.Bytes, comp)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Timeline\n\n")
	if len(rep.Timeline) == 0 {
		sb.WriteString("_No timeline events._\n")
	} else {
		for _, e := range rep.Timeline {
			line := fmt.Sprintf("- [%s] #%d %s", e.Timestamp.Format(timeLayout), e.Segment, e.Kind)
			if e.Detail != "" {
				line += ": " + e.Detail
			}
			sb.WriteString(line + "\n")
		}
	}
	sb.WriteString("\n")

	writeList(&sb, "URLs", rep.URLs, "_No URLs recorded._")
	writeList(&sb, "Errors", rep.ErrorIDs, "_No errors linked._")
	writeList(&sb, "Traces", rep.TraceIDs, "_No traces linked._")

	return []byte(sb.String()), nil
}

func writeList(sb *strings.Builder, title string, items []string, empty string) {
	fmt.Fprintf(sb, "## %s\n\n", title)
	if len(items) == 0 {
		sb.WriteString(empty + "\n\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
	sb.WriteString("\n")
}
