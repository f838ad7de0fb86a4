package observer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memorable-dev/memorable/internal/domain"
)

// skipTools never become observations; they are bookkeeping, not activity.
var skipTools = map[string]bool{
	"TodoWrite": true, "AskUserQuestion": true, "ListMcpResourcesTool": true,
	"ToolSearch": true, "EnterPlanMode": true, "ExitPlanMode": true,
}

const (
	maxTitleLen   = 80
	maxSummaryLen = 200
)

// description is the deterministic structured output derived from one tool
// record. Everything here comes from metadata alone, so identical input
// yields byte-identical output.
type description struct {
	Title   string
	Summary string
	Files   []string
}

// toolInput is the superset of argument fields we read across tools.
type toolInput struct {
	FilePath     string `json:"file_path"`
	Path         string `json:"path"`
	NotebookPath string `json:"notebook_path"`
	Pattern      string `json:"pattern"`
	Command      string `json:"command"`
	Description  string `json:"description"`
	Query        string `json:"query"`
	URL          string `json:"url"`
	Old          string `json:"old_string"`
	New          string `json:"new_string"`
}

// describe derives a title/summary/file list from tool metadata. No model
// call is involved.
func describe(tool, rawInput, rawResponse string) description {
	var in toolInput
	// Best effort; an unparseable input just means fewer details.
	_ = json.Unmarshal([]byte(rawInput), &in)

	file := firstNonEmpty(in.FilePath, in.Path, in.NotebookPath)
	var files []string
	if file != "" {
		files = []string{file}
	}

	var title, detail string
	switch tool {
	case "Read":
		title = withTarget("Read", file, "a file")
	case "Edit", "NotebookEdit":
		title = withTarget("Edited", file, "a file")
		if in.Old != "" || in.New != "" {
			detail = fmt.Sprintf("replaced %d chars with %d chars", len(in.Old), len(in.New))
		}
	case "Write":
		title = withTarget("Wrote", file, "a file")
	case "Grep", "Glob":
		if in.Pattern != "" {
			title = fmt.Sprintf("Searched for %s", in.Pattern)
		} else {
			title = "Searched codebase"
		}
	case "Bash":
		if in.Description != "" {
			title = in.Description
		} else if in.Command != "" {
			title = fmt.Sprintf("Ran `%s`", firstLine(in.Command))
		} else {
			title = "Ran shell command"
		}
	case "WebFetch":
		title = withTarget("Fetched", in.URL, "a page")
		detail = htmlToText(rawResponse, maxSummaryLen)
	case "WebSearch":
		if in.Query != "" {
			title = fmt.Sprintf("Searched the web for %s", in.Query)
		} else {
			title = "Searched the web"
		}
	default:
		title = fmt.Sprintf("Used %s", tool)
	}

	summary := title
	if detail != "" {
		summary = title + " (" + detail + ")"
	}

	return description{
		Title:   clip(title, maxTitleLen),
		Summary: clip(summary, maxSummaryLen),
		Files:   files,
	}
}

// Classification keywords per type, checked in fixed priority order so
// ties are deterministic: a summary mentioning both a fix and a change
// classifies as bugfix.
var classifyOrder = []struct {
	typ      domain.ObservationType
	keywords []string
}{
	{domain.ObsBugfix, []string{"fix", "bug", "crash", "broken", "regression", "patch"}},
	{domain.ObsFeature, []string{"add", "implement", "new feature", "introduce", "support for"}},
	{domain.ObsRefactor, []string{"refactor", "rename", "restructure", "clean up", "cleanup", "simplif", "extract"}},
	{domain.ObsDecision, []string{"decide", "decision", "chose", "choose", "agree", "settle on"}},
	{domain.ObsDiscovery, []string{"read", "search", "found", "discover", "investigat", "look", "fetch", "inspect"}},
}

// classify picks a best-effort observation type from keyword heuristics
// over the derived summary. Unmatched summaries default to change.
func classify(summary string) domain.ObservationType {
	lower := strings.ToLower(summary)
	for _, c := range classifyOrder {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.typ
			}
		}
	}
	return domain.ObsChange
}

func withTarget(verb, target, fallback string) string {
	if target == "" {
		return verb + " " + fallback
	}
	return verb + " " + target
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return clip(strings.TrimSpace(s), 60)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
