// Package verdict turns free-form supervisor output into a structured
// completion judgment. Agents are asked for a JSON object but routinely wrap
// it in markdown fences or surround it with prose, so extraction is lenient:
// fenced block first, then the outermost brace span, then the whole text.
// Anything unparseable degrades to a conservative "still pending" verdict
// instead of an error.
package verdict

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Status of the overall task as judged by the supervisor.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
	StatusPending    Status = "pending"
)

// summaryLimit caps the fallback summary taken from unparseable output.
const summaryLimit = 200

// Verdict is one supervisor judgment. Raw carries the full agent output for
// transcripts and is excluded from serialized records.
type Verdict struct {
	IsComplete     bool     `json:"is_complete"`
	Status         Status   `json:"status"`
	PendingItems   []string `json:"pending_items"`
	NewlyCompleted []string `json:"newly_completed"`
	Summary        string   `json:"summary"`

	Raw string `json:"-"`
}

var (
	fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	braceSpan   = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Parse extracts a Verdict from agent output. Missing fields take their zero
// values, an absent or unknown status maps to pending, and output that yields
// no JSON object at all produces the fallback verdict. Parse never fails.
func Parse(output string) Verdict {
	candidate := output
	if m := fencedBlock.FindStringSubmatch(output); m != nil {
		candidate = m[1]
	} else if span := braceSpan.FindString(output); span != "" {
		candidate = span
	}

	if !strings.HasPrefix(strings.TrimSpace(candidate), "{") {
		return fallback(output)
	}

	var raw struct {
		IsComplete     bool     `json:"is_complete"`
		Status         string   `json:"status"`
		PendingItems   []string `json:"pending_items"`
		NewlyCompleted []string `json:"newly_completed"`
		Summary        string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return fallback(output)
	}

	return Verdict{
		IsComplete:     raw.IsComplete,
		Status:         normalizeStatus(raw.Status),
		PendingItems:   orEmpty(raw.PendingItems),
		NewlyCompleted: orEmpty(raw.NewlyCompleted),
		Summary:        raw.Summary,
		Raw:            output,
	}
}

// FromFailure builds the verdict recorded when the supervisor's own
// invocation fails. The failure becomes a pending item so the loop keeps
// going instead of aborting.
func FromFailure(errText, rawOutput string) Verdict {
	if errText == "" {
		errText = "unknown error"
	}
	return Verdict{
		IsComplete:     false,
		Status:         StatusPending,
		PendingItems:   []string{"agent invocation failed: " + errText},
		NewlyCompleted: []string{},
		Summary:        "unable to check task status; the supervisor invocation failed",
		Raw:            rawOutput,
	}
}

func fallback(output string) Verdict {
	summary := truncate(output, summaryLimit)
	if summary == "" {
		summary = "no output"
	}
	return Verdict{
		IsComplete:     false,
		Status:         StatusPending,
		PendingItems:   []string{"could not parse the agent response; check the transcript manually"},
		NewlyCompleted: []string{},
		Summary:        summary,
		Raw:            output,
	}
}

func normalizeStatus(s string) Status {
	switch Status(s) {
	case StatusCompleted, StatusInProgress, StatusPending:
		return Status(s)
	default:
		return StatusPending
	}
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// truncate keeps at most n runes so multi-byte output is never cut mid-rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Report renders a verdict as a markdown status document for transcripts and
// the optional report file.
func Report(task string, v Verdict) string {
	var b strings.Builder

	b.WriteString("# Task Status Report\n\n")
	b.WriteString("## Original Task\n")
	b.WriteString(task)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "## Current Status: %s\n\n", v.Status)
	b.WriteString("## Summary\n")
	b.WriteString(v.Summary)
	b.WriteString("\n")

	if len(v.PendingItems) > 0 {
		b.WriteString("\n## Pending Items\n\n")
		for i, item := range v.PendingItems {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item)
		}
	}
	if len(v.NewlyCompleted) > 0 {
		b.WriteString("\n## Newly Completed\n\n")
		for _, item := range v.NewlyCompleted {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	b.WriteString("\n")
	if v.IsComplete {
		b.WriteString("All items complete.\n")
	} else {
		b.WriteString("Task still in progress; continue with the pending items above.\n")
	}

	return b.String()
}
