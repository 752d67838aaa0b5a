package plan

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Format renders a plan as the text block shown to the model and the
// operator: header, progress, status counts, and one line per step with its
// checkbox marker plus indented notes and result lines.
func Format(p *Plan) string {
	return format(p, true)
}

// FormatWithoutResults renders the same block with the result lines omitted,
// for contexts where step results would bloat the prompt.
func FormatWithoutResults(p *Plan) string {
	return format(p, false)
}

func format(p *Plan, withResults bool) string {
	var b strings.Builder

	header := fmt.Sprintf("Plan: %s (ID: %s)\n", p.Title, p.ID)
	b.WriteString(header)
	b.WriteString(strings.Repeat("=", utf8.RuneCountInString(header)))
	b.WriteString("\n\n")

	var completed, inProgress, blocked, notStarted int
	for _, s := range p.Steps {
		switch s.Status {
		case StatusCompleted:
			completed++
		case StatusInProgress:
			inProgress++
		case StatusBlocked:
			blocked++
		default:
			notStarted++
		}
	}

	total := len(p.Steps)
	progress := 0.0
	if total > 0 {
		progress = float64(completed) / float64(total) * 100
	}

	fmt.Fprintf(&b, "Progress: %d/%d steps completed (%.1f%%)\n", completed, total, progress)
	fmt.Fprintf(&b, "Status: %d completed, %d in progress, %d blocked, %d not started\n\n",
		completed, inProgress, blocked, notStarted)
	b.WriteString("Steps:\n")

	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s %s\n", i, s.Status.Mark(), s.Content)
		if s.Notes != "" {
			fmt.Fprintf(&b, "   Notes: %s\n", s.Notes)
		}
		if withResults && s.Result != "" {
			fmt.Fprintf(&b, "   Result: %s\n", s.Result)
		}
	}

	return b.String()
}

// FormatList renders the plan overview returned by the list command.
func FormatList(plans []*Plan, activeID string) string {
	if len(plans) == 0 {
		return "No plans found. Create a plan using the 'create' command."
	}

	var b strings.Builder
	b.WriteString("Available plans:\n")
	for _, p := range plans {
		marker := ""
		if p.ID == activeID {
			marker = " (active)"
		}
		fmt.Fprintf(&b, "• %s%s: %s - %d/%d steps completed\n",
			p.ID, marker, p.Title, p.CompletedCount(), len(p.Steps))
	}
	return b.String()
}
