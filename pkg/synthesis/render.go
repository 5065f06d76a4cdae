package synthesis

import (
	"fmt"
	"strings"
)

const (
	noRisks     = "No risks or blockers identified."
	noDecisions = "No open decisions."
	noActions   = "No action items."
	noEvidence  = "No supporting evidence collected."
	noSummary   = "No summary available."
)

// Render produces the five-section markdown report. Both the
// model-assisted and heuristic paths go through this renderer, so the
// section structure is identical regardless of which produced the
// summary.
func Render(s *Summary) string {
	var sb strings.Builder

	sb.WriteString("## Executive Summary\n")
	if s.ExecutiveSummary != "" {
		sb.WriteString(s.ExecutiveSummary)
	} else {
		sb.WriteString(noSummary)
	}
	sb.WriteString("\n\n## Key Risks / Blockers\n")
	writeBullets(&sb, s.Risks, noRisks)

	sb.WriteString("\n## What Needs Decision\n")
	writeBullets(&sb, s.Decisions, noDecisions)

	sb.WriteString("\n## Action Items\n")
	if len(s.ActionItems) == 0 {
		sb.WriteString(noActions)
		sb.WriteString("\n")
	} else {
		for _, item := range s.ActionItems {
			owner := item.Owner
			if owner == "" {
				owner = "Unassigned"
			}
			due := item.DueDate
			if due == "" {
				due = "TBD"
			}
			sb.WriteString(fmt.Sprintf("- %s (owner: %s, due: %s)\n", item.Text, owner, due))
		}
	}

	sb.WriteString("\n## Evidence by Source\n")
	if len(s.Evidence) == 0 {
		sb.WriteString(noEvidence)
		sb.WriteString("\n")
	} else {
		for _, source := range sortedSources(s.Evidence) {
			sb.WriteString(fmt.Sprintf("### %s\n", source))
			writeBullets(&sb, s.Evidence[source], "(no items)")
		}
	}
	return sb.String()
}

func writeBullets(sb *strings.Builder, items []string, placeholder string) {
	if len(items) == 0 {
		sb.WriteString(placeholder)
		sb.WriteString("\n")
		return
	}
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}
