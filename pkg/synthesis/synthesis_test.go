package synthesis

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/zen-systems/taskflow/pkg/adapter"
	"github.com/zen-systems/taskflow/pkg/artifact"
)

type fakeCaller struct {
	response string
	err      error
	calls    int
}

func (f *fakeCaller) Complete(ctx context.Context, model, prompt string) (*adapter.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Response{Artifact: &artifact.Artifact{Content: f.response}}, nil
}

func TestSynthesizeModelPass(t *testing.T) {
	caller := &fakeCaller{response: `Here is the summary:
{"executive_summary":"Sprint is on track.","risks":["CI is flaky"],"decisions":["Approve scope cut"],"action_items":[{"text":"Fix CI","owner":"dana","due_date":"2026-09-01"}],"evidence_by_source":{"jira":["PROJ-12 in review"]}}`}

	s := New(caller, "formatter-model", nil)
	summary, primary := s.Synthesize(context.Background(), Input{Query: "sprint status", Answer: "Sprint is on track."})
	if !primary {
		t.Fatalf("expected model-assisted pass to succeed")
	}
	if summary.ExecutiveSummary != "Sprint is on track." {
		t.Fatalf("unexpected executive summary: %q", summary.ExecutiveSummary)
	}
	if len(summary.Risks) != 1 || summary.Risks[0] != "CI is flaky" {
		t.Fatalf("unexpected risks: %v", summary.Risks)
	}
	if len(summary.ActionItems) != 1 || summary.ActionItems[0].Owner != "dana" {
		t.Fatalf("unexpected action items: %v", summary.ActionItems)
	}
	if caller.calls != 1 {
		t.Fatalf("expected one model call, got %d", caller.calls)
	}
}

func TestSynthesizeFallbackOnModelError(t *testing.T) {
	caller := &fakeCaller{err: fmt.Errorf("provider unavailable")}
	s := New(caller, "formatter-model", nil)

	answer := "The release is at risk due to a blocker in the auth service.\n- Ship the hotfix\n- Needs approval from platform team"
	summary, primary := s.Synthesize(context.Background(), Input{Answer: answer})
	if primary {
		t.Fatalf("expected heuristic fallback")
	}
	if len(summary.Risks) == 0 {
		t.Fatalf("expected risk line to be extracted")
	}
	if len(summary.Decisions) == 0 {
		t.Fatalf("expected approval line to be extracted")
	}
	if len(summary.ActionItems) != 2 {
		t.Fatalf("expected 2 action items, got %d", len(summary.ActionItems))
	}
	for _, item := range summary.ActionItems {
		if item.Owner != "Unassigned" || item.DueDate != "TBD" {
			t.Fatalf("fallback action item should default owner and due date: %+v", item)
		}
	}
}

func TestSynthesizeWithoutCaller(t *testing.T) {
	s := New(nil, "", nil)
	summary, primary := s.Synthesize(context.Background(), Input{Answer: "Everything is fine."})
	if primary {
		t.Fatalf("nil caller must not claim model-assisted output")
	}
	if summary.ExecutiveSummary != "Everything is fine." {
		t.Fatalf("unexpected summary: %q", summary.ExecutiveSummary)
	}
}

func TestHeuristicNumberedListItems(t *testing.T) {
	summary := HeuristicSummary(Input{Answer: "Status update.\n1. Update the roadmap\n2) Close stale tickets"})
	if len(summary.ActionItems) != 2 {
		t.Fatalf("expected 2 items, got %d", len(summary.ActionItems))
	}
	if summary.ActionItems[0].Text != "Update the roadmap" {
		t.Fatalf("marker not stripped: %q", summary.ActionItems[0].Text)
	}
	if summary.ActionItems[1].Text != "Close stale tickets" {
		t.Fatalf("marker not stripped: %q", summary.ActionItems[1].Text)
	}
}

func TestRenderAllSections(t *testing.T) {
	out := Render(&Summary{
		ExecutiveSummary: "On track.",
		Risks:            []string{"API quota nearly exhausted"},
		ActionItems:      []ActionItem{{Text: "Rotate keys", Owner: "sam", DueDate: "2026-09-05"}},
		Evidence:         map[string][]string{"github": {"PR #42 merged"}, "jira": {"PROJ-9 done"}},
	})

	for _, section := range []string{
		"## Executive Summary",
		"## Key Risks / Blockers",
		"## What Needs Decision",
		"## Action Items",
		"## Evidence by Source",
	} {
		if !strings.Contains(out, section) {
			t.Fatalf("missing section %q in:\n%s", section, out)
		}
	}
	if !strings.Contains(out, "Rotate keys (owner: sam, due: 2026-09-05)") {
		t.Fatalf("action item not rendered: %s", out)
	}
	if !strings.Contains(out, noDecisions) {
		t.Fatalf("empty section must render placeholder")
	}
	// evidence sources render in sorted order
	if strings.Index(out, "### github") > strings.Index(out, "### jira") {
		t.Fatalf("evidence sources out of order:\n%s", out)
	}
}

func TestRenderEmptySummaryUsesPlaceholders(t *testing.T) {
	out := Render(&Summary{})
	for _, placeholder := range []string{noSummary, noRisks, noDecisions, noActions, noEvidence} {
		if !strings.Contains(out, placeholder) {
			t.Fatalf("missing placeholder %q in:\n%s", placeholder, out)
		}
	}
}

func TestRenderSameShapeForBothPaths(t *testing.T) {
	in := Input{Answer: "All quiet.", Evidence: map[string][]string{"rag": {"doc fragment"}}}
	heuristic := Render(HeuristicSummary(in))

	s := New(&fakeCaller{response: `{"executive_summary":"All quiet.","risks":[],"decisions":[],"action_items":[]}`}, "m", nil)
	modelSummary, primary := s.Synthesize(context.Background(), in)
	if !primary {
		t.Fatalf("model pass should succeed")
	}
	model := Render(modelSummary)

	count := func(out string) int { return strings.Count(out, "\n## ") }
	if count(heuristic) != count(model) {
		t.Fatalf("section count differs: heuristic=%d model=%d", count(heuristic), count(model))
	}
	if !strings.Contains(model, "doc fragment") {
		t.Fatalf("evidence should carry over when formatter omits it:\n%s", model)
	}
}
