// Package synthesis renders answers and gathered evidence into a fixed
// five-section summary: an LLM-assisted formatting pass with a
// deterministic text-derived fallback, both converging on one renderer.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zen-systems/taskflow/pkg/adapter"
	"github.com/zen-systems/taskflow/pkg/planner"
)

// Caller issues a single model completion.
type Caller interface {
	Complete(ctx context.Context, model string, prompt string) (*adapter.Response, error)
}

// Input carries the raw material for one summary.
type Input struct {
	Query    string
	Answer   string
	Evidence map[string][]string // source label -> evidence fragments
}

// ActionItem is one task extracted from the answer.
type ActionItem struct {
	Text    string `json:"text"`
	Owner   string `json:"owner"`
	DueDate string `json:"due_date"`
}

// Summary is the fixed-section structured output.
type Summary struct {
	ExecutiveSummary string              `json:"executive_summary"`
	Risks            []string            `json:"risks"`
	Decisions        []string            `json:"decisions"`
	ActionItems      []ActionItem        `json:"action_items"`
	Evidence         map[string][]string `json:"evidence_by_source"`
}

// Synthesizer formats answers with an optional model-assisted pass.
type Synthesizer struct {
	caller Caller
	model  string
	log    logrus.FieldLogger
}

// New creates a Synthesizer. A nil caller or empty model disables the
// model-assisted pass; the heuristic path still produces output.
func New(caller Caller, model string, log logrus.FieldLogger) *Synthesizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synthesizer{caller: caller, model: model, log: log}
}

// Synthesize builds a summary from the input. The returned flag reports
// whether the model-assisted pass produced it; on any failure the
// heuristic fallback is used and output is still returned.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Summary, bool) {
	if s.caller != nil && s.model != "" {
		summary, err := s.synthesizeWithModel(ctx, in)
		if err == nil {
			return summary, true
		}
		s.log.WithError(err).Debug("model-assisted synthesis failed, using heuristic fallback")
	}
	return HeuristicSummary(in), false
}

func (s *Synthesizer) synthesizeWithModel(ctx context.Context, in Input) (*Summary, error) {
	resp, err := s.caller.Complete(ctx, s.model, buildFormatterPrompt(in))
	if err != nil {
		return nil, err
	}

	obj, ok := planner.ExtractJSONObject(resp.Text())
	if !ok {
		return nil, fmt.Errorf("no JSON object in formatter response")
	}
	var summary Summary
	if err := json.Unmarshal([]byte(obj), &summary); err != nil {
		return nil, err
	}
	if summary.Evidence == nil {
		summary.Evidence = in.Evidence
	}
	return &summary, nil
}

func buildFormatterPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("Format the answer below into a structured status summary.\n")
	sb.WriteString("Return ONLY JSON with this exact shape:\n")
	sb.WriteString(`{"executive_summary":"...","risks":["..."],"decisions":["..."],"action_items":[{"text":"...","owner":"...","due_date":"..."}],"evidence_by_source":{"source":["..."]}}`)
	sb.WriteString("\nDo not invent facts; only restructure what the answer and evidence contain.\n\n")
	sb.WriteString("Question:\n")
	sb.WriteString(in.Query)
	sb.WriteString("\n\nAnswer:\n")
	sb.WriteString(in.Answer)
	if len(in.Evidence) > 0 {
		sb.WriteString("\n\nEvidence:\n")
		for _, source := range sortedSources(in.Evidence) {
			for _, item := range in.Evidence[source] {
				sb.WriteString(fmt.Sprintf("- [%s] %s\n", source, item))
			}
		}
	}
	return sb.String()
}

var (
	riskKeywords     = []string{"risk", "blocker", "blocked", "delay", "delayed", "slip", "at risk"}
	decisionKeywords = []string{"decide", "decision", "approval", "approve", "confirm", "sign-off", "sign off"}
)

// HeuristicSummary derives a summary from the raw answer text without a
// model call.
func HeuristicSummary(in Input) *Summary {
	summary := &Summary{
		ExecutiveSummary: firstSentences(in.Answer, 2),
		Evidence:         in.Evidence,
	}

	for _, line := range strings.Split(in.Answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if containsAny(lower, riskKeywords) {
			summary.Risks = append(summary.Risks, stripListMarker(line))
		}
		if containsAny(lower, decisionKeywords) {
			summary.Decisions = append(summary.Decisions, stripListMarker(line))
		}
		if hasListMarker(line) {
			summary.ActionItems = append(summary.ActionItems, ActionItem{
				Text:    stripListMarker(line),
				Owner:   "Unassigned",
				DueDate: "TBD",
			})
		}
	}
	return summary
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func hasListMarker(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	for i, c := range line {
		if c >= '0' && c <= '9' {
			continue
		}
		return i > 0 && (c == '.' || c == ')') && i+1 < len(line)
	}
	return false
}

func stripListMarker(line string) string {
	line = strings.TrimLeft(line, "-*• ")
	for i, c := range line {
		if c >= '0' && c <= '9' {
			continue
		}
		if i > 0 && (c == '.' || c == ')') {
			return strings.TrimSpace(line[i+1:])
		}
		break
	}
	return strings.TrimSpace(line)
}

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	count := 0
	for i, c := range text {
		if c == '.' || c == '!' || c == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
		if c == '\n' {
			return strings.TrimSpace(text[:i])
		}
	}
	return text
}

func sortedSources(evidence map[string][]string) []string {
	sources := make([]string, 0, len(evidence))
	for source := range evidence {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}
