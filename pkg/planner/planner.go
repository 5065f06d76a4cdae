package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zen-systems/taskflow/pkg/adapter"
)

// Caller issues a single model completion. The resilient router satisfies
// this; tests substitute fakes.
type Caller interface {
	Complete(ctx context.Context, model string, prompt string) (*adapter.Response, error)
}

// Planner classifies user queries into routing plans using one model call
// with a deterministic fallback.
type Planner struct {
	caller Caller
	model  string
	log    logrus.FieldLogger
}

// New creates a Planner that classifies with the given model.
func New(caller Caller, model string, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{caller: caller, model: model, log: log}
}

// Plan classifies the query into a routing plan. It is a total function:
// classification or parse failures yield the fixed fallback plan, never an
// error.
func (p *Planner) Plan(ctx context.Context, query string) PlanResult {
	if p.caller == nil || p.model == "" {
		return PlanResult{Plan: FallbackPlan(), Fallback: true}
	}

	resp, err := p.caller.Complete(ctx, p.model, buildClassifierPrompt(query))
	if err != nil {
		p.log.WithError(err).Debug("routing classifier call failed")
		return PlanResult{Plan: FallbackPlan(), Fallback: true}
	}

	raw, err := parseClassification(resp.Text())
	if err != nil {
		p.log.WithError(err).Debug("routing classifier response unparsable")
		return PlanResult{Plan: FallbackPlan(), Fallback: true}
	}

	plan := Plan{
		MustUseTools:     raw.MustUseTools,
		AllowRetrieval:   raw.AllowRAG,
		Confidence:       raw.Confidence,
		ReasoningSummary: raw.ReasoningSummary,
	}
	for _, name := range raw.Domains {
		plan.Domains = append(plan.Domains, Domain(strings.ToLower(strings.TrimSpace(name))))
	}
	return PlanResult{Plan: normalize(plan)}
}

// classification mirrors the wire contract with the classifier model.
type classification struct {
	Domains          []string `json:"domains"`
	MustUseTools     bool     `json:"must_use_tools"`
	AllowRAG         bool     `json:"allow_rag"`
	Confidence       float64  `json:"confidence"`
	ReasoningSummary string   `json:"reasoning_summary"`
}

func parseClassification(content string) (*classification, error) {
	obj, ok := ExtractJSONObject(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in classifier response")
	}
	var raw classification
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// ExtractJSONObject returns the first balanced top-level JSON object in
// text, tolerating surrounding prose and code fences. Braces inside string
// literals do not affect balancing.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func buildClassifierPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("You are a workspace query router. Classify which knowledge domains the query requires.\n")
	sb.WriteString("Known domains:\n")
	sb.WriteString("- jira: issues, tickets, sprints, bugs, project tracking\n")
	sb.WriteString("- github: repositories, pull requests, commits, code reviews\n")
	sb.WriteString("- notion: wiki pages, internal documentation, meeting notes\n")
	sb.WriteString("- calendar: events, meetings, schedules, availability\n")
	sb.WriteString("- rag: uploaded documents and files (retrieval)\n\n")
	sb.WriteString("Return ONLY JSON: {\"domains\":[\"...\"],\"must_use_tools\":bool,\"allow_rag\":bool,\"confidence\":0-1,\"reasoning_summary\":\"...\"}.\n")
	sb.WriteString("Rules: select every domain needed to answer; set must_use_tools when factual workspace data is required; set allow_rag only when uploaded documents could help.\n\n")
	sb.WriteString("Query:\n")
	sb.WriteString(query)
	return sb.String()
}
