package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/zen-systems/taskflow/pkg/adapter"
	"github.com/zen-systems/taskflow/pkg/artifact"
)

type fakeCaller struct {
	response string
	err      error
	calls    int
}

func (c *fakeCaller) Complete(_ context.Context, model string, prompt string) (*adapter.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	art := artifact.New(c.response, "fake", model, prompt)
	return &adapter.Response{Artifact: art}, nil
}

func TestPlanParsesClassifierJSON(t *testing.T) {
	caller := &fakeCaller{response: `Here is the classification:
{"domains":["jira","notion"],"must_use_tools":true,"allow_rag":false,"confidence":0.85,"reasoning_summary":"sprint status lives in jira and notion"}`}
	p := New(caller, "mock-1", nil)

	result := p.Plan(context.Background(), "what is blocking the sprint?")
	if result.Fallback {
		t.Fatalf("expected parsed plan, got fallback")
	}
	plan := result.Plan
	if !plan.HasDomain(DomainJira) || !plan.HasDomain(DomainNotion) {
		t.Fatalf("unexpected domains: %v", plan.Domains)
	}
	if plan.Confidence != 0.85 {
		t.Fatalf("confidence mismatch: %v", plan.Confidence)
	}
	if !plan.MustUseTools {
		t.Fatalf("expected must_use_tools")
	}
}

func TestPlanForcesToolUseForToolBackedDomains(t *testing.T) {
	// Classifier says tools are optional for a jira query; the business rule
	// overrides it.
	caller := &fakeCaller{response: `{"domains":["jira"],"must_use_tools":false,"allow_rag":false,"confidence":0.9,"reasoning_summary":"ticket lookup"}`}
	p := New(caller, "mock-1", nil)

	plan := p.Plan(context.Background(), "show ticket TF-12").Plan
	if !plan.MustUseTools {
		t.Fatalf("expected forced must_use_tools for jira domain")
	}
}

func TestPlanRetrievalOnlyDoesNotForceTools(t *testing.T) {
	caller := &fakeCaller{response: `{"domains":["rag"],"must_use_tools":false,"allow_rag":true,"confidence":0.7,"reasoning_summary":"document question"}`}
	p := New(caller, "mock-1", nil)

	plan := p.Plan(context.Background(), "summarize the uploaded contract").Plan
	if plan.MustUseTools {
		t.Fatalf("rag-only plan must not force tool use")
	}
	if !plan.AllowRetrieval {
		t.Fatalf("expected retrieval allowed")
	}
}

func TestPlanDropsUnknownDomainsAndClampsConfidence(t *testing.T) {
	cases := []struct {
		response   string
		confidence float64
		domains    int
	}{
		{`{"domains":["jira","slack"],"must_use_tools":true,"allow_rag":false,"confidence":1.7,"reasoning_summary":"x"}`, 1, 1},
		{`{"domains":["teleport"],"must_use_tools":false,"allow_rag":false,"confidence":-0.3,"reasoning_summary":"x"}`, 0, 0},
	}
	for i, tc := range cases {
		p := New(&fakeCaller{response: tc.response}, "mock-1", nil)
		plan := p.Plan(context.Background(), "query").Plan
		if plan.Confidence != tc.confidence {
			t.Fatalf("case %d: confidence got %v want %v", i, plan.Confidence, tc.confidence)
		}
		if len(plan.Domains) != tc.domains {
			t.Fatalf("case %d: domains got %v", i, plan.Domains)
		}
	}
}

func TestPlanFallsBackOnCallFailure(t *testing.T) {
	p := New(&fakeCaller{err: fmt.Errorf("provider down")}, "mock-1", nil)

	result := p.Plan(context.Background(), "anything")
	if !result.Fallback {
		t.Fatalf("expected fallback")
	}
	plan := result.Plan
	if len(plan.Domains) != 0 || plan.MustUseTools || plan.AllowRetrieval {
		t.Fatalf("unexpected fallback plan: %+v", plan)
	}
	if plan.Confidence != 0.2 || plan.ReasoningSummary != "router_failed" {
		t.Fatalf("unexpected fallback fields: %+v", plan)
	}
}

func TestPlanFallsBackOnUnparsableResponse(t *testing.T) {
	p := New(&fakeCaller{response: "I cannot classify this query."}, "mock-1", nil)

	result := p.Plan(context.Background(), "anything")
	if !result.Fallback {
		t.Fatalf("expected fallback for prose response")
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"prose before {\"a\":{\"b\":2}} prose after", `{"a":{"b":2}}`, true},
		{"```json\n{\"a\":\"}\"}\n```", `{"a":"}"}`, true},
		{`{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{"no json here", "", false},
		{"{unterminated", "", false},
	}
	for i, tc := range cases {
		got, ok := ExtractJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("case %d: got (%q, %v) want (%q, %v)", i, got, ok, tc.want, tc.ok)
		}
	}
}
