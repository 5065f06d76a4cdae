package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/zen-systems/taskflow/pkg/adapter"
	"github.com/zen-systems/taskflow/pkg/agent"
	"github.com/zen-systems/taskflow/pkg/artifact"
	"github.com/zen-systems/taskflow/pkg/planner"
)

type scriptedCaller struct {
	responses []string
	calls     int
}

func (c *scriptedCaller) Complete(ctx context.Context, model, prompt string) (*adapter.Response, error) {
	if c.calls >= len(c.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", c.calls)
	}
	text := c.responses[c.calls]
	c.calls++
	return &adapter.Response{Artifact: &artifact.Artifact{Content: text}}, nil
}

type fakeClient struct {
	results map[string]string
	err     error
	calls   []string
}

func (f *fakeClient) ListTools(ctx context.Context) ([]Tool, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", f.err
	}
	return f.results[name], nil
}

type staticRetriever struct {
	sources []agent.Source
}

func (r *staticRetriever) Query(ctx context.Context, query string, k int) ([]agent.Source, error) {
	return r.sources, nil
}

func TestExecuteToolLoop(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"action":"call_tool","tool":"jira_search_issues","arguments":{"query":"sprint 12"}}`,
		`{"action":"final_answer","answer":"Two issues remain open."}`,
	}}
	client := &fakeClient{results: map[string]string{"jira_search_issues": "PROJ-1, PROJ-2 open"}}

	e := NewExecutor(client, caller, "tool-model", []Tool{{Name: "jira_search_issues"}}, nil)
	res, err := e.Execute(context.Background(), "what is left in sprint 12", agent.ExecOptions{MaxIterations: 4})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.AnswerText != "Two issues remain open." {
		t.Fatalf("unexpected answer: %q", res.AnswerText)
	}
	if len(res.ToolsInvoked) != 1 || res.ToolsInvoked[0] != "jira_search_issues" {
		t.Fatalf("unexpected invoked tools: %v", res.ToolsInvoked)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(client.calls))
	}
}

func TestExecuteFailedToolNotCountedAsEvidence(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"action":"call_tool","tool":"jira_search_issues","arguments":{}}`,
		`{"action":"final_answer","answer":"Could not check the tracker."}`,
	}}
	client := &fakeClient{err: fmt.Errorf("server unavailable")}

	e := NewExecutor(client, caller, "tool-model", nil, nil)
	res, err := e.Execute(context.Background(), "sprint status", agent.ExecOptions{MaxIterations: 4})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(res.ToolsInvoked) != 0 {
		t.Fatalf("failed calls must not count as invoked: %v", res.ToolsInvoked)
	}
}

func TestExecuteNonProtocolTextIsFinalAnswer(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"Just a plain answer with no JSON."}}
	e := NewExecutor(&fakeClient{}, caller, "tool-model", nil, nil)

	res, err := e.Execute(context.Background(), "anything", agent.ExecOptions{MaxIterations: 4})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.AnswerText != "Just a plain answer with no JSON." {
		t.Fatalf("unexpected answer: %q", res.AnswerText)
	}
}

func TestExecuteIterationBudget(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"action":"call_tool","tool":"jira_search_issues","arguments":{}}`,
		`{"action":"call_tool","tool":"jira_search_issues","arguments":{}}`,
		`{"action":"final_answer","answer":"Best effort from two lookups."}`,
	}}
	client := &fakeClient{results: map[string]string{"jira_search_issues": "PROJ-1 open"}}

	e := NewExecutor(client, caller, "tool-model", nil, nil)
	res, err := e.Execute(context.Background(), "sprint status", agent.ExecOptions{MaxIterations: 2})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.AnswerText != "Best effort from two lookups." {
		t.Fatalf("unexpected answer: %q", res.AnswerText)
	}
	if caller.calls != 3 {
		t.Fatalf("expected 2 loop calls plus 1 final call, got %d", caller.calls)
	}
}

func TestExecuteIncludesRetrievalContext(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"action":"final_answer","answer":"From the docs."}`,
	}}
	ret := &staticRetriever{sources: []agent.Source{{Content: "uploaded report excerpt"}}}

	e := NewExecutor(&fakeClient{}, caller, "tool-model", nil, nil, WithRetriever(ret, 3))
	res, err := e.Execute(context.Background(), "summarize the report", agent.ExecOptions{IncludeRetrieval: true, MaxIterations: 2})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(res.Sources))
	}
}

func TestBuildCatalogGroupsByPrefix(t *testing.T) {
	catalog := BuildCatalog([]Tool{
		{Name: "jira_search_issues"},
		{Name: "github_get_pull_request"},
		{Name: "calendar_list_events"},
		{Name: "transfer_to_jira"},
		{Name: "unrelated_helper"},
	})

	if d, ok := catalog.DomainFor("jira_search_issues"); !ok || d != planner.DomainJira {
		t.Fatalf("jira tool not attributed: %v %v", d, ok)
	}
	if d, ok := catalog.DomainFor("github_get_pull_request"); !ok || d != planner.DomainGitHub {
		t.Fatalf("github tool not attributed: %v %v", d, ok)
	}
	if _, ok := catalog.DomainFor("transfer_to_jira"); ok {
		t.Fatal("transfer tools must not be catalog entries")
	}
	if _, ok := catalog.DomainFor("unrelated_helper"); ok {
		t.Fatal("unattributable tools must be dropped")
	}
	if !catalog.HasTools(planner.DomainCalendar) {
		t.Fatal("calendar tools missing")
	}
}
