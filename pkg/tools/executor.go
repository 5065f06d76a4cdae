package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zen-systems/taskflow/pkg/agent"
	"github.com/zen-systems/taskflow/pkg/planner"
)

const defaultTopK = 5

// Executor answers queries by letting a model drive tool calls against the
// MCP server. It implements the supervisor's Executor contract.
type Executor struct {
	client    Client
	caller    planner.Caller
	model     string
	tools     []Tool
	retriever agent.Retriever
	topK      int
	log       logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetriever lets the executor pull document context when a request
// asks for retrieval.
func WithRetriever(r agent.Retriever, topK int) Option {
	return func(e *Executor) {
		e.retriever = r
		if topK > 0 {
			e.topK = topK
		}
	}
}

// NewExecutor creates an Executor over a connected client and a cached
// tool listing.
func NewExecutor(client Client, caller planner.Caller, model string, tools []Tool, log logrus.FieldLogger, opts ...Option) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{
		client: client,
		caller: caller,
		model:  model,
		tools:  tools,
		topK:   defaultTopK,
		log:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// step is the wire contract with the driving model: one tool call or a
// final answer per iteration.
type step struct {
	Action    string         `json:"action"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Answer    string         `json:"answer,omitempty"`
}

// Execute runs the tool loop: each iteration the model either calls one
// tool or produces the final answer. Failed tool calls become observations
// and do not count as invoked evidence.
func (e *Executor) Execute(ctx context.Context, query string, opts agent.ExecOptions) (*agent.ExecResult, error) {
	result := &agent.ExecResult{}
	var transcript []string

	if opts.IncludeRetrieval && e.retriever != nil {
		sources, err := e.retriever.Query(ctx, query, e.topK)
		if err != nil {
			e.log.WithError(err).Debug("executor retrieval failed")
		}
		result.Sources = sources
		for _, src := range sources {
			transcript = append(transcript, "document: "+src.Content)
		}
	}

	iterations := opts.MaxIterations
	if iterations <= 0 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		resp, err := e.caller.Complete(ctx, e.model, e.buildPrompt(query, transcript))
		if err != nil {
			return nil, fmt.Errorf("tool loop model call: %w", err)
		}
		text := resp.Text()

		s, ok := parseStep(text)
		if !ok || s.Action == "final_answer" {
			if ok {
				result.AnswerText = s.Answer
			} else {
				// not following the protocol; take the text as the answer
				result.AnswerText = strings.TrimSpace(text)
			}
			return result, nil
		}
		if s.Action != "call_tool" || s.Tool == "" {
			transcript = append(transcript, fmt.Sprintf("invalid action %q, call a tool or answer", s.Action))
			continue
		}

		out, err := e.client.CallTool(ctx, s.Tool, s.Arguments)
		if err != nil {
			e.log.WithError(err).WithField("tool", s.Tool).Debug("tool call failed")
			transcript = append(transcript, fmt.Sprintf("%s failed: %v", s.Tool, err))
			continue
		}
		result.ToolsInvoked = append(result.ToolsInvoked, s.Tool)
		transcript = append(transcript, fmt.Sprintf("%s returned: %s", s.Tool, out))
	}

	// iteration budget exhausted; ask for a final answer from what we have
	resp, err := e.caller.Complete(ctx, e.model,
		e.buildPrompt(query, append(transcript, "Tool budget exhausted. Give your final answer now from the observations above.")))
	if err != nil {
		return nil, fmt.Errorf("tool loop final call: %w", err)
	}
	if s, ok := parseStep(resp.Text()); ok && s.Answer != "" {
		result.AnswerText = s.Answer
	} else {
		result.AnswerText = strings.TrimSpace(resp.Text())
	}
	return result, nil
}

func parseStep(text string) (*step, bool) {
	obj, ok := planner.ExtractJSONObject(text)
	if !ok {
		return nil, false
	}
	var s step
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return nil, false
	}
	if s.Action == "" {
		return nil, false
	}
	return &s, true
}

func (e *Executor) buildPrompt(query string, transcript []string) string {
	var sb strings.Builder
	sb.WriteString("You answer workspace questions by calling tools. Available tools:\n")
	for _, t := range e.tools {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
	}
	sb.WriteString("\nRespond with ONLY JSON, one of:\n")
	sb.WriteString(`{"action":"call_tool","tool":"<name>","arguments":{...}}` + "\n")
	sb.WriteString(`{"action":"final_answer","answer":"<answer>"}` + "\n")
	sb.WriteString("\nQuestion:\n")
	sb.WriteString(query)
	if len(transcript) > 0 {
		sb.WriteString("\n\nObservations so far:\n")
		for _, line := range transcript {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
