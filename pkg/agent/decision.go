package agent

import (
	"context"

	"github.com/zen-systems/taskflow/pkg/planner"
	"github.com/zen-systems/taskflow/pkg/policy"
	"github.com/zen-systems/taskflow/pkg/rollout"
)

// Path is a terminal outcome of the execution-path state machine.
type Path string

const (
	// PathClarification returns a question instead of executing anything.
	PathClarification Path = "clarification"
	// PathToolGrounded executed domain tools under plan enforcement.
	PathToolGrounded Path = "tool_grounded"
	// PathRetrievalModel answered from retrieved documents plus the model.
	PathRetrievalModel Path = "retrieval_model"
	// PathModelOnly answered from the model with no workspace evidence.
	PathModelOnly Path = "model_only"
	// PathLegacy executed directly without plan enforcement.
	PathLegacy Path = "legacy"
	// PathToolingUnavailable apologizes because mandatory tool evidence
	// could not be gathered. No factual claim is made.
	PathToolingUnavailable Path = "tooling_unavailable"
)

// Source is one retrieved document fragment.
type Source struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExecOptions configures one Executor invocation.
type ExecOptions struct {
	SessionID        string
	IncludeRetrieval bool
	MaxIterations    int
}

// ExecResult is what the Executor returns: the answer, the tool names it
// actually invoked, and any source fragments it retrieved.
type ExecResult struct {
	AnswerText   string
	ToolsInvoked []string
	Sources      []Source
}

// Executor runs domain tools and/or retrieval for a query. The supervisor
// does not know how tools are implemented; it only consumes the invoked
// tool-name list and retrieved fragments.
type Executor interface {
	Execute(ctx context.Context, query string, opts ExecOptions) (*ExecResult, error)
}

// Retriever performs document similarity search.
type Retriever interface {
	Query(ctx context.Context, query string, k int) ([]Source, error)
}

// Decision is the full per-request trace returned to the caller as
// diagnostic metadata. It lives for one request and is never persisted by
// the supervisor itself.
type Decision struct {
	RequestID     string           `json:"request_id"`
	Path          Path             `json:"path"`
	MCPReady      bool             `json:"mcp_ready"`
	RetrievalMode bool             `json:"retrieval_mode"`
	RagHit        bool             `json:"rag_hit"`
	ToolsUsed     []string         `json:"tools_used,omitempty"`
	Plan          planner.Plan     `json:"plan"`
	PlanFallback  bool             `json:"plan_fallback"`
	Rollout       rollout.Decision `json:"rollout"`
	Policy        policy.Result    `json:"policy"`
	Reasons       []string         `json:"reasons"`
}

func (d *Decision) reason(r string) {
	d.Reasons = append(d.Reasons, r)
}
