// Package agent is the policy-enforcement supervisor: it buckets each
// request into a rollout mode, plans domain routing, selects an execution
// path, validates the outcome, and formats the answer. Failures degrade to
// safer paths; end users never see raw errors.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zen-systems/taskflow/pkg/metrics"
	"github.com/zen-systems/taskflow/pkg/planner"
	"github.com/zen-systems/taskflow/pkg/policy"
	"github.com/zen-systems/taskflow/pkg/rollout"
	"github.com/zen-systems/taskflow/pkg/synthesis"
)

const (
	defaultLowConfidence = 0.45
	defaultRetrievalTopK = 5
	defaultMaxIterations = 6
	defaultExecTimeout   = 2 * time.Minute
	defaultQueryTimeout  = 30 * time.Second

	apologyNoEvidence = "I could not gather tool-backed evidence for this request, so I won't make claims about your workspace data. Please try again shortly."
	apologyGeneric    = "Sorry, I ran into a problem answering that. Please try again."
)

// QueryPlanner produces a routing plan for a query. *planner.Planner
// satisfies this.
type QueryPlanner interface {
	Plan(ctx context.Context, query string) planner.PlanResult
}

// Config holds the supervisor's runtime settings.
type Config struct {
	Rollout                rollout.Config
	RetrievalOnly          bool
	LowConfidenceThreshold float64
	RetrievalTopK          int
	MaxIterations          int
	AnswerModel            string
	ExecTimeout            time.Duration
	QueryTimeout           time.Duration
}

func (c Config) withDefaults() Config {
	if c.LowConfidenceThreshold <= 0 {
		c.LowConfidenceThreshold = defaultLowConfidence
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = defaultRetrievalTopK
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = defaultExecTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	return c
}

// Deps are the supervisor's collaborators. Executor, Retriever, Caller,
// and Metrics may be nil; the supervisor degrades instead of failing.
type Deps struct {
	Planner   QueryPlanner
	Executor  Executor
	Retriever Retriever
	Catalog   *policy.Catalog
	Caller    synthesis.Caller
	Synth     *synthesis.Synthesizer
	Metrics   *metrics.Engine
	Log       logrus.FieldLogger
}

// Supervisor applies the transition rules that pick one execution path per
// request. It holds no request state; all per-request data lives in the
// Decision trace.
type Supervisor struct {
	cfg       Config
	planner   QueryPlanner
	executor  Executor
	retriever Retriever
	catalog   *policy.Catalog
	validator *policy.Validator
	caller    synthesis.Caller
	synth     *synthesis.Synthesizer
	metrics   *metrics.Engine
	log       logrus.FieldLogger
}

// Response is the user-facing outcome plus the full decision trace.
type Response struct {
	Answer   string    `json:"answer"`
	Decision *Decision `json:"decision"`
}

// New creates a Supervisor.
func New(cfg Config, deps Deps) *Supervisor {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Catalog == nil {
		deps.Catalog = policy.DefaultCatalog()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewEngine(metrics.Gates{})
	}
	if deps.Synth == nil {
		deps.Synth = synthesis.New(nil, "", deps.Log)
	}
	return &Supervisor{
		cfg:       cfg.withDefaults(),
		planner:   deps.Planner,
		executor:  deps.Executor,
		retriever: deps.Retriever,
		catalog:   deps.Catalog,
		validator: policy.NewValidator(deps.Catalog),
		caller:    deps.Caller,
		synth:     deps.Synth,
		metrics:   deps.Metrics,
		log:       deps.Log,
	}
}

// Handle answers one query. It never returns an error: every failure mode
// maps to a user-visible message (clarification question, no-evidence
// apology, or generic apology) recorded on the Decision trace.
func (s *Supervisor) Handle(ctx context.Context, query, sessionID string) *Response {
	key := sessionID
	if key == "" {
		key = query
	}
	rd := rollout.Decide(s.cfg.Rollout, key)
	s.metrics.RecordQuery(rd.Mode)

	dec := &Decision{
		RequestID:     uuid.NewString(),
		MCPReady:      s.executor != nil,
		RetrievalMode: s.cfg.RetrievalOnly,
		Rollout:       rd,
	}
	log := s.log.WithFields(logrus.Fields{
		"request_id": dec.RequestID,
		"mode":       rd.Mode,
		"bucket":     rd.Bucket,
	})

	if s.cfg.RetrievalOnly {
		dec.Plan = planner.Plan{
			Domains:        []planner.Domain{planner.DomainRAG},
			AllowRetrieval: true,
			Confidence:     1,
		}
		dec.reason("retrieval_only_runtime")
		return s.answerFromRetrieval(ctx, query, dec, log)
	}

	switch rd.Mode {
	case rollout.ModeOff:
		dec.reason("rollout_off")
		return s.runLegacy(ctx, query, sessionID, dec, log)
	case rollout.ModeShadow:
		s.plan(ctx, query, dec)
		log.WithFields(logrus.Fields{
			"domains":        dec.Plan.Domains,
			"must_use_tools": dec.Plan.MustUseTools,
			"confidence":     dec.Plan.Confidence,
		}).Debug("shadow plan computed")
		dec.reason("shadow_plan_not_applied")
		return s.runLegacy(ctx, query, sessionID, dec, log)
	}

	s.plan(ctx, query, dec)
	if dec.Plan.Confidence < s.cfg.LowConfidenceThreshold {
		s.metrics.RecordClarification()
		dec.Path = PathClarification
		dec.reason(fmt.Sprintf("low_confidence:%.2f", dec.Plan.Confidence))
		return &Response{Answer: clarificationQuestion(dec.Plan), Decision: dec}
	}
	return s.runEnforced(ctx, query, sessionID, dec, log)
}

func (s *Supervisor) plan(ctx context.Context, query string, dec *Decision) {
	if s.planner == nil {
		dec.Plan = planner.FallbackPlan()
		dec.PlanFallback = true
		s.metrics.RecordPlanFallback()
		return
	}
	pr := s.planner.Plan(ctx, query)
	dec.Plan = pr.Plan
	dec.PlanFallback = pr.Fallback
	if pr.Fallback {
		s.metrics.RecordPlanFallback()
	}
}

// runEnforced applies the plan: retrieval first when allowed and selected,
// tool execution when mandated or retrieval came up empty, then validation.
// Violations never retry; they degrade to a safer path.
func (s *Supervisor) runEnforced(ctx context.Context, query, sessionID string, dec *Decision, log logrus.FieldLogger) *Response {
	plan := dec.Plan

	var sources []Source
	if plan.AllowRetrieval && plan.HasDomain(planner.DomainRAG) {
		sources = s.retrieve(ctx, query, log)
		dec.RagHit = len(sources) > 0
	}

	var exec *ExecResult
	if plan.MustUseTools || !dec.RagHit {
		exec = s.executeTools(ctx, routedQuery(query, plan), sessionID, plan.AllowRetrieval, log)
	}

	var invoked []string
	answer := ""
	if exec != nil {
		invoked = exec.ToolsInvoked
		answer = exec.AnswerText
		if len(exec.Sources) > 0 && !dec.RagHit {
			sources = exec.Sources
			dec.RagHit = true
		}
	}
	dec.ToolsUsed = invoked

	retrievalUsed := dec.RagHit
	result := s.validator.Validate(plan, invoked, retrievalUsed)
	dec.Policy = result
	s.metrics.RecordValidation(result.Clean())
	if plan.MustUseTools {
		s.metrics.RecordToolGrounding(!hasViolation(result, policy.RuleRequiredToolCallMissing))
	}
	if hasViolation(result, policy.RuleRAGInvokedWhenDisallowed) {
		s.metrics.RecordDisallowedRetrieval()
	}

	if result.Clean() {
		if meaningfulTools(invoked) {
			dec.Path = PathToolGrounded
			dec.reason("plan_satisfied")
			return s.synthesize(ctx, query, answer, dec, sources)
		}
		if dec.RagHit {
			dec.Path = PathRetrievalModel
			dec.reason("retrieval_hits_no_tools_needed")
			return s.answerWithSources(ctx, query, dec, sources)
		}
		dec.Path = PathModelOnly
		dec.reason("no_evidence_needed")
		if answer != "" {
			return &Response{Answer: answer, Decision: dec}
		}
		return s.answerModelOnly(ctx, query, dec)
	}

	log.WithField("violations", result.Violations).Debug("policy violations, degrading path")
	dec.reason("policy_violation:" + strings.Join(result.Violations, ";"))
	switch {
	case dec.RagHit:
		dec.Path = PathRetrievalModel
		return s.answerWithSources(ctx, query, dec, sources)
	case plan.MustUseTools:
		dec.Path = PathToolingUnavailable
		return &Response{Answer: apologyNoEvidence, Decision: dec}
	default:
		dec.Path = PathModelOnly
		return s.answerModelOnly(ctx, query, dec)
	}
}

// runLegacy executes directly without plan enforcement. This is the
// rollback safety valve, so it stays as close to plain execution as
// possible: no validation, no synthesis pass.
func (s *Supervisor) runLegacy(ctx context.Context, query, sessionID string, dec *Decision, log logrus.FieldLogger) *Response {
	dec.Path = PathLegacy
	if s.executor != nil {
		exec := s.executeTools(ctx, query, sessionID, true, log)
		if exec != nil {
			dec.ToolsUsed = exec.ToolsInvoked
			dec.RagHit = len(exec.Sources) > 0
			return &Response{Answer: exec.AnswerText, Decision: dec}
		}
	}
	dec.reason("legacy_executor_unavailable")
	dec.Path = PathModelOnly
	return s.answerModelOnly(ctx, query, dec)
}

// answerFromRetrieval serves retrieval-only runtimes: no planning, no tools.
func (s *Supervisor) answerFromRetrieval(ctx context.Context, query string, dec *Decision, log logrus.FieldLogger) *Response {
	sources := s.retrieve(ctx, query, log)
	dec.RagHit = len(sources) > 0
	if !dec.RagHit {
		dec.Path = PathModelOnly
		dec.reason("retrieval_empty")
		return s.answerModelOnly(ctx, query, dec)
	}
	dec.Path = PathRetrievalModel
	return s.answerWithSources(ctx, query, dec, sources)
}

func (s *Supervisor) retrieve(ctx context.Context, query string, log logrus.FieldLogger) []Source {
	if s.retriever == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	sources, err := s.retriever.Query(ctx, query, s.cfg.RetrievalTopK)
	if err != nil {
		// retrieval failure is equivalent to zero hits
		log.WithError(err).Debug("retrieval failed")
		return nil
	}
	return sources
}

// executeTools invokes the tool executor. Execution failure is treated the
// same as "no tools invoked" for policy purposes and is never re-thrown.
func (s *Supervisor) executeTools(ctx context.Context, query, sessionID string, includeRetrieval bool, log logrus.FieldLogger) *ExecResult {
	if s.executor == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()
	exec, err := s.executor.Execute(ctx, query, ExecOptions{
		SessionID:        sessionID,
		IncludeRetrieval: includeRetrieval,
		MaxIterations:    s.cfg.MaxIterations,
	})
	if err != nil {
		log.WithError(err).Debug("tool execution failed")
		return nil
	}
	return exec
}

// synthesize formats a tool-grounded answer through the evidence
// synthesizer. Output is always produced; a formatter failure falls back to
// the heuristic renderer.
func (s *Supervisor) synthesize(ctx context.Context, query, answer string, dec *Decision, sources []Source) *Response {
	summary, primary := s.synth.Synthesize(ctx, synthesis.Input{
		Query:    query,
		Answer:   answer,
		Evidence: s.evidenceBySource(dec.ToolsUsed, sources),
	})
	s.metrics.RecordSynthesis(primary)
	if !primary {
		dec.reason("synthesis_fallback")
	}
	return &Response{Answer: synthesis.Render(summary), Decision: dec}
}

// evidenceBySource groups evidence by domain: invoked tool names under
// their owning domain, retrieved fragments under rag.
func (s *Supervisor) evidenceBySource(tools []string, sources []Source) map[string][]string {
	evidence := make(map[string][]string)
	for _, tool := range tools {
		if strings.HasPrefix(tool, policy.TransferPrefix) {
			continue
		}
		label := "tools"
		if domain, ok := s.catalog.DomainFor(tool); ok {
			label = string(domain)
		}
		evidence[label] = append(evidence[label], tool)
	}
	for _, src := range sources {
		evidence[string(planner.DomainRAG)] = append(evidence[string(planner.DomainRAG)], snippet(src.Content))
	}
	if len(evidence) == 0 {
		return nil
	}
	return evidence
}

func (s *Supervisor) answerWithSources(ctx context.Context, query string, dec *Decision, sources []Source) *Response {
	if s.caller == nil || s.cfg.AnswerModel == "" {
		dec.reason("no_answer_model")
		return &Response{Answer: apologyGeneric, Decision: dec}
	}
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below. If the context is insufficient, say so.\n\nContext:\n")
	for _, src := range sources {
		sb.WriteString("- ")
		sb.WriteString(snippet(src.Content))
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion:\n")
	sb.WriteString(query)

	resp, err := s.caller.Complete(ctx, s.cfg.AnswerModel, sb.String())
	if err != nil {
		dec.reason("answer_model_failed")
		return &Response{Answer: apologyGeneric, Decision: dec}
	}
	return &Response{Answer: resp.Text(), Decision: dec}
}

func (s *Supervisor) answerModelOnly(ctx context.Context, query string, dec *Decision) *Response {
	if s.caller == nil || s.cfg.AnswerModel == "" {
		dec.reason("no_answer_model")
		return &Response{Answer: apologyGeneric, Decision: dec}
	}
	prompt := "Answer from general knowledge. Do not state facts about the user's workspace data (issues, pull requests, pages, events); you have no evidence for them.\n\nQuestion:\n" + query
	resp, err := s.caller.Complete(ctx, s.cfg.AnswerModel, prompt)
	if err != nil {
		dec.reason("answer_model_failed")
		return &Response{Answer: apologyGeneric, Decision: dec}
	}
	return &Response{Answer: resp.Text(), Decision: dec}
}

// routedQuery restates the query with the selected domains and the
// grounding requirement spelled out for the executor.
func routedQuery(query string, plan planner.Plan) string {
	domains := plan.ToolBackedDomains()
	if len(domains) == 0 {
		return query
	}
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = string(d)
	}
	return fmt.Sprintf("Use the following domains to answer: %s. Ground every factual claim in a tool call: no tool call, no factual claim.\n\n%s",
		strings.Join(names, ", "), query)
}

func clarificationQuestion(plan planner.Plan) string {
	if len(plan.Domains) == 0 {
		return "I'm not sure where to look for that. Could you rephrase the question, or mention which system it concerns (issues, code, wiki pages, calendar, or uploaded documents)?"
	}
	names := make([]string, len(plan.Domains))
	for i, d := range plan.Domains {
		names[i] = string(d)
	}
	return fmt.Sprintf("I want to make sure I look in the right place. Is this about %s? A bit more detail would help me answer accurately.",
		strings.Join(names, " or "))
}

// meaningfulTools reports whether any non-transfer tool was invoked.
func meaningfulTools(invoked []string) bool {
	for _, tool := range invoked {
		tool = strings.TrimSpace(tool)
		if tool != "" && !strings.HasPrefix(tool, policy.TransferPrefix) {
			return true
		}
	}
	return false
}

func hasViolation(r policy.Result, rule string) bool {
	for _, v := range r.Violations {
		if v == rule || strings.HasPrefix(v, rule+":") {
			return true
		}
	}
	return false
}

// InvokedToolDomains returns the domains evidenced by the invoked tools.
func (d *Decision) InvokedToolDomains() []planner.Domain {
	return d.Policy.InvokedDomains
}

func snippet(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
