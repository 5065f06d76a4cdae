// Package metrics accumulates per-process counters for the decision layer
// and evaluates them against configured success gates.
package metrics

import (
	"sync/atomic"

	"github.com/zen-systems/taskflow/pkg/rollout"
)

// Gates holds the configured success-gate thresholds.
type Gates struct {
	DomainSelectionAccuracyMin float64 `yaml:"domain_selection_accuracy_min" json:"domain_selection_accuracy_min"`
	UnwantedRAGRateMax         float64 `yaml:"unwanted_rag_rate_max" json:"unwanted_rag_rate_max"`
	ToolGroundedRateMin        float64 `yaml:"tool_grounded_rate_min" json:"tool_grounded_rate_min"`
	SynthesisUsefulnessMin     float64 `yaml:"synthesis_usefulness_min" json:"synthesis_usefulness_min"`
}

// Engine owns the process-wide counters. All methods are safe for
// concurrent use; counters only reset on process restart.
type Engine struct {
	gates Gates

	total        atomic.Int64
	modeOff      atomic.Int64
	modeShadow   atomic.Int64
	modeEnforced atomic.Int64

	toolGroundedRequired atomic.Int64
	toolGroundedMet      atomic.Int64
	disallowedRAG        atomic.Int64
	lowConfidence        atomic.Int64
	planFallbacks        atomic.Int64

	validationsChecked atomic.Int64
	validationsClean   atomic.Int64

	synthesisPrimary  atomic.Int64
	synthesisFallback atomic.Int64
}

// NewEngine creates an Engine with the given gate thresholds.
func NewEngine(gates Gates) *Engine {
	return &Engine{gates: gates}
}

// RecordQuery counts one request in the given rollout mode.
func (e *Engine) RecordQuery(mode rollout.Mode) {
	e.total.Add(1)
	switch mode {
	case rollout.ModeShadow:
		e.modeShadow.Add(1)
	case rollout.ModeEnforced:
		e.modeEnforced.Add(1)
	default:
		e.modeOff.Add(1)
	}
}

// RecordToolGrounding counts a request that required tool evidence and
// whether the requirement was met.
func (e *Engine) RecordToolGrounding(met bool) {
	e.toolGroundedRequired.Add(1)
	if met {
		e.toolGroundedMet.Add(1)
	}
}

// RecordDisallowedRetrieval counts a retrieval invocation the plan forbade.
func (e *Engine) RecordDisallowedRetrieval() {
	e.disallowedRAG.Add(1)
}

// RecordClarification counts a low-confidence clarification response.
func (e *Engine) RecordClarification() {
	e.lowConfidence.Add(1)
}

// RecordPlanFallback counts a classification that fell back to the fixed plan.
func (e *Engine) RecordPlanFallback() {
	e.planFallbacks.Add(1)
}

// RecordValidation counts one policy validation and whether it was clean.
func (e *Engine) RecordValidation(clean bool) {
	e.validationsChecked.Add(1)
	if clean {
		e.validationsClean.Add(1)
	}
}

// RecordSynthesis counts one summary render; primary is false when the
// heuristic fallback produced it.
func (e *Engine) RecordSynthesis(primary bool) {
	if primary {
		e.synthesisPrimary.Add(1)
	} else {
		e.synthesisFallback.Add(1)
	}
}

// Counters is a point-in-time copy of the raw counters.
type Counters struct {
	TotalQueries         int64 `json:"total_queries"`
	ModeOff              int64 `json:"mode_off"`
	ModeShadow           int64 `json:"mode_shadow"`
	ModeEnforced         int64 `json:"mode_enforced"`
	ToolGroundedRequired int64 `json:"tool_grounded_required"`
	ToolGroundedMet      int64 `json:"tool_grounded_met"`
	DisallowedRAG        int64 `json:"disallowed_rag_invocations"`
	LowConfidence        int64 `json:"low_confidence_clarifications"`
	PlanFallbacks        int64 `json:"plan_fallbacks"`
	ValidationsChecked   int64 `json:"validations_checked"`
	ValidationsClean     int64 `json:"validations_clean"`
	SynthesisPrimary     int64 `json:"synthesis_primary"`
	SynthesisFallback    int64 `json:"synthesis_fallback"`
}

// GateRuntime holds the rates derived from the counters. A rate with no
// observations is reported as -1 and does not fail its gate.
type GateRuntime struct {
	DomainSelectionAccuracy float64 `json:"domain_selection_accuracy"`
	UnwantedRAGRate         float64 `json:"unwanted_rag_rate"`
	ToolGroundedRate        float64 `json:"tool_grounded_rate"`
	SynthesisUsefulness     float64 `json:"synthesis_usefulness"`
}

// SuccessGates pairs thresholds with runtime values and the overall verdict.
type SuccessGates struct {
	Thresholds Gates       `json:"thresholds"`
	Runtime    GateRuntime `json:"runtime"`
	Pass       bool        `json:"pass"`
}

// Snapshot is the read-only metrics view returned to callers.
type Snapshot struct {
	Counters     Counters     `json:"counters"`
	SuccessGates SuccessGates `json:"success_gates"`
}

// Snapshot computes the current counters and success-gate verdict. It never
// blocks on I/O.
func (e *Engine) Snapshot() Snapshot {
	c := Counters{
		TotalQueries:         e.total.Load(),
		ModeOff:              e.modeOff.Load(),
		ModeShadow:           e.modeShadow.Load(),
		ModeEnforced:         e.modeEnforced.Load(),
		ToolGroundedRequired: e.toolGroundedRequired.Load(),
		ToolGroundedMet:      e.toolGroundedMet.Load(),
		DisallowedRAG:        e.disallowedRAG.Load(),
		LowConfidence:        e.lowConfidence.Load(),
		PlanFallbacks:        e.planFallbacks.Load(),
		ValidationsChecked:   e.validationsChecked.Load(),
		ValidationsClean:     e.validationsClean.Load(),
		SynthesisPrimary:     e.synthesisPrimary.Load(),
		SynthesisFallback:    e.synthesisFallback.Load(),
	}

	runtime := GateRuntime{
		DomainSelectionAccuracy: ratio(c.ValidationsClean, c.ValidationsChecked),
		UnwantedRAGRate:         ratio(c.DisallowedRAG, c.TotalQueries),
		ToolGroundedRate:        ratio(c.ToolGroundedMet, c.ToolGroundedRequired),
		SynthesisUsefulness:     ratio(c.SynthesisPrimary, c.SynthesisPrimary+c.SynthesisFallback),
	}

	pass := gateAtLeast(runtime.DomainSelectionAccuracy, e.gates.DomainSelectionAccuracyMin) &&
		gateAtMost(runtime.UnwantedRAGRate, e.gates.UnwantedRAGRateMax) &&
		gateAtLeast(runtime.ToolGroundedRate, e.gates.ToolGroundedRateMin) &&
		gateAtLeast(runtime.SynthesisUsefulness, e.gates.SynthesisUsefulnessMin)

	return Snapshot{
		Counters: c,
		SuccessGates: SuccessGates{
			Thresholds: e.gates,
			Runtime:    runtime,
			Pass:       pass,
		},
	}
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return -1
	}
	return float64(num) / float64(den)
}

func gateAtLeast(value, min float64) bool {
	if value < 0 {
		return true
	}
	return value >= min
}

func gateAtMost(value, max float64) bool {
	if value < 0 {
		return true
	}
	return value <= max
}
