package metrics

import (
	"sync"
	"testing"

	"github.com/zen-systems/taskflow/pkg/rollout"
)

func TestSnapshotCounters(t *testing.T) {
	e := NewEngine(Gates{})

	e.RecordQuery(rollout.ModeEnforced)
	e.RecordQuery(rollout.ModeEnforced)
	e.RecordQuery(rollout.ModeShadow)
	e.RecordQuery(rollout.ModeOff)
	e.RecordToolGrounding(true)
	e.RecordToolGrounding(false)
	e.RecordDisallowedRetrieval()
	e.RecordClarification()
	e.RecordPlanFallback()

	c := e.Snapshot().Counters
	if c.TotalQueries != 4 || c.ModeEnforced != 2 || c.ModeShadow != 1 || c.ModeOff != 1 {
		t.Fatalf("unexpected mode counters: %+v", c)
	}
	if c.ToolGroundedRequired != 2 || c.ToolGroundedMet != 1 {
		t.Fatalf("unexpected grounding counters: %+v", c)
	}
	if c.DisallowedRAG != 1 || c.LowConfidence != 1 || c.PlanFallbacks != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestSuccessGatesPass(t *testing.T) {
	e := NewEngine(Gates{
		DomainSelectionAccuracyMin: 0.8,
		UnwantedRAGRateMax:         0.1,
		ToolGroundedRateMin:        0.9,
		SynthesisUsefulnessMin:     0.5,
	})

	for i := 0; i < 10; i++ {
		e.RecordQuery(rollout.ModeEnforced)
		e.RecordToolGrounding(true)
		e.RecordValidation(i != 0) // 9/10 clean
		e.RecordSynthesis(true)
	}

	gates := e.Snapshot().SuccessGates
	if !gates.Pass {
		t.Fatalf("expected gates to pass: %+v", gates.Runtime)
	}
	if gates.Runtime.DomainSelectionAccuracy != 0.9 {
		t.Fatalf("unexpected accuracy: %v", gates.Runtime.DomainSelectionAccuracy)
	}
}

func TestSuccessGatesFailOnUnwantedRAG(t *testing.T) {
	e := NewEngine(Gates{UnwantedRAGRateMax: 0.1})

	for i := 0; i < 4; i++ {
		e.RecordQuery(rollout.ModeEnforced)
	}
	e.RecordDisallowedRetrieval() // rate 0.25 > 0.1

	if e.Snapshot().SuccessGates.Pass {
		t.Fatalf("expected gate failure")
	}
}

func TestSuccessGatesPassWithoutObservations(t *testing.T) {
	e := NewEngine(Gates{
		DomainSelectionAccuracyMin: 0.99,
		ToolGroundedRateMin:        0.99,
		SynthesisUsefulnessMin:     0.99,
	})
	snap := e.Snapshot()
	if !snap.SuccessGates.Pass {
		t.Fatalf("gates with no data must not fail: %+v", snap.SuccessGates.Runtime)
	}
	if snap.SuccessGates.Runtime.ToolGroundedRate != -1 {
		t.Fatalf("expected -1 for empty rate, got %v", snap.SuccessGates.Runtime.ToolGroundedRate)
	}
}

func TestConcurrentRecording(t *testing.T) {
	e := NewEngine(Gates{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				e.RecordQuery(rollout.ModeEnforced)
				e.RecordToolGrounding(j%2 == 0)
			}
		}()
	}
	wg.Wait()

	c := e.Snapshot().Counters
	if c.TotalQueries != 8000 || c.ToolGroundedRequired != 8000 || c.ToolGroundedMet != 4000 {
		t.Fatalf("lost updates: %+v", c)
	}
}
