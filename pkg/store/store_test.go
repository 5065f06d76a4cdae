package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zen-systems/taskflow/pkg/agent"
	"github.com/zen-systems/taskflow/pkg/planner"
	"github.com/zen-systems/taskflow/pkg/rollout"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taskflow.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDecision(requestID string, path agent.Path) *agent.Decision {
	return &agent.Decision{
		RequestID: requestID,
		Path:      path,
		Plan: planner.Plan{
			Domains:      []planner.Domain{planner.DomainJira},
			MustUseTools: true,
			Confidence:   0.9,
		},
		Rollout: rollout.Decision{Mode: rollout.ModeEnforced, Bucket: 12, Enabled: true},
		Reasons: []string{"plan_satisfied"},
	}
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-1", "what is blocking PROJ-12", sampleDecision("req-1", agent.PathToolGrounded)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, "sess-2", "summarize the roadmap", sampleDecision("req-2", agent.PathRetrievalModel)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	records, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RequestID != "req-2" {
		t.Fatalf("expected newest first, got %q", records[0].RequestID)
	}
	if records[1].Path != agent.PathToolGrounded {
		t.Fatalf("unexpected path: %q", records[1].Path)
	}
	if !records[1].Decision.Plan.HasDomain(planner.DomainJira) {
		t.Fatalf("trace round trip lost the plan: %+v", records[1].Decision)
	}
}

func TestListFiltersBySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, "sess-a", "q", sampleDecision("req-a", agent.PathLegacy)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := s.Append(ctx, "sess-b", "q", sampleDecision("req-b", agent.PathLegacy)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	records, err := s.List(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records for sess-a, got %d", len(records))
	}
	for _, rec := range records {
		if rec.SessionID != "sess-a" {
			t.Fatalf("wrong session in results: %q", rec.SessionID)
		}
	}
}

func TestListLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, "sess", "q", sampleDecision("req", agent.PathModelOnly)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	records, err := s.List(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(records))
	}
}
