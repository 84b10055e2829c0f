package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/infra/kv"
)

type fakeLive struct {
	id    string
	state string
}

func (f fakeLive) CallID() string { return f.id }
func (f fakeLive) Status() agent.Status {
	return agent.Status{CallID: f.id, State: f.state, Status: agent.InProgress}
}

func TestRegistry_SaveAndReport(t *testing.T) {
	ctx := context.Background()
	r := New(kv.NewMemory())

	issues := []analyzer.Issue{
		{ID: "a-1", CallID: "a", Kind: analyzer.SilenceStall, Severity: analyzer.Medium, Start: time.Second},
		{ID: "a-2", CallID: "a", Kind: analyzer.GoalNotCompleted, Severity: analyzer.High},
	}
	if err := r.Save(ctx, Summary{CallID: "a", ScenarioID: "refill", Status: agent.Completed, Duration: 90 * time.Second}, issues); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, Summary{CallID: "b", Status: agent.Completed, GoalReached: true}, nil); err != nil {
		t.Fatal(err)
	}

	s, err := r.Summary(ctx, "a")
	if err != nil || s.Issues != 2 || s.Duration != 90*time.Second || s.ScenarioID != "refill" {
		t.Fatalf("summary = %+v, %v", s, err)
	}
	got, err := r.Issues(ctx, "a")
	if err != nil || len(got) != 2 || got[0].Start != time.Second || got[1].Kind != analyzer.GoalNotCompleted {
		t.Fatalf("issues = %+v, %v", got, err)
	}
	if none, err := r.Issues(ctx, "b"); err != nil || len(none) != 0 {
		t.Fatalf("issues b = %v, %v", none, err)
	}

	all, err := r.Summaries(ctx)
	if err != nil || len(all) != 2 || all[0].CallID != "a" || all[1].CallID != "b" {
		t.Fatalf("summaries = %+v, %v", all, err)
	}
	rep, err := r.Report(ctx)
	if err != nil || rep.Calls != 2 || rep.Total != 2 || rep.BySeverity[analyzer.High] != 1 {
		t.Fatalf("report = %+v, %v", rep, err)
	}

	if _, err := r.Summary(ctx, "zzz"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("unknown call err = %v", err)
	}
}

func TestRegistry_Live(t *testing.T) {
	r := New(kv.NewMemory())
	untrack := r.Track(fakeLive{id: "x", state: "LISTENING"})
	r.Track(fakeLive{id: "a", state: "IDLE"})

	st, ok := r.LiveStatus("x")
	if !ok || st.State != "LISTENING" {
		t.Fatalf("live = %+v, %v", st, ok)
	}
	if calls := r.LiveCalls(); len(calls) != 2 || calls[0].CallID != "a" {
		t.Fatalf("live calls = %+v", calls)
	}
	untrack()
	if _, ok := r.LiveStatus("x"); ok {
		t.Fatal("untracked call still live")
	}
}
