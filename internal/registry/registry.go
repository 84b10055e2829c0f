// Package registry indexes finished calls (summary and issues) in a kv
// store and tracks the sessions that are still running.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/infra/kv"
)

var ErrUnknownCall = errors.New("registry: unknown call")

// Summary is the durable record of one finished call.
type Summary struct {
	CallID      string            `json:"call_id" msgpack:"call_id"`
	ScenarioID  string            `json:"scenario_id" msgpack:"scenario_id"`
	Scenario    string            `json:"scenario" msgpack:"scenario"`
	Status      agent.CallStatus  `json:"status" msgpack:"status"`
	EndReason   string            `json:"end_reason" msgpack:"end_reason"`
	GoalReached bool              `json:"goal_reached" msgpack:"goal_reached"`
	StartedAt   time.Time         `json:"started_at" msgpack:"started_at"`
	Duration    time.Duration     `json:"duration" msgpack:"duration"`
	Issues      int               `json:"issues" msgpack:"issues"`
	Artifacts   map[string]string `json:"artifacts,omitempty" msgpack:"artifacts,omitempty"`
}

// Live is the read-only view of a running session.
type Live interface {
	CallID() string
	Status() agent.Status
}

type Registry struct {
	store kv.Store

	mu   sync.RWMutex
	live map[string]Live
}

func New(store kv.Store) *Registry {
	return &Registry{store: store, live: map[string]Live{}}
}

func summaryKey(id string) kv.Key { return kv.Key{"calls", id, "summary"} }
func issuesKey(id string) kv.Key  { return kv.Key{"calls", id, "issues"} }

// Track registers a running session until the returned func is called.
func (r *Registry) Track(s Live) (untrack func()) {
	id := s.CallID()
	r.mu.Lock()
	r.live[id] = s
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.live, id)
		r.mu.Unlock()
	}
}

// LiveStatus returns the snapshot of a running call.
func (r *Registry) LiveStatus(id string) (agent.Status, bool) {
	r.mu.RLock()
	s, ok := r.live[id]
	r.mu.RUnlock()
	if !ok {
		return agent.Status{}, false
	}
	return s.Status(), true
}

// LiveCalls returns snapshots of every running call ordered by call id.
func (r *Registry) LiveCalls() []agent.Status {
	r.mu.RLock()
	out := make([]agent.Status, 0, len(r.live))
	for _, s := range r.live {
		out = append(out, s.Status())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out
}

// Save writes a finished call's summary and issues in one batch.
func (r *Registry) Save(ctx context.Context, s Summary, issues []analyzer.Issue) error {
	s.Issues = len(issues)
	sum, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("registry: encode summary: %w", err)
	}
	if issues == nil {
		issues = []analyzer.Issue{}
	}
	iss, err := msgpack.Marshal(issues)
	if err != nil {
		return fmt.Errorf("registry: encode issues: %w", err)
	}
	return r.store.BatchSet(ctx, []kv.Entry{
		{Key: summaryKey(s.CallID), Value: sum},
		{Key: issuesKey(s.CallID), Value: iss},
	})
}

func (r *Registry) Summary(ctx context.Context, id string) (Summary, error) {
	var s Summary
	b, err := r.store.Get(ctx, summaryKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return s, fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if err != nil {
		return s, err
	}
	err = msgpack.Unmarshal(b, &s)
	return s, err
}

func (r *Registry) Issues(ctx context.Context, id string) ([]analyzer.Issue, error) {
	b, err := r.store.Get(ctx, issuesKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if err != nil {
		return nil, err
	}
	var issues []analyzer.Issue
	err = msgpack.Unmarshal(b, &issues)
	return issues, err
}

// Summaries lists every finished call in call id order.
func (r *Registry) Summaries(ctx context.Context) ([]Summary, error) {
	var out []Summary
	for e, err := range r.store.List(ctx, kv.Key{"calls"}) {
		if err != nil {
			return nil, err
		}
		if len(e.Key) != 3 || e.Key[2] != "summary" {
			continue
		}
		var s Summary
		if err := msgpack.Unmarshal(e.Value, &s); err != nil {
			return nil, fmt.Errorf("registry: decode %s: %w", e.Key, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// AllIssues returns the issues of every finished call keyed by call id.
func (r *Registry) AllIssues(ctx context.Context) (map[string][]analyzer.Issue, error) {
	out := map[string][]analyzer.Issue{}
	for e, err := range r.store.List(ctx, kv.Key{"calls"}) {
		if err != nil {
			return nil, err
		}
		if len(e.Key) != 3 || e.Key[2] != "issues" {
			continue
		}
		var issues []analyzer.Issue
		if err := msgpack.Unmarshal(e.Value, &issues); err != nil {
			return nil, fmt.Errorf("registry: decode %s: %w", e.Key, err)
		}
		out[e.Key[1]] = issues
	}
	return out, nil
}

// Report recomputes the bug report from everything indexed so far.
func (r *Registry) Report(ctx context.Context) (analyzer.BugReport, error) {
	all, err := r.AllIssues(ctx)
	if err != nil {
		return analyzer.BugReport{}, err
	}
	return analyzer.Aggregate(all), nil
}
