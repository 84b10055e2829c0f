package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
	"github.com/chadiek/hospital-callbot/internal/registry"
	"github.com/chadiek/hospital-callbot/internal/scenario"
)

type BatchConfig struct {
	To      string
	BaseURL string
	// Parallel bounds concurrent calls. One target number usually means 1.
	Parallel int
	// Pause separates consecutive dials.
	Pause time.Duration
	// Poll is how often Twilio is asked about a call that has not finished.
	Poll time.Duration
	// CallTimeout bounds one call from dial to finalization.
	CallTimeout time.Duration
	// Settle is how long to wait for finalization after a forced hangup.
	Settle time.Duration
	Logger *slog.Logger
}

func (c *BatchConfig) defaults() {
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
	if c.Poll <= 0 {
		c.Poll = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 11 * time.Minute
	}
	if c.Settle <= 0 {
		c.Settle = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Batch dials a list of scenarios and reports on the lot.
type Batch struct {
	calls    *Calls
	dialer   Dialer
	registry *registry.Registry
	store    storage.Store
	cfg      BatchConfig
	log      *slog.Logger
}

func NewBatch(calls *Calls, dialer Dialer, reg *registry.Registry, store storage.Store, cfg BatchConfig) *Batch {
	cfg.defaults()
	return &Batch{calls: calls, dialer: dialer, registry: reg, store: store, cfg: cfg, log: cfg.Logger.With("component", "batch")}
}

// BatchResult lists outcomes in scenario order plus the recomputed report.
type BatchResult struct {
	Outcomes []Outcome
	Report   analyzer.BugReport
}

// Run places one call per scenario and publishes the bug report once every
// call has finished or timed out.
func (b *Batch) Run(ctx context.Context, scenarios []scenario.Scenario) (BatchResult, error) {
	outcomes := make([]Outcome, len(scenarios))
	sem := make(chan struct{}, b.cfg.Parallel)
	var wg sync.WaitGroup

dispatch:
	for i, sc := range scenarios {
		if i > 0 && b.cfg.Pause > 0 {
			select {
			case <-time.After(b.cfg.Pause):
			case <-ctx.Done():
				break dispatch
			}
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		wg.Add(1)
		go func(i int, sc scenario.Scenario) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = b.one(ctx, sc)
		}(i, sc)
	}
	wg.Wait()

	res := BatchResult{Outcomes: outcomes}
	rep, err := PublishReport(context.WithoutCancel(ctx), b.registry, b.store)
	res.Report = rep
	if err != nil {
		return res, fmt.Errorf("publish report: %w", err)
	}
	b.log.Info("batch finished", "calls", len(scenarios), "issues", rep.Total)
	return res, ctx.Err()
}

func (b *Batch) one(ctx context.Context, sc scenario.Scenario) Outcome {
	callID := uuid.NewString()
	logger := b.log.With("call_id", callID, "scenario", sc.ID)
	done := b.calls.Expect(callID)

	voice, status := CallbackURLs(b.cfg.BaseURL, sc.ID, callID)
	sid, err := b.dialer.Dial(ctx, DialRequest{To: b.cfg.To, VoiceURL: voice, StatusURL: status})
	if err != nil {
		b.calls.Forget(callID)
		logger.Error("dial failed", "err", err)
		return b.failed(ctx, callID, sc, err)
	}
	logger = logger.With("call_sid", sid)

	timeout := time.NewTimer(b.cfg.CallTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(b.cfg.Poll)
	defer poll.Stop()
	for {
		select {
		case out := <-done:
			return out
		case <-poll.C:
			st, err := b.dialer.Status(ctx, sid)
			if err != nil {
				logger.Warn("status poll failed", "err", err)
				continue
			}
			// busy, no-answer and friends never open a media stream.
			if TerminalStatus(st) && st != "completed" {
				b.calls.Forget(callID)
				logger.Warn("call did not connect", "status", st)
				return b.failed(ctx, callID, sc, fmt.Errorf("call %s: %s", sid, st))
			}
		case <-timeout.C:
			logger.Warn("call exceeded its timeout, hanging up")
			return b.abandon(ctx, callID, sid, sc, done, errors.New("call timed out"))
		case <-ctx.Done():
			return b.abandon(ctx, callID, sid, sc, done, ctx.Err())
		}
	}
}

// abandon hangs up and gives the session a moment to finalize.
func (b *Batch) abandon(ctx context.Context, callID, sid string, sc scenario.Scenario, done <-chan Outcome, cause error) Outcome {
	if err := b.dialer.Hangup(context.WithoutCancel(ctx), sid); err != nil {
		b.log.Warn("hangup failed", "call_id", callID, "err", err)
	}
	select {
	case out := <-done:
		return out
	case <-time.After(b.cfg.Settle):
		b.calls.Forget(callID)
		return b.failed(ctx, callID, sc, cause)
	}
}

// failed indexes a call that never produced a session, so the report still
// counts it.
func (b *Batch) failed(ctx context.Context, callID string, sc scenario.Scenario, cause error) Outcome {
	issue := analyzer.Issue{
		ID:          callID + "-" + string(analyzer.GoalNotCompleted) + "-01",
		CallID:      callID,
		Kind:        analyzer.GoalNotCompleted,
		Severity:    analyzer.High,
		Quote:       sc.Goal,
		Description: "call never connected: " + cause.Error(),
	}
	sum := registry.Summary{
		CallID:     callID,
		ScenarioID: sc.ID,
		Scenario:   sc.Name,
		Status:     agent.Failed,
		EndReason:  "dial_failure",
		StartedAt:  time.Now().UTC(),
	}
	if err := b.registry.Save(context.WithoutCancel(ctx), sum, []analyzer.Issue{issue}); err != nil {
		b.log.Error("indexing failed call", "call_id", callID, "err", err)
	}
	sum.Issues = 1
	return Outcome{CallID: callID, Summary: sum, Issues: []analyzer.Issue{issue}, Err: cause}
}
