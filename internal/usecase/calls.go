// Package usecase runs calls end to end: it wires the per-call pipeline,
// finalizes artifacts once a session ends, places outbound calls and runs
// scenario batches.
package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/bus"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
	"github.com/chadiek/hospital-callbot/internal/media"
	"github.com/chadiek/hospital-callbot/internal/recorder"
	"github.com/chadiek/hospital-callbot/internal/registry"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/stt"
	"github.com/chadiek/hospital-callbot/internal/tts"
)

// Adapters are the external services a call talks to.
type Adapters struct {
	// Recognizer builds a fresh STT adapter per call.
	Recognizer  func(callID string, logger *slog.Logger) stt.Recognizer
	Synthesizer tts.Synthesizer
	Generator   agent.Responder
	// Reviewer is optional.
	Reviewer *analyzer.Reviewer
}

type CallsConfig struct {
	RecordingDir string
	// Session is the template every call's session config is copied from.
	Session    agent.Config
	Thresholds analyzer.Thresholds
	// Validate runs before any per-call resource is allocated.
	Validate func() error
	Logger   *slog.Logger
}

// Outcome is what a finished call left behind.
type Outcome struct {
	CallID  string
	Summary registry.Summary
	Issues  []analyzer.Issue
	Err     error
}

// Transport moves audio between the remote party and b until either side
// is done.
type Transport func(ctx context.Context, b *bus.Bus) error

// Calls owns the lifecycle of every call handled by this process.
type Calls struct {
	cfg      CallsConfig
	ad       Adapters
	catalog  *scenario.Catalog
	registry *registry.Registry
	store    storage.Store
	log      *slog.Logger

	active sync.WaitGroup

	mu      sync.Mutex
	hangups map[string]context.CancelFunc
	waiters map[string]chan Outcome
}

func NewCalls(cfg CallsConfig, ad Adapters, catalog *scenario.Catalog, reg *registry.Registry, store storage.Store) *Calls {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validate == nil {
		cfg.Validate = func() error { return nil }
	}
	return &Calls{
		cfg:      cfg,
		ad:       ad,
		catalog:  catalog,
		registry: reg,
		store:    store,
		log:      cfg.Logger,
		hangups:  map[string]context.CancelFunc{},
		waiters:  map[string]chan Outcome{},
	}
}

// Run executes one call over transport and finalizes it. Configuration
// errors are returned before anything is allocated. The call clock starts
// now, so transport must stamp inbound frames relative to this moment.
func (c *Calls) Run(ctx context.Context, callID string, sc scenario.Scenario, transport Transport) (Outcome, error) {
	return c.run(ctx, callID, sc, time.Now(), transport)
}

// run executes the call on a clock anchored at epoch.
func (c *Calls) run(ctx context.Context, callID string, sc scenario.Scenario, epoch time.Time, transport Transport) (Outcome, error) {
	if err := c.cfg.Validate(); err != nil {
		c.log.Error("refusing call: configuration incomplete", "call_id", callID, "err", err)
		return Outcome{CallID: callID, Err: err}, err
	}
	c.active.Add(1)
	defer c.active.Done()
	logger := c.log.With("call_id", callID, "scenario", sc.ID)

	rec, err := recorder.New(c.cfg.RecordingDir, callID, recorder.Options{Logger: logger})
	if err != nil {
		return Outcome{CallID: callID, Err: err}, err
	}
	b := bus.New(callID, bus.Options{Logger: logger}, rec)

	scfg := c.cfg.Session
	scfg.Logger = logger
	scfg.Epoch = epoch
	sess := agent.NewSession(callID, sc, agent.Deps{
		Bus:         b,
		Recognizer:  c.ad.Recognizer(callID, logger),
		Generator:   c.ad.Generator,
		Synthesizer: c.ad.Synthesizer,
		Segments:    rec,
	}, scfg)
	untrack := c.registry.Track(sess)

	tctx, tcancel := context.WithCancel(ctx)
	terr := make(chan error, 1)
	go func() { terr <- transport(tctx, b) }()

	logger.Info("call started")
	res := sess.Run(ctx)
	tcancel()
	if err := <-terr; err != nil && ctx.Err() == nil {
		logger.Warn("transport ended with error", "err", err)
	}
	if gaps, dropped := b.Stats(); gaps > 0 || dropped > 0 {
		logger.Warn("inbound audio incomplete", "gaps", gaps, "dropped", dropped)
	}
	if err := rec.Close(); err != nil {
		logger.Error("closing recorder", "err", err)
	}
	untrack()

	out, err := c.finalize(context.WithoutCancel(ctx), sc, res, logger)
	out.CallID = callID
	out.Err = err
	logger.Info("call finished", "status", res.Status.Status, "reason", res.Status.EndReason,
		"goal_reached", res.Status.GoalReached, "issues", len(out.Issues))
	c.notify(out)
	return out, err
}

// HandleStream runs the call carried by an accepted media stream. The
// scenario and call id come from the TwiML <Parameter>s; an unknown
// scenario falls back to the first one and a missing call id is minted.
// The call clock is anchored at the stream start, the origin of Twilio's
// media timestamps.
func (c *Calls) HandleStream(ctx context.Context, s *media.Stream) error {
	sc, ok := c.catalog.Get(s.Param("scenario"))
	if !ok {
		sc, _ = c.catalog.At(0)
		c.log.Warn("unknown scenario on stream, using default", "requested", s.Param("scenario"), "scenario", sc.ID)
	}
	callID := s.Param("call_id")
	if callID == "" {
		callID = uuid.NewString()
	}
	sid := s.Start().CallSid
	_, err := c.run(ctx, callID, sc, s.StartedAt(), func(ctx context.Context, b *bus.Bus) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		c.bindHangup(sid, cancel)
		defer c.bindHangup(sid, nil)
		return s.Run(ctx, b)
	})
	return err
}

// Drain waits for every running call to finish finalizing, or for ctx.
func (c *Calls) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var terminalStatuses = map[string]bool{
	"completed": true, "busy": true, "failed": true, "no-answer": true, "canceled": true,
}

// TerminalStatus reports whether a Twilio call status is final.
func TerminalStatus(status string) bool { return terminalStatuses[status] }

// RemoteStatus reacts to a Twilio status callback. A terminal status tears
// down the media stream, which the session sees as a hangup.
func (c *Calls) RemoteStatus(callSid, status string) {
	if !TerminalStatus(status) {
		return
	}
	c.mu.Lock()
	cancel := c.hangups[callSid]
	c.mu.Unlock()
	if cancel != nil {
		c.log.Info("remote call ended", "call_sid", callSid, "status", status)
		cancel()
	}
}

func (c *Calls) bindHangup(sid string, cancel context.CancelFunc) {
	if sid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel == nil {
		delete(c.hangups, sid)
		return
	}
	c.hangups[sid] = cancel
}

// Expect registers interest in callID before it is dialed. The channel
// receives the outcome once the call is finalized.
func (c *Calls) Expect(callID string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	c.mu.Lock()
	c.waiters[callID] = ch
	c.mu.Unlock()
	return ch
}

// Forget drops a registration made with Expect.
func (c *Calls) Forget(callID string) {
	c.mu.Lock()
	delete(c.waiters, callID)
	c.mu.Unlock()
}

func (c *Calls) notify(out Outcome) {
	c.mu.Lock()
	ch, ok := c.waiters[out.CallID]
	delete(c.waiters, out.CallID)
	c.mu.Unlock()
	if ok {
		ch <- out
	}
}
