package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chadiek/hospital-callbot/internal/callerr"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

const (
	// FallbackLine is spoken when the model does not answer in time.
	FallbackLine = "Sorry, can you repeat that?"
	closingLine  = "Okay, thank you for your help. Goodbye."
)

// Reply is the patient's next line.
type Reply struct {
	Text string
	// EndCall asks the session to hang up once Text has been spoken.
	EndCall bool
	// GoalReached is set when the model signalled the goal is done.
	GoalReached bool
	// Fallback is set when Text is the scripted timeout line.
	Fallback bool
}

// GeneratorConfig tunes a Generator.
type GeneratorConfig struct {
	// Timeout bounds one Next call, retries included.
	Timeout time.Duration
	// HistoryWindow is how many trailing utterances are sent; zero sends all.
	HistoryWindow int
	Retry         callerr.Policy
	Logger        *slog.Logger
}

// Generator keeps no per-call state: Next depends only on its arguments.
type Generator struct {
	c   Completer
	cfg GeneratorConfig
}

func NewGenerator(c Completer, cfg GeneratorConfig) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = callerr.DefaultPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{c: c, cfg: cfg}
}

// Next returns what the patient says next. nudge is set when the hospital
// side has been silent past the inactivity window.
func (g *Generator) Next(ctx context.Context, sc scenario.Scenario, t transcript.Transcript, nudge bool) (Reply, error) {
	if sc.MaxTurns > 0 && len(t.By(transcript.Patient)) >= sc.MaxTurns {
		return Reply{Text: closingLine, EndCall: true}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	msgs := Messages(sc, t, g.cfg.HistoryWindow, nudge)
	var answer string
	err := callerr.Retry(tctx, g.cfg.Retry, "llm", "complete", func(ctx context.Context) error {
		out, err := g.c.Complete(ctx, msgs)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty completion")
		}
		answer = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		if tctx.Err() != nil {
			g.cfg.Logger.Warn("llm: response ceiling hit, using fallback", "timeout", g.cfg.Timeout)
			return Reply{Text: FallbackLine, Fallback: true}, nil
		}
		return Reply{}, err
	}

	r := parseReply(answer)
	if sc.MaxTurns > 0 && len(t.By(transcript.Patient))+1 >= sc.MaxTurns {
		r.EndCall = true
	}
	return r, nil
}

func parseReply(answer string) Reply {
	var r Reply
	if i := strings.Index(answer, EndCallMarker); i >= 0 {
		r.EndCall = true
		r.GoalReached = true
		answer = answer[:i] + answer[i+len(EndCallMarker):]
	}
	r.Text = strings.Join(strings.Fields(answer), " ")
	return r
}
