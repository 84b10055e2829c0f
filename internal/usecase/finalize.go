package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
	"github.com/chadiek/hospital-callbot/internal/recorder"
	"github.com/chadiek/hospital-callbot/internal/registry"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// Artifact names under each call's key prefix.
const (
	TranscriptJSON = "transcript.json"
	TranscriptText = "transcript.txt"
	EventsJSON     = "events.json"
	IssuesJSON     = "issues.json"
	BugReportMD    = "bug_report.md"
)

type artifact struct {
	name, contentType string
	data              []byte
}

func render(name, contentType string, write func(io.Writer) error) (artifact, error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return artifact{}, fmt.Errorf("render %s: %w", name, err)
	}
	return artifact{name: name, contentType: contentType, data: buf.Bytes()}, nil
}

// finalize turns a finished session into stored artifacts and an index
// entry. A failed artifact does not stop the others; all errors are joined.
func (c *Calls) finalize(ctx context.Context, sc scenario.Scenario, res agent.Result, logger *slog.Logger) (Outcome, error) {
	st := res.Status
	var errs []error

	rec, err := recorder.Load(c.cfg.RecordingDir, st.CallID)
	if err != nil {
		errs = append(errs, err)
	}
	if rec.Torn > 0 {
		logger.Warn("frame log ended in a partial record", "logs", rec.Torn)
	}
	tracks, err := recorder.Render(recorder.Align(rec.Inbound, rec.Outbound, rec.Segments))
	if err != nil {
		errs = append(errs, err)
	}

	t := transcript.Assemble(res.Utterances)
	issues := analyzer.Analyze(analyzer.CallInput{
		CallID:      st.CallID,
		Goal:        sc.Goal,
		Status:      st.Status,
		EndReason:   st.EndReason,
		GoalReached: st.GoalReached,
		Duration:    res.Duration,
		Transcript:  t,
		Events:      res.Events,
		Outbound:    rec.Outbound,
	}, c.cfg.Thresholds)
	issues = append(issues, c.ad.Reviewer.Review(ctx, st.CallID, sc.Goal, t)...)

	doc := transcript.NewDocument(st.CallID, transcript.ScenarioRef{ID: sc.ID, Name: sc.Name, Goal: sc.Goal},
		string(st.Status), st.EndReason, st.GoalReached, st.StartedAt, res.Duration, t)
	var arts []artifact
	for _, r := range []struct {
		name, ctype string
		write       func(io.Writer) error
	}{
		{TranscriptJSON, "application/json", doc.WriteJSON},
		{TranscriptText, "text/plain; charset=utf-8", doc.RenderText},
		{EventsJSON, "application/json", func(w io.Writer) error { return agent.WriteJSON(w, res.Events) }},
		{IssuesJSON, "application/json", func(w io.Writer) error { return analyzer.WriteJSON(w, issues) }},
	} {
		a, err := render(r.name, r.ctype, r.write)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		arts = append(arts, a)
	}
	for _, tr := range tracks {
		arts = append(arts, artifact{name: tr.Name, contentType: "audio/wav", data: tr.Data})
	}

	keys := make(map[string]string, len(arts))
	for _, a := range arts {
		key := storage.CallKey(st.CallID, a.name)
		if err := c.store.Put(ctx, key, a.contentType, a.data); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", a.name, err))
			continue
		}
		keys[a.name] = key
	}

	sum := registry.Summary{
		CallID:      st.CallID,
		ScenarioID:  sc.ID,
		Scenario:    sc.Name,
		Status:      st.Status,
		EndReason:   st.EndReason,
		GoalReached: st.GoalReached,
		StartedAt:   st.StartedAt,
		Duration:    res.Duration,
		Artifacts:   keys,
	}
	if err := c.registry.Save(ctx, sum, issues); err != nil {
		errs = append(errs, err)
	}
	sum.Issues = len(issues)

	err = errors.Join(errs...)
	if err != nil {
		logger.Error("finalization incomplete", "err", err)
	}
	return Outcome{Summary: sum, Issues: issues}, err
}

// PublishReport recomputes the bug report from the index and stores it as
// bug_report.md.
func PublishReport(ctx context.Context, reg *registry.Registry, store storage.Store) (analyzer.BugReport, error) {
	rep, err := reg.Report(ctx)
	if err != nil {
		return rep, err
	}
	var buf bytes.Buffer
	if err := analyzer.RenderMarkdown(&buf, rep); err != nil {
		return rep, err
	}
	return rep, store.Put(ctx, BugReportMD, "text/markdown; charset=utf-8", buf.Bytes())
}
