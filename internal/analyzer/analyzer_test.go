package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/llm"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func utt(id string, sp transcript.Speaker, start, end int, text string) transcript.Utterance {
	return transcript.Utterance{ID: id, CallID: "c", Speaker: sp, Start: ms(start), End: ms(end), Text: text, Status: transcript.StatusFinal}
}

func transition(at int, from, to agent.State, trigger string) agent.Event {
	return agent.Event{At: ms(at), Kind: agent.EventTransition, From: from.String(), To: to.String(), Trigger: trigger}
}

func outFrames(segment uint32, from, n int) []audio.Frame {
	var fs []audio.Frame
	for i := 0; i < n; i++ {
		fs = append(fs, audio.Frame{
			Direction: audio.Outbound,
			Segment:   segment,
			Seq:       uint32(from/20 + i),
			Timestamp: ms(from) + time.Duration(i)*audio.FrameDuration,
			Samples:   audio.Silence(audio.FrameSamples),
		})
	}
	return fs
}

func count(issues []Issue, k Kind) int {
	n := 0
	for _, is := range issues {
		if is.Kind == k {
			n++
		}
	}
	return n
}

// cleanCall is a short call with no defects.
func cleanCall() CallInput {
	return CallInput{
		CallID:      "c",
		Goal:        "schedule",
		Status:      agent.Completed,
		GoalReached: true,
		Duration:    ms(6000),
		Transcript: transcript.Transcript{
			utt("c-a001", transcript.Agent, 0, 2000, "How can I help you?"),
			utt("c-p001", transcript.Patient, 2500, 4000, "I'd like an appointment."),
			utt("c-a002", transcript.Agent, 4500, 6000, "Sure."),
		},
		Events: []agent.Event{
			transition(2000, agent.Listening, agent.Thinking, "c-a001"),
			transition(2500, agent.Thinking, agent.Speaking, "reply"),
		},
	}
}

func TestAnalyze_CleanCallHasNoIssues(t *testing.T) {
	if issues := Analyze(cleanCall(), Thresholds{}); len(issues) != 0 {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestAnalyze_FramesAfterInterruptIsOneIssue(t *testing.T) {
	in := cleanCall()
	in.Events = append(in.Events, agent.Event{At: ms(3000), Kind: agent.EventInterrupt, Segment: 1, Utterance: "c-p001", Trigger: "energy"})
	in.Transcript[1].Status = transcript.StatusAbandoned
	in.Outbound = outFrames(1, 2500, 50) // runs to 3.5s, well past the interrupt

	issues := Analyze(in, Thresholds{})
	if got := count(issues, UnhandledInterruption); got != 1 {
		t.Fatalf("unhandled interruptions = %d, want 1: %+v", got, issues)
	}
	is := issues[0]
	if is.Severity != High || is.Start != ms(3000) || len(is.Evidence.UtteranceIDs) != 1 || is.Evidence.UtteranceIDs[0] != "c-p001" {
		t.Fatalf("issue = %+v", is)
	}
	if is.ID != "c-unhandled_interruption-01" || is.CallID != "c" {
		t.Fatalf("id = %q call = %q", is.ID, is.CallID)
	}
}

func TestAnalyze_QuietAfterInterruptIsFine(t *testing.T) {
	in := cleanCall()
	in.Events = append(in.Events, agent.Event{At: ms(3000), Kind: agent.EventInterrupt, Segment: 1, Utterance: "c-p001"})
	in.Transcript[1].Status = transcript.StatusAbandoned
	in.Outbound = outFrames(1, 2500, 26) // last frame at 3.0s
	if got := count(Analyze(in, Thresholds{}), UnhandledInterruption); got != 0 {
		t.Fatalf("unhandled interruptions = %d", got)
	}
}

func TestAnalyze_TalkingOverAgent(t *testing.T) {
	in := cleanCall()
	in.Transcript = append(in.Transcript, utt("c-a003", transcript.Agent, 3000, 3900, "wait, one moment"))
	in.Transcript = transcript.Assemble(in.Transcript)
	issues := Analyze(in, Thresholds{})
	if got := count(issues, UnhandledInterruption); got != 1 {
		t.Fatalf("unhandled interruptions = %d: %+v", got, issues)
	}
}

func TestAnalyze_Latency(t *testing.T) {
	tests := []struct {
		name  string
		think int
		want  int
		sev   Severity
	}{
		{"under threshold", 2500, 0, ""},
		{"over threshold", 4000, 1, Medium},
		{"twice threshold", 7000, 1, High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cleanCall()
			in.Events = []agent.Event{
				transition(2000, agent.Listening, agent.Thinking, "c-a001"),
				transition(2000+tt.think, agent.Thinking, agent.Speaking, "reply"),
			}
			in.Transcript[1].Start, in.Transcript[1].End = ms(2000+tt.think), ms(2000+tt.think+500)
			in.Transcript[2].Start, in.Transcript[2].End = in.Transcript[1].End, in.Transcript[1].End+ms(500)
			in.Duration = in.Transcript[2].End
			issues := Analyze(in, Thresholds{})
			if got := count(issues, ExcessiveLatency); got != tt.want {
				t.Fatalf("latency issues = %d, want %d", got, tt.want)
			}
			if tt.want == 1 {
				if issues[0].Severity != tt.sev || issues[0].Quote != "How can I help you?" {
					t.Fatalf("issue = %+v", issues[0])
				}
			}
		})
	}
}

func TestAnalyze_SilenceStall(t *testing.T) {
	in := cleanCall()
	in.Duration = ms(20000)
	issues := Analyze(in, Thresholds{})
	if got := count(issues, SilenceStall); got != 1 {
		t.Fatalf("silence stalls = %d", got)
	}
	for _, is := range issues {
		if is.Kind == SilenceStall && (is.Start != ms(6000) || is.End != ms(20000)) {
			t.Fatalf("stall = %v-%v", is.Start, is.End)
		}
	}
}

func TestAnalyze_STTAndGoal(t *testing.T) {
	in := cleanCall()
	in.GoalReached = false
	in.Status = agent.Failed
	in.EndReason = "stt_failure"
	in.Events = append(in.Events, agent.Event{At: ms(5000), Kind: agent.EventSTTError, Error: "socket closed"})
	issues := Analyze(in, Thresholds{})
	if count(issues, STTFailure) != 1 || count(issues, GoalNotCompleted) != 1 {
		t.Fatalf("issues = %+v", issues)
	}
	for _, is := range issues {
		if is.Kind == GoalNotCompleted && is.Severity != High {
			t.Fatalf("failed call goal severity = %s", is.Severity)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	in := cleanCall()
	in.Duration = ms(30000)
	in.GoalReached = false
	a, b := Analyze(in, Thresholds{}), Analyze(in, Thresholds{})
	var ba, bb bytes.Buffer
	_ = WriteJSON(&ba, a)
	_ = WriteJSON(&bb, b)
	if ba.String() != bb.String() {
		t.Fatalf("analysis is not deterministic")
	}
}

func TestAggregate_TotalsMatchPerCall(t *testing.T) {
	perCall := map[string][]Issue{}
	want := 0
	for i := 0; i < 5; i++ {
		in := cleanCall()
		in.CallID = fmt.Sprintf("call-%d", i)
		in.Duration = ms(17000 + i*10000)
		in.GoalReached = i%2 == 0
		perCall[in.CallID] = Analyze(in, Thresholds{})
		want += len(perCall[in.CallID])
	}
	perCall["empty"] = nil

	r := Aggregate(perCall)
	if r.Calls != 6 || r.Total != want {
		t.Fatalf("calls = %d total = %d, want 6 and %d", r.Calls, r.Total, want)
	}
	sum, sev := 0, 0
	for _, g := range r.Groups {
		sum += g.Count
		if len(g.Examples) > examplesPerKind {
			t.Fatalf("group %s keeps %d examples", g.Kind, len(g.Examples))
		}
	}
	for _, n := range r.BySeverity {
		sev += n
	}
	if sum != want || sev != want {
		t.Fatalf("group sum = %d severity sum = %d, want %d", sum, sev, want)
	}
	if r.Groups[0].Kind != SilenceStall || r.Groups[0].Count != 5 {
		t.Fatalf("groups not ordered by count: %+v", r.Groups[0])
	}
}

func TestRenderMarkdown(t *testing.T) {
	var empty bytes.Buffer
	if err := RenderMarkdown(&empty, Aggregate(nil)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(empty.String(), "No issues found across 0 calls.") {
		t.Fatalf("empty report = %q", empty.String())
	}

	issues := make([]Issue, 5)
	for i := range issues {
		issues[i] = Issue{ID: fmt.Sprint(i), CallID: "c", Kind: Repetition, Severity: Low, Quote: "again", Description: "repeated"}
	}
	var out bytes.Buffer
	if err := RenderMarkdown(&out, Aggregate(map[string][]Issue{"c": issues})); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Bug Report", "## Summary", "**Total issues**: 5", "## Issues by Type", "### Repetition (5)", "> again", "*...and 2 more*"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, out.String())
		}
	}
}

type fakeCompleter struct {
	answer string
	err    error
	last   []llm.Message
}

func (f *fakeCompleter) Complete(_ context.Context, m []llm.Message) (string, error) {
	f.last = m
	return f.answer, f.err
}

func TestReviewer(t *testing.T) {
	tr := cleanCall().Transcript
	fc := &fakeCompleter{answer: "Here you go:\n" + `[
  {"issue_type": "repetition", "severity": "MEDIUM", "description": "said it twice", "line": 2},
  {"issue_type": "made_up_kind", "severity": "high", "description": "ignored"},
  {"issue_type": "confusion", "severity": "extreme", "description": "no line", "line": 99}
]`}
	issues := NewReviewer(fc, nil).Review(context.Background(), "c", "schedule", tr)
	if len(issues) != 2 {
		t.Fatalf("issues = %+v", issues)
	}
	if issues[0].Kind != Repetition || issues[0].Severity != Medium || issues[0].Quote != tr[1].Text || issues[0].Start != tr[1].Start {
		t.Fatalf("first = %+v", issues[0])
	}
	if issues[1].Severity != Low || len(issues[1].Evidence.UtteranceIDs) != 0 {
		t.Fatalf("second = %+v", issues[1])
	}
	if !strings.Contains(fc.last[0].Content, "2. PATIENT: I'd like an appointment.") {
		t.Fatalf("prompt = %q", fc.last[0].Content)
	}
}

func TestReviewer_FailuresYieldNothing(t *testing.T) {
	tr := cleanCall().Transcript
	for _, fc := range []*fakeCompleter{{err: errors.New("boom")}, {answer: "no json here"}, {answer: "[not json]"}} {
		if issues := NewReviewer(fc, nil).Review(context.Background(), "c", "g", tr); len(issues) != 0 {
			t.Fatalf("issues = %+v", issues)
		}
	}
	var nilReviewer *Reviewer
	if nilReviewer.Review(context.Background(), "c", "g", tr) != nil {
		t.Fatalf("nil reviewer must review nothing")
	}
}
