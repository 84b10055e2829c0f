package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// Thresholds tunes the rules.
type Thresholds struct {
	Latency      time.Duration
	SilenceStall time.Duration
	Overlap      time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{Latency: 3 * time.Second, SilenceStall: 10 * time.Second, Overlap: 600 * time.Millisecond}
}

// CallInput is everything the rules look at for one call.
type CallInput struct {
	CallID      string
	Goal        string
	Status      agent.CallStatus
	EndReason   string
	GoalReached bool
	Duration    time.Duration
	Transcript  transcript.Transcript
	Events      []agent.Event
	// Outbound is the recorded outbound audio, used to check the bot went
	// quiet after an interruption.
	Outbound []audio.Frame
}

// Analyze runs every rule over in. It is deterministic: the same input
// always yields the same issues in the same order.
func Analyze(in CallInput, th Thresholds) []Issue {
	def := DefaultThresholds()
	if th.Latency <= 0 {
		th.Latency = def.Latency
	}
	if th.SilenceStall <= 0 {
		th.SilenceStall = def.SilenceStall
	}
	if th.Overlap <= 0 {
		th.Overlap = def.Overlap
	}
	b := &builder{callID: in.CallID, seq: map[Kind]int{}}
	latency(b, in, th)
	interruptions(b, in, th)
	silence(b, in, th)
	sttFailures(b, in)
	goal(b, in)
	return b.issues
}

type builder struct {
	callID string
	seq    map[Kind]int
	issues []Issue
}

func (b *builder) add(i Issue) {
	b.seq[i.Kind]++
	i.ID = fmt.Sprintf("%s-%s-%02d", b.callID, i.Kind, b.seq[i.Kind])
	i.CallID = b.callID
	b.issues = append(b.issues, i)
}

func byID(t transcript.Transcript) map[string]transcript.Utterance {
	m := make(map[string]transcript.Utterance, len(t))
	for _, u := range t {
		m[u.ID] = u
	}
	return m
}

// latency flags THINKING spans longer than the threshold.
func latency(b *builder, in CallInput, th Thresholds) {
	utts := byID(in.Transcript)
	var (
		open    bool
		since   time.Duration
		trigger string
	)
	for _, ev := range in.Events {
		if ev.Kind != agent.EventTransition {
			continue
		}
		if ev.To == agent.Thinking.String() {
			open, since, trigger = true, ev.At, ev.Trigger
			continue
		}
		if !open || ev.From != agent.Thinking.String() {
			continue
		}
		open = false
		d := ev.At - since
		if d <= th.Latency {
			continue
		}
		sev := Medium
		if d > 2*th.Latency {
			sev = High
		}
		issue := Issue{
			Kind:        ExcessiveLatency,
			Severity:    sev,
			Start:       since,
			End:         ev.At,
			Evidence:    Evidence{Offsets: []time.Duration{since, ev.At}},
			Description: fmt.Sprintf("bot took %.1fs to answer (threshold %.1fs)", d.Seconds(), th.Latency.Seconds()),
		}
		if u, ok := utts[trigger]; ok {
			issue.Evidence.UtteranceIDs = []string{u.ID}
			issue.Quote = u.Text
		}
		b.add(issue)
	}
}

// interruptions flags bot speech that did not yield: either it talked over
// hospital speech for longer than the overlap threshold without being
// interrupted, or audio kept going out after an interruption.
func interruptions(b *builder, in CallInput, th Thresholds) {
	flagged := map[string]bool{}

	lastOut := map[uint32]time.Duration{}
	for _, f := range in.Outbound {
		if end := f.Timestamp; end > lastOut[f.Segment] {
			lastOut[f.Segment] = end
		}
	}
	for _, ev := range in.Events {
		if ev.Kind != agent.EventInterrupt {
			continue
		}
		last, ok := lastOut[ev.Segment]
		if !ok || last <= ev.At+audio.FrameDuration {
			continue
		}
		flagged[ev.Utterance] = true
		b.add(Issue{
			Kind:        UnhandledInterruption,
			Severity:    High,
			Start:       ev.At,
			End:         last + audio.FrameDuration,
			Evidence:    Evidence{UtteranceIDs: []string{ev.Utterance}, Offsets: []time.Duration{ev.At, last}},
			Description: fmt.Sprintf("bot kept sending audio for %.2fs after being interrupted", (last - ev.At).Seconds()),
		})
	}

	for _, p := range in.Transcript {
		if p.Speaker != transcript.Patient || p.Status == transcript.StatusAbandoned || flagged[p.ID] {
			continue
		}
		for _, h := range in.Transcript {
			if h.Speaker != transcript.Agent {
				continue
			}
			start, end := max(p.Start, h.Start), min(p.End, h.End)
			if end-start <= th.Overlap {
				continue
			}
			flagged[p.ID] = true
			b.add(Issue{
				Kind:        UnhandledInterruption,
				Severity:    High,
				Start:       start,
				End:         end,
				Evidence:    Evidence{UtteranceIDs: []string{p.ID, h.ID}, Offsets: []time.Duration{start, end}},
				Quote:       h.Text,
				Description: fmt.Sprintf("bot talked over the agent for %.1fs without yielding", (end - start).Seconds()),
			})
			break
		}
	}
}

// silence flags stretches where neither side spoke.
func silence(b *builder, in CallInput, th Thresholds) {
	type span struct{ start, end time.Duration }
	var spans []span
	for _, u := range in.Transcript {
		end := u.End
		if end < u.Start {
			end = u.Start
		}
		spans = append(spans, span{u.Start, end})
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})
	var cursor time.Duration
	check := func(until time.Duration) {
		if gap := until - cursor; gap > th.SilenceStall {
			b.add(Issue{
				Kind:        SilenceStall,
				Severity:    Medium,
				Start:       cursor,
				End:         until,
				Evidence:    Evidence{Offsets: []time.Duration{cursor, until}},
				Description: fmt.Sprintf("no speech from either side for %.1fs", gap.Seconds()),
			})
		}
	}
	for _, s := range spans {
		check(s.start)
		if s.end > cursor {
			cursor = s.end
		}
	}
	if in.Duration > cursor {
		check(in.Duration)
	}
}

func sttFailures(b *builder, in CallInput) {
	for _, ev := range in.Events {
		if ev.Kind != agent.EventSTTError {
			continue
		}
		b.add(Issue{
			Kind:        STTFailure,
			Severity:    Medium,
			Start:       ev.At,
			End:         ev.At,
			Evidence:    Evidence{Offsets: []time.Duration{ev.At}},
			Description: "speech recognition failed: " + ev.Error,
		})
	}
}

func goal(b *builder, in CallInput) {
	if in.GoalReached {
		return
	}
	sev := Medium
	if in.Status == agent.Failed {
		sev = High
	}
	var ids []string
	for _, u := range in.Transcript.Last(1) {
		ids = append(ids, u.ID)
	}
	b.add(Issue{
		Kind:        GoalNotCompleted,
		Severity:    sev,
		Start:       0,
		End:         in.Duration,
		Evidence:    Evidence{UtteranceIDs: ids, Offsets: []time.Duration{0, in.Duration}},
		Quote:       in.Goal,
		Description: fmt.Sprintf("call ended without reaching the goal (status %s, reason %s)", in.Status, in.EndReason),
	})
}
