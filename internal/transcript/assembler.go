package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Transcript is the ordered list of finished utterances of one call.
type Transcript []Utterance

// Assemble merges utterances from both sides. Interims and any utterance
// superseded by another are dropped; finals and cut-off bot utterances are
// kept. The result is ordered by start time, then hospital before patient,
// then id, so any permutation of the same input yields the same Transcript.
// Of several utterances sharing an id, the first in that order is kept.
func Assemble(utterances []Utterance) Transcript {
	superseded := make(map[string]struct{})
	for _, u := range utterances {
		for _, id := range u.Supersedes {
			superseded[id] = struct{}{}
		}
	}
	kept := make(Transcript, 0, len(utterances))
	for _, u := range utterances {
		if !u.Final() {
			continue
		}
		if _, ok := superseded[u.ID]; ok {
			continue
		}
		kept = append(kept, u)
	}
	sort.SliceStable(kept, func(i, j int) bool { return before(kept[i], kept[j]) })

	seen := make(map[string]struct{}, len(kept))
	out := kept[:0]
	for _, u := range kept {
		if u.ID != "" {
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
		}
		out = append(out, u)
	}
	return out
}

// before is the transcript order. Fields past the id only break ties
// between copies of the same utterance.
func before(a, b Utterance) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if ra, rb := a.Speaker.rank(), b.Speaker.rank(); ra != rb {
		return ra < rb
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.Text != b.Text {
		return a.Text < b.Text
	}
	if a.End != b.End {
		return a.End < b.End
	}
	if a.Status != b.Status {
		return a.Status < b.Status
	}
	return a.Confidence < b.Confidence
}

// By returns the utterances of one speaker, in transcript order.
func (t Transcript) By(s Speaker) Transcript {
	var out Transcript
	for _, u := range t {
		if u.Speaker == s {
			out = append(out, u)
		}
	}
	return out
}

// Last returns the last n utterances, or all of them when n <= 0.
func (t Transcript) Last(n int) Transcript {
	if n <= 0 || n >= len(t) {
		return t
	}
	return t[len(t)-n:]
}

// ScenarioRef identifies the scenario a transcript was recorded under.
type ScenarioRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Goal string `json:"goal"`
}

// Document is the machine-readable transcript artifact.
type Document struct {
	CallID          string      `json:"call_id"`
	Scenario        ScenarioRef `json:"scenario"`
	Status          string      `json:"status"`
	EndReason       string      `json:"end_reason,omitempty"`
	GoalReached     bool        `json:"goal_reached"`
	StartedAt       time.Time   `json:"started_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	Utterances      []DocLine   `json:"utterances"`
}

// DocLine is one utterance as written to transcript.json.
type DocLine struct {
	ID         string   `json:"id"`
	Speaker    Speaker  `json:"speaker"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Final      bool     `json:"final"`
	Status     Status   `json:"status"`
	Confidence float64  `json:"confidence,omitempty"`
	Uncertain  bool     `json:"uncertain,omitempty"`
	Supersedes []string `json:"supersedes,omitempty"`
}

// NewDocument builds the structured artifact for t.
func NewDocument(callID string, sc ScenarioRef, status, endReason string, goal bool, started time.Time, dur time.Duration, t Transcript) Document {
	lines := make([]DocLine, 0, len(t))
	for _, u := range t {
		lines = append(lines, DocLine{
			ID:         u.ID,
			Speaker:    u.Speaker,
			Start:      round1(u.Start),
			End:        round1(u.End),
			Text:       u.Text,
			Final:      u.Status == StatusFinal,
			Status:     u.Status,
			Confidence: u.Confidence,
			Uncertain:  u.Uncertain,
			Supersedes: u.Supersedes,
		})
	}
	return Document{
		CallID:          callID,
		Scenario:        sc,
		Status:          status,
		EndReason:       endReason,
		GoalReached:     goal,
		StartedAt:       started.UTC(),
		DurationSeconds: round1(dur),
		Utterances:      lines,
	}
}

func round1(d time.Duration) float64 {
	return float64(d.Round(100*time.Millisecond)) / float64(time.Second)
}

// WriteJSON writes the document indented.
func (d Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// RenderText writes the human-readable transcript.
func (d Document) RenderText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Call ID: %s\n", d.CallID)
	fmt.Fprintf(&b, "Scenario: %s\n", d.Scenario.Name)
	fmt.Fprintf(&b, "Goal: %s\n", d.Scenario.Goal)
	fmt.Fprintf(&b, "Status: %s", d.Status)
	if d.EndReason != "" {
		fmt.Fprintf(&b, " (%s)", d.EndReason)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Duration: %.1fs\n", d.DurationSeconds)
	b.WriteString(strings.Repeat("-", 50) + "\n\n")
	for _, u := range d.Utterances {
		fmt.Fprintf(&b, "[%.1fs] %s: %s", u.Start, u.Speaker.Label(), u.Text)
		switch u.Status {
		case StatusAbandoned:
			b.WriteString(" (interrupted)")
		case StatusPartial:
			b.WriteString(" (cut off)")
		}
		if u.Uncertain {
			b.WriteString(" [audio gap]")
		}
		b.WriteString("\n\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
