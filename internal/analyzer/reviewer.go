package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chadiek/hospital-callbot/internal/llm"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

const reviewPrompt = `You are a QA analyst reviewing a conversation between a hospital phone agent and a patient bot.

The patient bot's goal was: %s

Review the transcript below and identify any quality issues in what the PATIENT bot said. Look for:
1. hallucination - Bot said incorrect/made-up information not in its persona
2. misunderstanding - Bot failed to understand what the agent said
3. unnatural_phrasing - Awkward or robotic language
4. inappropriate_response - Response doesn't fit the context
5. repetition - Bot repeated itself unnecessarily
6. confusion - Bot seemed confused or gave inconsistent answers

For each issue found, provide:
- issue_type: one of the types above
- severity: "low", "medium", or "high"
- description: brief explanation of the issue
- line: the number of the transcript line the issue is about

Respond with ONLY a JSON array of issues. If no issues found, return an empty array [].

TRANSCRIPT:
%s`

var reviewKinds = map[Kind]bool{
	Hallucination:         true,
	Misunderstanding:      true,
	UnnaturalPhrasing:     true,
	InappropriateResponse: true,
	Repetition:            true,
	Confusion:             true,
}

// Reviewer asks a language model for conversational defects the rules
// cannot see. A nil Reviewer reviews nothing.
type Reviewer struct {
	c   llm.Completer
	log *slog.Logger
}

func NewReviewer(c llm.Completer, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{c: c, log: logger.With("component", "reviewer")}
}

type reviewed struct {
	IssueType   string `json:"issue_type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Review returns the model's findings for one call. Failures are logged
// and yield no issues.
func (r *Reviewer) Review(ctx context.Context, callID, goal string, t transcript.Transcript) []Issue {
	if r == nil || r.c == nil || len(t) == 0 {
		return nil
	}
	var lines strings.Builder
	for i, u := range t {
		fmt.Fprintf(&lines, "%d. %s: %s\n", i+1, u.Speaker.Label(), u.Text)
	}
	out, err := r.c.Complete(ctx, []llm.Message{{Role: llm.User, Content: fmt.Sprintf(reviewPrompt, goal, lines.String())}})
	if err != nil {
		r.log.Warn("review failed", "call_id", callID, "err", err)
		return nil
	}
	found, err := parseReview(out)
	if err != nil {
		r.log.Warn("review unparseable", "call_id", callID, "err", err)
		return nil
	}
	b := &builder{callID: callID, seq: map[Kind]int{}}
	for _, f := range found {
		kind, sev := Kind(f.IssueType), Severity(strings.ToLower(f.Severity))
		if !reviewKinds[kind] {
			continue
		}
		if !sev.valid() {
			sev = Low
		}
		issue := Issue{Kind: kind, Severity: sev, Description: f.Description}
		if f.Line >= 1 && f.Line <= len(t) {
			u := t[f.Line-1]
			issue.Start, issue.End, issue.Quote = u.Start, u.End, u.Text
			issue.Evidence.UtteranceIDs = []string{u.ID}
		}
		b.add(issue)
	}
	return b.issues
}

func parseReview(out string) ([]reviewed, error) {
	start, end := strings.Index(out, "["), strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in review")
	}
	var found []reviewed
	if err := json.Unmarshal([]byte(out[start:end+1]), &found); err != nil {
		return nil, err
	}
	return found, nil
}
