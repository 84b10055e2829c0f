package llm

import (
	"fmt"
	"strings"

	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// EndCallMarker is appended by the model once the goal is done and the call
// has been wrapped up.
const EndCallMarker = "[END_CALL]"

const (
	openingCue = "(The call has connected. State why you're calling.)"
	nudgeCue   = "(The line has gone quiet. Check whether someone is still there, briefly.)"
)

// SystemPrompt renders the patient persona for sc.
func SystemPrompt(sc scenario.Scenario) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are playing the role of %s in a test call to a hospital phone system.", sc.Name)
	if sc.DateOfBirth != "" {
		fmt.Fprintf(&b, " Your date of birth is %s.", sc.DateOfBirth)
	}
	b.WriteString("\n\nThis is a TEST CALL. If the agent says this is a test line or a demo, acknowledge it naturally and continue with your role.\n\n")
	fmt.Fprintf(&b, "Your goal for this call: %s\n", sc.Goal)
	if details := sc.DetailLines(); details != "" {
		b.WriteString("\nCharacter details:\n")
		b.WriteString(details)
	}
	if len(sc.Hints) > 0 {
		b.WriteString("\nBring these up in order, when it fits:\n")
		for i, h := range sc.Hints {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
	}
	b.WriteString(`
Instructions:
- Speak naturally like a real person on the phone
- Keep responses SHORT, 1-2 sentences max
- Be friendly and cooperative
- Provide your name and date of birth when asked
- Stay focused on your goal
- If asked something you don't know, say you're not sure
- Never use lists, markdown or stage directions; everything you write is spoken aloud
- Once your goal is accomplished and you have said goodbye, end your reply with ` + EndCallMarker + `
`)
	return b.String()
}

// Messages builds the chat request for the next patient line. Hospital
// speech is the user role; the patient's own lines are the assistant role.
// window limits the transcript to its last utterances; zero keeps all.
func Messages(sc scenario.Scenario, t transcript.Transcript, window int, nudge bool) []Message {
	msgs := []Message{{Role: System, Content: SystemPrompt(sc)}}
	if window > 0 {
		t = t.Last(window)
	}
	for _, u := range t {
		if !u.Final() || strings.TrimSpace(u.Text) == "" {
			continue
		}
		role := User
		if u.Speaker == transcript.Patient {
			role = Assistant
		}
		text := u.Text
		if u.Cut() {
			text += " ..."
		}
		if n := len(msgs); n > 1 && msgs[n-1].Role == role {
			msgs[n-1].Content += " " + text
			continue
		}
		msgs = append(msgs, Message{Role: role, Content: text})
	}
	switch {
	case len(msgs) == 1:
		msgs = append(msgs, Message{Role: User, Content: openingCue})
	case nudge:
		msgs = append(msgs, Message{Role: User, Content: nudgeCue})
	case msgs[len(msgs)-1].Role == Assistant:
		// the hospital has not answered the last patient line yet
		msgs = append(msgs, Message{Role: User, Content: "(silence)"})
	}
	return msgs
}
