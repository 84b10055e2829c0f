package analyzer

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// examplesPerKind bounds the representative issues kept per group.
const examplesPerKind = 3

// Group is every issue of one kind across a batch.
type Group struct {
	Kind     Kind    `json:"kind"`
	Count    int     `json:"count"`
	Examples []Issue `json:"examples"`
}

// BugReport summarizes a batch. It is derived data, recomputable from the
// per-call issues at any time.
type BugReport struct {
	Calls      int              `json:"calls"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	Groups     []Group          `json:"groups"`
}

// Aggregate groups the issues of many calls by kind. Groups are ordered by
// descending count, then kind; examples keep call id order.
func Aggregate(perCall map[string][]Issue) BugReport {
	r := BugReport{Calls: len(perCall), BySeverity: map[Severity]int{High: 0, Medium: 0, Low: 0}}

	callIDs := make([]string, 0, len(perCall))
	for id := range perCall {
		callIDs = append(callIDs, id)
	}
	sort.Strings(callIDs)

	groups := map[Kind]*Group{}
	for _, id := range callIDs {
		for _, is := range perCall[id] {
			r.Total++
			r.BySeverity[is.Severity]++
			g, ok := groups[is.Kind]
			if !ok {
				g = &Group{Kind: is.Kind}
				groups[is.Kind] = g
			}
			g.Count++
			if len(g.Examples) < examplesPerKind {
				g.Examples = append(g.Examples, is)
			}
		}
	}
	for _, g := range groups {
		r.Groups = append(r.Groups, *g)
	}
	sort.Slice(r.Groups, func(i, j int) bool {
		if r.Groups[i].Count != r.Groups[j].Count {
			return r.Groups[i].Count > r.Groups[j].Count
		}
		return r.Groups[i].Kind < r.Groups[j].Kind
	})
	return r
}

var badges = map[Severity]string{High: "🔴", Medium: "🟡", Low: "🟢"}

// RenderMarkdown writes bug_report.md.
func RenderMarkdown(w io.Writer, r BugReport) error {
	var b strings.Builder
	b.WriteString("# Bug Report\n\n")
	if r.Total == 0 {
		fmt.Fprintf(&b, "No issues found across %d calls.\n", r.Calls)
		_, err := io.WriteString(w, b.String())
		return err
	}
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Calls analyzed**: %d\n", r.Calls)
	fmt.Fprintf(&b, "- **Total issues**: %d\n", r.Total)
	fmt.Fprintf(&b, "- **High severity**: %d\n", r.BySeverity[High])
	fmt.Fprintf(&b, "- **Medium severity**: %d\n", r.BySeverity[Medium])
	fmt.Fprintf(&b, "- **Low severity**: %d\n", r.BySeverity[Low])
	b.WriteString("\n## Issues by Type\n\n")
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "### %s (%d)\n\n", title(g.Kind), g.Count)
		for _, is := range g.Examples {
			fmt.Fprintf(&b, "**%s %s** (Call: %s, %.1fs-%.1fs)\n", badges[is.Severity], strings.ToUpper(string(is.Severity)), is.CallID, is.Start.Seconds(), is.End.Seconds())
			if is.Quote != "" {
				fmt.Fprintf(&b, "> %s\n", is.Quote)
			}
			fmt.Fprintf(&b, "\n%s\n\n", is.Description)
		}
		if g.Count > len(g.Examples) {
			fmt.Fprintf(&b, "*...and %d more*\n\n", g.Count-len(g.Examples))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func title(k Kind) string {
	words := strings.Split(string(k), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
