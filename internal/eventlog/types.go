package eventlog

import (
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

type Kind string

const (
	KindAction       Kind = "action"
	KindObservation  Kind = "observation"
	KindCondensation Kind = "condensation"
	KindSystem       Kind = "system"
)

// Event is one immutable record in a session log. The ID is assigned by
// Log.Append and is strictly increasing within a session, across all
// controllers that share the log.
type Event struct {
	ID           int64          `json:"id"`
	Source       Source         `json:"source"`
	Kind         Kind           `json:"kind"`
	Body         string         `json:"body,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Condensation *Condensation  `json:"condensation,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Condensation records a compaction of the log: every event whose id falls
// inside [ForgottenStart, ForgottenEnd] is replaced, in materialized views,
// by a single summary observation inserted at SummaryOffset counted from the
// start of the retained sequence.
type Condensation struct {
	ForgottenStart int64         `json:"forgotten_start"`
	ForgottenEnd   int64         `json:"forgotten_end"`
	Summary        string        `json:"summary,omitempty"`
	Structured     *StateSummary `json:"structured,omitempty"`
	SummaryOffset  int           `json:"summary_offset"`
}

func (c *Condensation) Covers(id int64) bool {
	return id >= c.ForgottenStart && id <= c.ForgottenEnd
}

// StateSummary is the structured condensation payload. Any field may be
// empty; absence is not an error.
type StateSummary struct {
	UserContext      string   `json:"user_context,omitempty"`
	CompletedWork    string   `json:"completed_work,omitempty"`
	PendingWork      string   `json:"pending_work,omitempty"`
	CurrentState     string   `json:"current_state,omitempty"`
	ModifiedFiles    []string `json:"modified_files,omitempty"`
	InterfaceChanges []string `json:"interface_changes,omitempty"`
}

// Text renders the summary as prose for inclusion in a view.
func (s *StateSummary) Text() string {
	if s == nil {
		return ""
	}
	var sb strings.Builder
	write := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, strings.TrimSpace(value))
	}
	write("User context", s.UserContext)
	write("Completed", s.CompletedWork)
	write("Pending", s.PendingWork)
	write("Current state", s.CurrentState)
	if len(s.ModifiedFiles) > 0 {
		write("Modified files", strings.Join(s.ModifiedFiles, ", "))
	}
	if len(s.InterfaceChanges) > 0 {
		write("Interface changes", strings.Join(s.InterfaceChanges, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *StateSummary) Empty() bool {
	if s == nil {
		return true
	}
	return s.UserContext == "" && s.CompletedWork == "" && s.PendingWork == "" &&
		s.CurrentState == "" && len(s.ModifiedFiles) == 0 && len(s.InterfaceChanges) == 0
}

// SummaryText returns the text of a condensation regardless of whether it
// carries a free-text or structured summary.
func (c *Condensation) SummaryText() string {
	if c == nil {
		return ""
	}
	if c.Structured != nil && !c.Structured.Empty() {
		return c.Structured.Text()
	}
	return c.Summary
}

// Render produces the one-line textual form of an event used for token
// estimates and summarization input.
func Render(evt Event) string {
	body := strings.TrimSpace(evt.Body)
	if body == "" && evt.Condensation != nil {
		body = evt.Condensation.SummaryText()
	}
	return fmt.Sprintf("[%d] %s/%s: %s", evt.ID, evt.Source, evt.Kind, body)
}
