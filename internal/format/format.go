// Package format renders sessions and events for terminal output.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/store"
)

// WriteSessions writes session summaries to w in the requested format.
func WriteSessions(w io.Writer, items []store.SessionSummary, includeHeader bool, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return writeSessionsTable(w, items, includeHeader)
	case "plain":
		return writeSessionsPlain(w, items, includeHeader)
	case "json":
		return writeJSON(w, items)
	case "jsonl":
		return writeJSONL(w, items)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeSessionsTable(w io.Writer, items []store.SessionSummary, includeHeader bool) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
	})

	if includeHeader {
		tw.AppendHeader(table.Row{"Session ID", "Events", "Latest ID", "Started", "Updated"})
	}

	for _, item := range items {
		tw.AppendRow(table.Row{
			item.SessionID,
			item.EventCount,
			item.LatestID,
			item.StartedAt.Format(time.RFC3339),
			item.UpdatedAt.Format(time.RFC3339),
		})
	}
	if len(items) == 0 {
		tw.AppendRow(table.Row{"(no sessions)", 0, 0, "-", "-"})
	}

	_ = tw.Render()
	return nil
}

func writeSessionsPlain(w io.Writer, items []store.SessionSummary, includeHeader bool) error {
	if includeHeader {
		if _, err := fmt.Fprintln(w, "session_id\tevents\tlatest_id\tstarted\tupdated"); err != nil {
			return err
		}
	}
	for _, item := range items {
		line := fmt.Sprintf("%s\t%d\t%d\t%s\t%s",
			item.SessionID,
			item.EventCount,
			item.LatestID,
			item.StartedAt.Format(time.RFC3339),
			item.UpdatedAt.Format(time.RFC3339),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents writes a sequence of log events to w in the requested format.
func WriteEvents(w io.Writer, events []eventlog.Event, format string, bodyWidth int) error {
	switch strings.ToLower(format) {
	case "", "table":
		return writeEventsTable(w, events, bodyWidth)
	case "plain":
		for _, evt := range events {
			if _, err := fmt.Fprintln(w, eventlog.Render(evt)); err != nil {
				return err
			}
		}
		return nil
	case "json":
		return writeJSON(w, events)
	case "jsonl":
		return writeJSONL(w, events)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeEventsTable(w io.Writer, events []eventlog.Event, bodyWidth int) error {
	if bodyWidth <= 0 {
		bodyWidth = 80
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: bodyWidth},
	})
	tw.AppendHeader(table.Row{"ID", "Source", "Kind", "Body"})

	for _, evt := range events {
		tw.AppendRow(table.Row{evt.ID, string(evt.Source), string(evt.Kind), EventBody(evt)})
	}
	if len(events) == 0 {
		tw.AppendRow(table.Row{"-", "-", "-", "(no events)"})
	}

	_ = tw.Render()
	return nil
}

// EventBody returns the display body for an event. Condensation events have
// no body of their own, so the forgotten range and summary stand in.
func EventBody(evt eventlog.Event) string {
	if evt.Kind == eventlog.KindCondensation && evt.Condensation != nil {
		c := evt.Condensation
		body := fmt.Sprintf("condensed [%d..%d]", c.ForgottenStart, c.ForgottenEnd)
		if s := strings.TrimSpace(c.SummaryText()); s != "" {
			body += ": " + collapseWhitespace(s)
		}
		return body
	}
	return collapseWhitespace(evt.Body)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
