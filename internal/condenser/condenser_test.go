package condenser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/reason"
	"github.com/driftlabs/taskcore/internal/view"
)

type fakeSummarizer struct {
	summary    string
	structured eventlog.StateSummary
	err        error

	lastInput reason.SummaryInput
}

func (f *fakeSummarizer) Summarize(_ context.Context, input reason.SummaryInput) (string, error) {
	f.lastInput = input
	return f.summary, f.err
}

func (f *fakeSummarizer) SummarizeStructured(_ context.Context, input reason.SummaryInput) (eventlog.StateSummary, error) {
	f.lastInput = input
	return f.structured, f.err
}

func buildLog(t *testing.T, n int) *eventlog.Log {
	t.Helper()
	log := eventlog.NewLog("sess-1")
	ctx := context.Background()
	for i := 0; i < n; i++ {
		kind := eventlog.KindAction
		if i%2 == 1 {
			kind = eventlog.KindObservation
		}
		_, err := log.Append(ctx, eventlog.Event{
			Source: eventlog.SourceAgent,
			Kind:   kind,
			Body:   fmt.Sprintf("event %d", i+1),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return log
}

func TestNoOpLeavesViewUnchanged(t *testing.T) {
	log := buildLog(t, 4)
	v := view.Materialize(log, log.LatestID())

	result, err := NoOp{}.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.Request != nil || len(result.View.Events) != 4 {
		t.Fatalf("noop must return the view unchanged")
	}
}

func TestRecentEventsKeepsTail(t *testing.T) {
	log := buildLog(t, 10)
	v := view.Materialize(log, log.LatestID())

	result, err := RecentEvents{KeepN: 3}.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(result.View.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(result.View.Events))
	}
	if result.View.Events[0].ID != 8 {
		t.Fatalf("expected tail to start at 8, got %d", result.View.Events[0].ID)
	}
}

func TestObservationMaskingRedactsOldBodies(t *testing.T) {
	log := buildLog(t, 6) // observations at ids 2, 4, 6
	v := view.Materialize(log, log.LatestID())

	result, err := ObservationMasking{KeepRecentN: 2}.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	events := result.View.Events
	if len(events) != 6 {
		t.Fatalf("masking must not drop events")
	}
	if events[1].Body != RedactionMarker || events[3].Body != RedactionMarker {
		t.Fatalf("old observations not masked: %q, %q", events[1].Body, events[3].Body)
	}
	if events[0].Body == RedactionMarker || events[2].Body == RedactionMarker {
		t.Fatalf("action bodies must be untouched")
	}
	if events[5].Body == RedactionMarker {
		t.Fatalf("recent observation must be untouched")
	}
	if got := log.Read(2, 2)[0].Body; got == RedactionMarker {
		t.Fatalf("masking must not write through to the log")
	}
}

func TestSummarizingRoundTrip(t *testing.T) {
	log := buildLog(t, 10)
	v := view.Materialize(log, log.LatestID())

	client := &fakeSummarizer{summary: "events 3 through 10 condensed"}
	c := Summarizing{Client: client, KeepFirst: 2}
	result, err := c.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	req := result.Request
	if req == nil {
		t.Fatalf("expected a condensation request")
	}
	if req.ForgottenStart != 3 || req.ForgottenEnd != 10 {
		t.Fatalf("forgotten range must cover dropped ids, got [%d, %d]", req.ForgottenStart, req.ForgottenEnd)
	}
	if req.SummaryOffset != 2 {
		t.Fatalf("expected summary offset 2, got %d", req.SummaryOffset)
	}
	if len(client.lastInput.Events) != 8 {
		t.Fatalf("expected 8 rendered events, got %d", len(client.lastInput.Events))
	}

	if _, err := log.Append(context.Background(), eventlog.Event{
		Source:       eventlog.SourceAgent,
		Kind:         eventlog.KindCondensation,
		Condensation: req.Condensation(),
	}); err != nil {
		t.Fatalf("append condensation: %v", err)
	}

	after := view.Materialize(log, log.LatestID())
	// keep_first + summary + retained tail (empty here)
	if len(after.Events) != 3 {
		t.Fatalf("expected keep_first+1 events, got %d", len(after.Events))
	}
	if !view.IsSummary(after.Events[2]) {
		t.Fatalf("summary not at summary_offset")
	}
}

func TestSummarizingFeedsPriorSummaryForward(t *testing.T) {
	log := buildLog(t, 10)
	first := &fakeSummarizer{summary: "first pass"}
	result, err := Summarizing{Client: first, KeepFirst: 2}.Compact(context.Background(), view.Materialize(log, log.LatestID()))
	if err != nil {
		t.Fatalf("first compact: %v", err)
	}
	if _, err := log.Append(context.Background(), eventlog.Event{
		Source: eventlog.SourceAgent, Kind: eventlog.KindCondensation, Condensation: result.Request.Condensation(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := log.Append(context.Background(), eventlog.Event{Source: eventlog.SourceAgent, Kind: eventlog.KindAction, Body: "more"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	second := &fakeSummarizer{summary: "second pass"}
	if _, err := (Summarizing{Client: second, KeepFirst: 2}).Compact(context.Background(), view.Materialize(log, log.LatestID())); err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if second.lastInput.PriorSummary != "first pass" {
		t.Fatalf("prior summary not forwarded, got %q", second.lastInput.PriorSummary)
	}
	for _, rendered := range second.lastInput.Events {
		if strings.Contains(rendered, "first pass") {
			t.Fatalf("synthetic summary must not be rendered as a dropped event")
		}
	}
}

func TestSummarizingKeepFirstCountsRealEvents(t *testing.T) {
	log := buildLog(t, 6)
	// A prior condensation whose summary lands inside the keep-first prefix.
	if _, err := log.Append(context.Background(), eventlog.Event{
		Source: eventlog.SourceAgent,
		Kind:   eventlog.KindCondensation,
		Condensation: &eventlog.Condensation{
			ForgottenStart: 2, ForgottenEnd: 3, Summary: "first pass", SummaryOffset: 1,
		},
	}); err != nil {
		t.Fatalf("append condensation: %v", err)
	}

	v := view.Materialize(log, log.LatestID())
	// [e1, summary, e4, e5, e6]
	if len(v.Events) != 5 || !view.IsSummary(v.Events[1]) {
		t.Fatalf("unexpected view shape: %d events", len(v.Events))
	}

	client := &fakeSummarizer{summary: "second pass"}
	result, err := Summarizing{Client: client, KeepFirst: 2}.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	req := result.Request
	if req == nil {
		t.Fatalf("expected a condensation request")
	}
	// Two real events (e1, e4) are kept; the synthetic summary does not
	// count against keep_first.
	if req.ForgottenStart != 5 || req.ForgottenEnd != 6 {
		t.Fatalf("expected forgotten range [5, 6], got [%d, %d]", req.ForgottenStart, req.ForgottenEnd)
	}
	if len(client.lastInput.Events) != 2 {
		t.Fatalf("expected 2 rendered events, got %d", len(client.lastInput.Events))
	}
	if client.lastInput.PriorSummary != "first pass" {
		t.Fatalf("prior summary not forwarded, got %q", client.lastInput.PriorSummary)
	}
}

func TestSummarizingStructured(t *testing.T) {
	log := buildLog(t, 6)
	client := &fakeSummarizer{structured: eventlog.StateSummary{CompletedWork: "scaffolding"}}
	result, err := Summarizing{Client: client, KeepFirst: 1, Structured: true}.Compact(context.Background(), view.Materialize(log, log.LatestID()))
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.Request == nil || result.Request.Structured == nil {
		t.Fatalf("expected structured summary in request")
	}
	if result.Request.Structured.CompletedWork != "scaffolding" {
		t.Fatalf("structured payload lost")
	}
}

func TestSummarizingMalformedResponse(t *testing.T) {
	log := buildLog(t, 6)
	v := view.Materialize(log, log.LatestID())

	empty := &fakeSummarizer{}
	_, err := Summarizing{Client: empty, KeepFirst: 1, Structured: true}.Compact(context.Background(), v)
	if !errors.Is(err, ErrMalformedSummary) {
		t.Fatalf("expected ErrMalformedSummary, got %v", err)
	}

	_, err = Summarizing{Client: empty, KeepFirst: 1}.Compact(context.Background(), v)
	if !errors.Is(err, ErrMalformedSummary) {
		t.Fatalf("expected ErrMalformedSummary for empty text, got %v", err)
	}
}

func TestSummarizingNothingToDrop(t *testing.T) {
	log := buildLog(t, 2)
	v := view.Materialize(log, log.LatestID())
	result, err := Summarizing{Client: &fakeSummarizer{summary: "x"}, KeepFirst: 5}.Compact(context.Background(), v)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.Request != nil {
		t.Fatalf("no request expected when everything is retained")
	}
}

func TestBudgetExceeded(t *testing.T) {
	log := buildLog(t, 5)
	v := view.Materialize(log, log.LatestID())

	if (Budget{}).Exceeded(v) {
		t.Fatalf("zero budget must disable both ceilings")
	}
	if !(Budget{MaxViewEvents: 4}).Exceeded(v) {
		t.Fatalf("event ceiling not applied")
	}
	if (Budget{MaxViewEvents: 5}).Exceeded(v) {
		t.Fatalf("ceiling is exclusive at the boundary")
	}
	if !(Budget{MaxViewTokens: 1}).Exceeded(v) {
		t.Fatalf("token ceiling not applied")
	}
}

func TestFromConfig(t *testing.T) {
	cases := []struct {
		kind string
		want string
	}{
		{"", "condenser.NoOp"},
		{"noop", "condenser.NoOp"},
		{"recent", "condenser.RecentEvents"},
		{"mask", "condenser.ObservationMasking"},
		{"summarize", "condenser.Summarizing"},
		{"summarize-structured", "condenser.Summarizing"},
	}
	for _, tc := range cases {
		c, err := FromConfig(tc.kind, 3, &fakeSummarizer{})
		if err != nil {
			t.Fatalf("from config %q: %v", tc.kind, err)
		}
		if got := fmt.Sprintf("%T", c); got != tc.want {
			t.Fatalf("kind %q: expected %s, got %s", tc.kind, tc.want, got)
		}
	}
	if _, err := FromConfig("bogus", 0, nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
