package view

import (
	"context"
	"reflect"
	"testing"

	"github.com/driftlabs/taskcore/internal/eventlog"
)

func fill(t *testing.T, log *eventlog.Log, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		kind := eventlog.KindAction
		if i%2 == 1 {
			kind = eventlog.KindObservation
		}
		if _, err := log.Append(ctx, eventlog.Event{Source: eventlog.SourceAgent, Kind: kind, Body: "evt"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func appendCondensation(t *testing.T, log *eventlog.Log, c eventlog.Condensation) int64 {
	t.Helper()
	id, err := log.Append(context.Background(), eventlog.Event{
		Source:       eventlog.SourceAgent,
		Kind:         eventlog.KindCondensation,
		Condensation: &c,
	})
	if err != nil {
		t.Fatalf("append condensation: %v", err)
	}
	return id
}

func TestMaterializeNoCondensationIsFullRange(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 6)

	v := Materialize(log, log.LatestID())
	if len(v.Events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(v.Events))
	}
	for i, evt := range v.Events {
		if evt.ID != int64(i+1) {
			t.Fatalf("expected id order, got %d at %d", evt.ID, i)
		}
	}
}

func TestMaterializeDeterministic(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 8)
	appendCondensation(t, log, eventlog.Condensation{
		ForgottenStart: 3, ForgottenEnd: 6, Summary: "middle collapsed", SummaryOffset: 2,
	})

	first := Materialize(log, log.LatestID())
	second := Materialize(log, log.LatestID())
	if !reflect.DeepEqual(first.Events, second.Events) {
		t.Fatalf("materialize is not deterministic")
	}
}

func TestMaterializeAppliesForgottenRangeAndOffset(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 10)
	appendCondensation(t, log, eventlog.Condensation{
		ForgottenStart: 3, ForgottenEnd: 10, Summary: "dropped 3..10", SummaryOffset: 2,
	})

	v := Materialize(log, log.LatestID())
	// keep_first(2) + summary + no tail
	if len(v.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(v.Events))
	}
	if v.Events[0].ID != 1 || v.Events[1].ID != 2 {
		t.Fatalf("retained prefix wrong: %d, %d", v.Events[0].ID, v.Events[1].ID)
	}
	if !IsSummary(v.Events[2]) {
		t.Fatalf("expected synthetic summary at offset 2")
	}
	if v.Events[2].Body != "dropped 3..10" {
		t.Fatalf("unexpected summary body: %q", v.Events[2].Body)
	}
	if v.SummaryText() != "dropped 3..10" {
		t.Fatalf("SummaryText mismatch")
	}
}

func TestMaterializeRetainsTailAfterForgottenRange(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 6)
	appendCondensation(t, log, eventlog.Condensation{
		ForgottenStart: 2, ForgottenEnd: 4, Summary: "2..4 gone", SummaryOffset: 1,
	})
	fill(t, log, 2)

	v := Materialize(log, log.LatestID())
	// retained: 1, 5, 6, 8, 9 plus summary at offset 1
	wantIDs := []int64{1, 0, 5, 6, 8, 9}
	if len(v.Events) != len(wantIDs) {
		t.Fatalf("expected %d events, got %d", len(wantIDs), len(v.Events))
	}
	for i, want := range wantIDs {
		if want == 0 {
			if !IsSummary(v.Events[i]) {
				t.Fatalf("expected summary at position %d", i)
			}
			continue
		}
		if v.Events[i].ID != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, v.Events[i].ID)
		}
	}
}

func TestMostRecentCondensationWins(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 4) // ids 1..4
	appendCondensation(t, log, eventlog.Condensation{ // id 5
		ForgottenStart: 1, ForgottenEnd: 2, Summary: "older", SummaryOffset: 0,
	})
	fill(t, log, 3) // ids 6..8
	appendCondensation(t, log, eventlog.Condensation{ // id 9
		ForgottenStart: 1, ForgottenEnd: 7, Summary: "newer", SummaryOffset: 1,
	})
	fill(t, log, 3) // ids 10..12

	v := Materialize(log, 12)
	if got := v.SummaryText(); got != "newer" {
		t.Fatalf("expected newest condensation to win, got %q", got)
	}
	for _, evt := range v.Events {
		if evt.Kind == eventlog.KindCondensation {
			t.Fatalf("condensation events must not appear in views")
		}
		if !IsSummary(evt) && evt.ID <= 7 && evt.ID >= 1 {
			t.Fatalf("event %d should have been forgotten", evt.ID)
		}
	}
	// retained: 8, 10, 11, 12 plus summary at offset 1.
	if len(v.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(v.Events))
	}
	if v.Events[0].ID != 8 || !IsSummary(v.Events[1]) {
		t.Fatalf("summary not at offset 1")
	}
}

func TestSummaryOffsetClamped(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 3)
	appendCondensation(t, log, eventlog.Condensation{
		ForgottenStart: 1, ForgottenEnd: 3, Summary: "all gone", SummaryOffset: 10,
	})

	v := Materialize(log, log.LatestID())
	if len(v.Events) != 1 || !IsSummary(v.Events[0]) {
		t.Fatalf("expected single clamped summary, got %d events", len(v.Events))
	}
}

func TestCacheInvalidatedByAppend(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 4)

	var cache Cache
	first := cache.Materialize(log, 1, 4)
	if first.LogLen != 4 {
		t.Fatalf("expected fingerprint 4, got %d", first.LogLen)
	}

	// Append outside the cached window; the cache must still recompute.
	fill(t, log, 1)
	second := cache.Materialize(log, 1, 4)
	if second.LogLen != 5 {
		t.Fatalf("cached view reused after append: fingerprint %d", second.LogLen)
	}

	third := cache.Materialize(log, 1, 4)
	if third.LogLen != 5 || len(third.Events) != len(second.Events) {
		t.Fatalf("expected cache hit with unchanged log")
	}
}

func TestStructuredSummaryRendered(t *testing.T) {
	log := eventlog.NewLog("sess-1")
	fill(t, log, 4)
	appendCondensation(t, log, eventlog.Condensation{
		ForgottenStart: 1, ForgottenEnd: 4, SummaryOffset: 0,
		Structured: &eventlog.StateSummary{PendingWork: "wire the gateway"},
	})

	v := Materialize(log, log.LatestID())
	if len(v.Events) != 1 {
		t.Fatalf("expected only the summary, got %d events", len(v.Events))
	}
	if want := "Pending: wire the gateway"; v.Events[0].Body != want {
		t.Fatalf("expected %q, got %q", want, v.Events[0].Body)
	}
}
