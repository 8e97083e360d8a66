package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/vibration.report/internal/acquisition"
)

var attemptBase = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecordAttempt_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	temp := 21.75
	complete := acquisition.Attempt{
		ID:          "a-1",
		Serial:      "00:13:A2",
		ReadingID:   42,
		Outcome:     acquisition.OutcomeComplete,
		Encoding:    "packed",
		Temperature: &temp,
		StartedAt:   attemptBase,
		Duration:    1500 * time.Millisecond,
	}
	failed := acquisition.Attempt{
		ID:         "a-2",
		Serial:     "00:13:A2",
		Outcome:    acquisition.OutcomeTimeout,
		FailedStep: acquisition.StepData,
		Error:      "timed out waiting for data",
		StartedAt:  attemptBase.Add(time.Minute),
		Duration:   60 * time.Second,
	}
	for _, a := range []acquisition.Attempt{complete, failed} {
		if err := db.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt(%s) failed: %v", a.ID, err)
		}
	}

	got, err := db.RecentAttempts("", 10)
	if err != nil {
		t.Fatalf("RecentAttempts failed: %v", err)
	}
	// newest first
	if diff := cmp.Diff([]acquisition.Attempt{failed, complete}, got); diff != "" {
		t.Errorf("RecentAttempts mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAttempt_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	a := acquisition.Attempt{ID: "dup", Serial: "A", Outcome: acquisition.OutcomeComplete, StartedAt: attemptBase}
	if err := db.RecordAttempt(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordAttempt(context.Background(), a); err == nil {
		t.Error("expected an error recording the same id twice")
	}
}

func TestRecordAttempt_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := acquisition.Attempt{ID: "x", Serial: "A", Outcome: acquisition.OutcomeAborted, StartedAt: attemptBase}
	if err := db.RecordAttempt(ctx, a); err == nil {
		t.Error("expected an error with a cancelled context")
	}
}

func TestRecentAttempts_FilterAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		serial := "A"
		if i%2 == 1 {
			serial = "B"
		}
		a := acquisition.Attempt{
			ID:        fmt.Sprintf("id-%d", i),
			Serial:    serial,
			Outcome:   acquisition.OutcomeComplete,
			StartedAt: attemptBase.Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		serial  string
		limit   int
		wantIDs []string
	}{
		{"all", "", 0, []string{"id-4", "id-3", "id-2", "id-1", "id-0"}},
		{"limited", "", 2, []string{"id-4", "id-3"}},
		{"serial A", "A", 10, []string{"id-4", "id-2", "id-0"}},
		{"serial B limited", "B", 1, []string{"id-3"}},
		{"unknown serial", "Z", 10, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.RecentAttempts(tt.serial, tt.limit)
			if err != nil {
				t.Fatalf("RecentAttempts failed: %v", err)
			}
			ids := []string{}
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOutcomeCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	outcomes := []struct {
		serial  string
		outcome acquisition.Outcome
	}{
		{"A", acquisition.OutcomeComplete},
		{"A", acquisition.OutcomeComplete},
		{"A", acquisition.OutcomeRejected},
		{"B", acquisition.OutcomeTimeout},
	}
	for i, o := range outcomes {
		a := acquisition.Attempt{ID: fmt.Sprint(i), Serial: o.serial, Outcome: o.outcome, StartedAt: attemptBase}
		if err := db.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.OutcomeCounts("")
	if err != nil {
		t.Fatal(err)
	}
	want := map[acquisition.Outcome]int{
		acquisition.OutcomeComplete: 2,
		acquisition.OutcomeRejected: 1,
		acquisition.OutcomeTimeout:  1,
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("OutcomeCounts(all) mismatch (-want +got):\n%s", diff)
	}

	onlyB, err := db.OutcomeCounts("B")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[acquisition.Outcome]int{acquisition.OutcomeTimeout: 1}, onlyB); diff != "" {
		t.Errorf("OutcomeCounts(B) mismatch (-want +got):\n%s", diff)
	}
}
