package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransitionFollowsLifecycle(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}: true,
		{StatusProcessing, StatusSuccess}: true,
		{StatusProcessing, StatusFailed}:  true,
		{StatusSuccess, StatusRollback}:   true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, expected %v", from, to, got, want)
			}
		}
	}
}

func TestDeploymentTransitionRejectsInvalidMoves(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"failed to success", StatusFailed, StatusSuccess},
		{"pending to success", StatusPending, StatusSuccess},
		{"failed to rollback", StatusFailed, StatusRollback},
		{"rollback to success", StatusRollback, StatusSuccess},
		{"processing to rollback", StatusProcessing, StatusRollback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Deployment{ID: "dep-1", Status: tc.from}
			err := d.Transition(tc.to, now)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if d.Status != tc.from {
				t.Fatalf("expected status to stay %s, got %s", tc.from, d.Status)
			}
		})
	}
}

func TestDeploymentTransitionStampsTimes(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := Deployment{ID: "dep-1", Status: StatusPending}
	if err := d.Transition(StatusProcessing, start); err != nil {
		t.Fatalf("transition to processing: %v", err)
	}
	if d.StartedAt == nil || !d.StartedAt.Equal(start) {
		t.Fatalf("expected started_at %v, got %v", start, d.StartedAt)
	}
	end := start.Add(time.Minute)
	if err := d.Fail("boom", end); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if d.ErrorMessage != "boom" {
		t.Fatalf("expected error message boom, got %q", d.ErrorMessage)
	}
	if d.CompletedAt == nil || !d.CompletedAt.Equal(end) {
		t.Fatalf("expected completed_at %v, got %v", end, d.CompletedAt)
	}
}

func TestSettleCountersSumToTotal(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name   string
		states []Status
		want   Status
	}{
		{"all success", []Status{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"one failed", []Status{StatusSuccess, StatusFailed, StatusSuccess}, StatusFailed},
		{"all failed", []Status{StatusFailed}, StatusFailed},
		{"in flight", []Status{StatusSuccess, StatusProcessing}, StatusProcessing},
		{"not started", []Status{StatusPending, StatusFailed}, StatusProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Batch{ID: "batch-1"}
			for _, s := range tc.states {
				b.Deployments = append(b.Deployments, Deployment{Status: s})
			}
			b.Settle(now)
			if b.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, b.Status)
			}
			if b.Total != len(tc.states) {
				t.Fatalf("expected total %d, got %d", len(tc.states), b.Total)
			}
			if b.Status.Terminal() {
				if b.Successful+b.Failed != b.Total {
					t.Fatalf("expected counters to sum to %d, got %d+%d", b.Total, b.Successful, b.Failed)
				}
				if b.CompletedAt == nil {
					t.Fatal("expected completed_at to be set")
				}
			}
			first := b.Status
			b.Settle(now)
			if b.Status != first {
				t.Fatalf("expected recomputation to be stable, got %s then %s", first, b.Status)
			}
		})
	}
}

func TestCountByStatusIncludesEveryStatus(t *testing.T) {
	counts := CountByStatus([]Deployment{{Status: StatusSuccess}, {Status: StatusSuccess}, {Status: StatusFailed}})
	if len(counts) != len(Statuses) {
		t.Fatalf("expected %d keys, got %d", len(Statuses), len(counts))
	}
	if counts[StatusSuccess] != 2 || counts[StatusFailed] != 1 || counts[StatusPending] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestParseHelpers(t *testing.T) {
	if s, err := ParseStatus("rollback"); err != nil || s != StatusRollback {
		t.Fatalf("expected ROLLBACK, got %s (%v)", s, err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if p, err := ParsePillar(" Risk "); err != nil || p != PillarRisk {
		t.Fatalf("expected risk pillar, got %s (%v)", p, err)
	}
	if _, err := ParsePillar("payments"); err == nil {
		t.Fatal("expected error for unknown pillar")
	}
	if m, err := ParseProcessingMode(""); err != nil || m != ModeParallel {
		t.Fatalf("expected parallel default, got %s (%v)", m, err)
	}
}
