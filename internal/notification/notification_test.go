package notification

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func validParams() Params {
	return Params{
		TenantID:   "tenant_1",
		Type:       "ticket_assigned",
		Severity:   SeverityMedium,
		Title:      "Ticket assigned",
		Message:    "Ticket T-100 has been assigned to you.",
		Channels:   []string{ChannelInApp, ChannelEmail},
		MaxRetries: 3,
	}
}

func TestNew(t *testing.T) {
	t.Run("valid params", func(t *testing.T) {
		n, err := New(validParams())
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		if n.ID == "" {
			t.Error("expected generated ID")
		}
		if n.Status != StatusPending {
			t.Errorf("expected pending status, got %s", n.Status)
		}
		if n.ScheduledAt.IsZero() {
			t.Error("expected scheduled_at to default to now")
		}
	})

	t.Run("future schedule starts scheduled", func(t *testing.T) {
		p := validParams()
		p.ScheduledAt = time.Now().UTC().Add(time.Hour)
		n, err := New(p)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		if n.Status != StatusScheduled {
			t.Errorf("expected scheduled status, got %s", n.Status)
		}
	})

	t.Run("defaults severity to medium", func(t *testing.T) {
		p := validParams()
		p.Severity = ""
		n, err := New(p)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		if n.Severity != SeverityMedium {
			t.Errorf("expected medium severity, got %s", n.Severity)
		}
	})

	t.Run("collects all violations", func(t *testing.T) {
		expired := time.Now().UTC().Add(-time.Hour)
		_, err := New(Params{ExpiresAt: &expired, MaxRetries: -1})
		var invalid *InvalidNotificationError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidNotificationError, got %v", err)
		}
		want := []string{"tenant id", "title", "message", "channel", "expires_at", "max_retries"}
		for _, fragment := range want {
			if !strings.Contains(err.Error(), fragment) {
				t.Errorf("expected violation mentioning %q, got: %v", fragment, err)
			}
		}
		if len(invalid.Violations) != len(want) {
			t.Errorf("expected %d violations, got %d: %v", len(want), len(invalid.Violations), invalid.Violations)
		}
	})
}

func TestIsExpired(t *testing.T) {
	n, _ := New(validParams())

	if n.IsExpired(testNow) {
		t.Error("notification without expiry must never expire")
	}

	past := testNow.Add(-time.Minute)
	n.ExpiresAt = &past
	if !n.IsExpired(testNow) {
		t.Error("expected expired")
	}

	future := testNow.Add(time.Minute)
	n.ExpiresAt = &future
	if n.IsExpired(testNow) {
		t.Error("expected not expired")
	}
}

func TestCanBeSent(t *testing.T) {
	future := testNow.Add(time.Hour)
	past := testNow.Add(-time.Minute)

	tests := []struct {
		name        string
		status      Status
		scheduledAt time.Time
		expiresAt   *time.Time
		want        bool
	}{
		{"pending and due", StatusPending, testNow.Add(-time.Minute), nil, true},
		{"scheduled and due", StatusScheduled, testNow, nil, true},
		{"not yet due", StatusScheduled, future, nil, false},
		{"expired", StatusPending, testNow.Add(-time.Hour), &past, false},
		{"already sent", StatusSent, testNow.Add(-time.Minute), nil, false},
		{"failed", StatusFailed, testNow.Add(-time.Minute), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Notification{Status: tt.status, ScheduledAt: tt.scheduledAt, ExpiresAt: tt.expiresAt}
			if got := n.CanBeSent(testNow); got != tt.want {
				t.Errorf("CanBeSent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequiresEscalation(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		status   Status
		age      time.Duration
		want     bool
	}{
		{"critical pending 16 minutes", SeverityCritical, StatusPending, 16 * time.Minute, true},
		{"critical pending exactly 15 minutes", SeverityCritical, StatusPending, 15 * time.Minute, true},
		{"critical pending 14 minutes", SeverityCritical, StatusPending, 14 * time.Minute, false},
		{"high pending 16 minutes", SeverityHigh, StatusPending, 16 * time.Minute, false},
		{"critical sent 16 minutes", SeverityCritical, StatusSent, 16 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Notification{
				Severity:    tt.severity,
				Status:      tt.status,
				ScheduledAt: testNow.Add(-tt.age),
			}
			if got := n.RequiresEscalation(testNow); got != tt.want {
				t.Errorf("RequiresEscalation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	failedAt := testNow.Add(-10 * time.Minute)
	old := testNow.Add(-2 * time.Hour)

	tests := []struct {
		name       string
		status     Status
		failedAt   *time.Time
		retryCount int
		maxRetries int
		want       bool
	}{
		{"failed with budget inside window", StatusFailed, &failedAt, 1, 3, true},
		{"budget exhausted", StatusFailed, &failedAt, 3, 3, false},
		{"outside retry window", StatusFailed, &old, 1, 3, false},
		{"not failed", StatusPending, &failedAt, 0, 3, false},
		{"failed without timestamp", StatusFailed, nil, 1, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Notification{
				Status:     tt.status,
				FailedAt:   tt.failedAt,
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := n.ShouldRetry(testNow); got != tt.want {
				t.Errorf("ShouldRetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	t.Run("pending to sent", func(t *testing.T) {
		n, _ := New(validParams())
		if err := n.MarkAsSent(testNow); err != nil {
			t.Fatalf("MarkAsSent: %v", err)
		}
		if n.Status != StatusSent || n.SentAt == nil {
			t.Errorf("expected sent with timestamp, got %s %v", n.Status, n.SentAt)
		}
	})

	t.Run("failed to sent on retry", func(t *testing.T) {
		n, _ := New(validParams())
		if err := n.MarkAsFailed(testNow, "smtp timeout"); err != nil {
			t.Fatalf("MarkAsFailed: %v", err)
		}
		if err := n.MarkAsSent(testNow.Add(time.Minute)); err != nil {
			t.Fatalf("MarkAsSent after failure: %v", err)
		}
		if n.Status != StatusSent {
			t.Errorf("expected sent, got %s", n.Status)
		}
	})

	t.Run("sent to delivered", func(t *testing.T) {
		n, _ := New(validParams())
		n.MarkAsSent(testNow)
		if err := n.MarkAsDelivered(testNow.Add(time.Second)); err != nil {
			t.Fatalf("MarkAsDelivered: %v", err)
		}
		if n.Status != StatusDelivered || n.DeliveredAt == nil {
			t.Errorf("expected delivered with timestamp, got %s %v", n.Status, n.DeliveredAt)
		}
	})

	t.Run("delivered is terminal", func(t *testing.T) {
		n, _ := New(validParams())
		n.MarkAsSent(testNow)
		n.MarkAsDelivered(testNow)

		var transition *InvalidTransitionError
		if err := n.MarkAsSent(testNow); !errors.As(err, &transition) {
			t.Errorf("expected InvalidTransitionError, got %v", err)
		}
		if err := n.MarkAsFailed(testNow, "x"); !errors.As(err, &transition) {
			t.Errorf("expected InvalidTransitionError, got %v", err)
		}
	})

	t.Run("delivered only from sent", func(t *testing.T) {
		n, _ := New(validParams())
		var transition *InvalidTransitionError
		if err := n.MarkAsDelivered(testNow); !errors.As(err, &transition) {
			t.Errorf("expected InvalidTransitionError, got %v", err)
		}
	})
}

func TestMarkAsFailed(t *testing.T) {
	n, _ := New(validParams())

	n.MarkAsFailed(testNow, "smtp timeout")
	n.MarkAsFailed(testNow.Add(time.Minute), "smtp timeout again")

	if n.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", n.RetryCount)
	}
	history, ok := n.Metadata[metadataFailureHistory].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("expected 2 failure history entries, got %v", n.Metadata[metadataFailureHistory])
	}
	rec, ok := history[1].(FailureRecord)
	if !ok {
		t.Fatalf("unexpected history entry type %T", history[1])
	}
	if rec.Attempt != 2 || rec.Reason != "smtp timeout again" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestMarkAsExpired(t *testing.T) {
	past := testNow.Add(-time.Minute)

	t.Run("no-op without expiry", func(t *testing.T) {
		n, _ := New(validParams())
		if n.MarkAsExpired(testNow) {
			t.Error("expected no-op for notification without expiry")
		}
		if n.Status != StatusPending {
			t.Errorf("status changed to %s", n.Status)
		}
	})

	t.Run("expires pending", func(t *testing.T) {
		n, _ := New(validParams())
		n.ExpiresAt = &past
		if !n.MarkAsExpired(testNow) {
			t.Fatal("expected status change")
		}
		if n.Status != StatusExpired {
			t.Errorf("expected expired, got %s", n.Status)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		n, _ := New(validParams())
		n.ExpiresAt = &past
		n.MarkAsExpired(testNow)
		if n.MarkAsExpired(testNow) {
			t.Error("second call must be a no-op")
		}
	})

	t.Run("delivered wins over expiry", func(t *testing.T) {
		n, _ := New(validParams())
		n.MarkAsSent(testNow)
		n.MarkAsDelivered(testNow)
		n.ExpiresAt = &past
		if n.MarkAsExpired(testNow) {
			t.Error("delivered notification must not expire")
		}
	})
}

func TestEscalateSeverity(t *testing.T) {
	n := &Notification{Severity: SeverityLow}
	for _, want := range []Severity{SeverityMedium, SeverityHigh, SeverityCritical} {
		n.EscalateSeverity()
		if n.Severity != want {
			t.Fatalf("expected %s, got %s", want, n.Severity)
		}
	}
	n.EscalateSeverity()
	if n.Severity != SeverityCritical {
		t.Errorf("escalation past critical must be a no-op, got %s", n.Severity)
	}
}

func TestUpdatedAtMonotone(t *testing.T) {
	n, _ := New(validParams())
	before := n.UpdatedAt

	n.MarkAsFailed(before.Add(-time.Hour), "clock skew")
	if n.UpdatedAt.Before(before) {
		t.Errorf("updated_at went backwards: %s -> %s", before, n.UpdatedAt)
	}

	later := before.Add(time.Hour)
	n.MarkAsSent(later)
	if !n.UpdatedAt.Equal(later) {
		t.Errorf("expected updated_at %s, got %s", later, n.UpdatedAt)
	}
}
