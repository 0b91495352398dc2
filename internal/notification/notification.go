// Package notification implements the OmniBridge notification processing and
// delivery engine: the notification lifecycle, the delivery policy rules, and
// the background dispatcher that drains pending notifications per tenant.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent a notification is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityOrder is the escalation scale, lowest first.
var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func severityRank(s Severity) int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Status is the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Delivery channels known to the engine. Senders register under these
// identifiers; adding a channel means adding a sender, not touching the
// dispatcher.
const (
	ChannelInApp     = "in_app"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
	ChannelPush      = "push"
	ChannelWebhook   = "webhook"
	ChannelDashboard = "dashboard"
)

const (
	// escalationAfter is how long a critical notification may sit pending
	// before RequiresEscalation reports true.
	escalationAfter = 15 * time.Minute

	// retryWindow bounds how long after the last failure a retry is allowed.
	retryWindow = time.Hour

	// metadataFailureHistory is the metadata key failure records accumulate
	// under.
	metadataFailureHistory = "failure_history"
)

// FailureRecord is one entry in the failure history kept in metadata.
type FailureRecord struct {
	Reason  string    `json:"reason"`
	Attempt int       `json:"attempt"`
	Partial bool      `json:"partial,omitempty"`
	At      time.Time `json:"at"`
}

// Notification is a unit of outbound alerting content owned by a tenant. The
// store is the durable owner; an in-memory value is a working copy for the
// duration of one dispatch pass.
type Notification struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Type     string         `json:"type"`
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Channels []string `json:"channels"`
	Status   Status   `json:"status"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	RelatedEntityType string `json:"related_entity_type,omitempty"`
	RelatedEntityID   string `json:"related_entity_id,omitempty"`
	UserID            string `json:"user_id,omitempty"` // empty means broadcast

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// loadedStatus is the status the row carried when the store scanned it,
	// used for conditional updates. Empty for freshly constructed values.
	loadedStatus Status
}

// Params carries the caller-supplied fields for constructing a Notification.
type Params struct {
	TenantID          string
	Type              string
	Severity          Severity
	Title             string
	Message           string
	Channels          []string
	ScheduledAt       time.Time // zero means now
	ExpiresAt         *time.Time
	UserID            string
	RelatedEntityType string
	RelatedEntityID   string
	Metadata          map[string]any
	MaxRetries        int
}

// New constructs a Notification, enforcing the construction invariants. It
// returns an *InvalidNotificationError listing every violated rule. The
// initial status is scheduled when ScheduledAt lies in the future, pending
// otherwise.
func New(p Params) (*Notification, error) {
	now := time.Now().UTC()
	scheduledAt := p.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	var violations []string
	if p.TenantID == "" {
		violations = append(violations, "tenant id must not be empty")
	}
	if p.Title == "" {
		violations = append(violations, "title must not be empty")
	}
	if p.Message == "" {
		violations = append(violations, "message must not be empty")
	}
	if len(p.Channels) == 0 {
		violations = append(violations, "at least one channel is required")
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(scheduledAt) {
		violations = append(violations, "expires_at must be after scheduled_at")
	}
	if p.MaxRetries < 0 {
		violations = append(violations, "max_retries must not be negative")
	}
	if len(violations) > 0 {
		return nil, &InvalidNotificationError{Violations: violations}
	}

	severity := p.Severity
	if severity == "" {
		severity = SeverityMedium
	}

	status := StatusPending
	if scheduledAt.After(now) {
		status = StatusScheduled
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Notification{
		ID:                uuid.New().String(),
		TenantID:          p.TenantID,
		Type:              p.Type,
		Severity:          severity,
		Title:             p.Title,
		Message:           p.Message,
		Metadata:          metadata,
		Channels:          append([]string(nil), p.Channels...),
		Status:            status,
		ScheduledAt:       scheduledAt,
		ExpiresAt:         p.ExpiresAt,
		UserID:            p.UserID,
		RelatedEntityType: p.RelatedEntityType,
		RelatedEntityID:   p.RelatedEntityID,
		MaxRetries:        p.MaxRetries,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsExpired reports whether the notification's expiry, if any, has passed.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// CanBeSent reports whether a delivery attempt is currently legal: the
// notification is still pending or scheduled, has not expired, and its
// scheduled time has arrived.
func (n *Notification) CanBeSent(now time.Time) bool {
	if n.Status != StatusPending && n.Status != StatusScheduled {
		return false
	}
	if n.IsExpired(now) {
		return false
	}
	return !n.ScheduledAt.After(now)
}

// RequiresEscalation reports whether a critical notification has sat pending
// past the escalation threshold.
func (n *Notification) RequiresEscalation(now time.Time) bool {
	return n.Severity == SeverityCritical &&
		n.Status == StatusPending &&
		now.Sub(n.ScheduledAt) >= escalationAfter
}

// ShouldRetry reports whether a failed notification is still inside its
// retry budget and time window.
func (n *Notification) ShouldRetry(now time.Time) bool {
	if n.Status != StatusFailed || n.FailedAt == nil {
		return false
	}
	if n.RetryCount >= n.MaxRetries {
		return false
	}
	return now.Sub(*n.FailedAt) < retryWindow
}

// MarkAsSent records a successful delivery attempt. Legal from pending and
// scheduled, and from failed when completing a retry.
func (n *Notification) MarkAsSent(now time.Time) error {
	switch n.Status {
	case StatusPending, StatusScheduled, StatusFailed:
	default:
		return &InvalidTransitionError{From: n.Status, To: StatusSent}
	}
	n.Status = StatusSent
	t := now
	n.SentAt = &t
	n.touch(now)
	return nil
}

// MarkAsDelivered records a delivery receipt. Legal only from sent.
func (n *Notification) MarkAsDelivered(now time.Time) error {
	if n.Status != StatusSent {
		return &InvalidTransitionError{From: n.Status, To: StatusDelivered}
	}
	n.Status = StatusDelivered
	t := now
	n.DeliveredAt = &t
	n.touch(now)
	return nil
}

// MarkAsFailed records a failed delivery attempt from any non-terminal state.
// It increments the retry count and appends the reason to the failure
// history kept in metadata.
func (n *Notification) MarkAsFailed(now time.Time, reason string) error {
	if n.Status == StatusDelivered || n.Status == StatusExpired {
		return &InvalidTransitionError{From: n.Status, To: StatusFailed}
	}
	n.Status = StatusFailed
	t := now
	n.FailedAt = &t
	n.RetryCount++
	n.recordFailure(FailureRecord{Reason: reason, Attempt: n.RetryCount, At: now})
	n.touch(now)
	return nil
}

// MarkAsExpired moves the notification to expired. It is a no-op unless the
// notification is actually past its expiry and not already terminal; it
// reports whether the status changed.
func (n *Notification) MarkAsExpired(now time.Time) bool {
	if !n.IsExpired(now) {
		return false
	}
	if n.Status == StatusDelivered || n.Status == StatusExpired {
		return false
	}
	n.Status = StatusExpired
	n.touch(now)
	return true
}

// EscalateSeverity raises severity one step on the ordered scale. No-op at
// critical.
func (n *Notification) EscalateSeverity() {
	rank := severityRank(n.Severity)
	if rank < 0 || rank >= len(severityOrder)-1 {
		return
	}
	n.Severity = severityOrder[rank+1]
	n.touch(time.Now().UTC())
}

// RecordPartialFailure appends a failure-history entry for channels that
// failed during an attempt that still succeeded overall. It does not touch
// the retry count or status.
func (n *Notification) RecordPartialFailure(now time.Time, reason string) {
	n.recordFailure(FailureRecord{Reason: reason, Attempt: n.RetryCount, Partial: true, At: now})
	n.touch(now)
}

func (n *Notification) recordFailure(rec FailureRecord) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	history, _ := n.Metadata[metadataFailureHistory].([]any)
	n.Metadata[metadataFailureHistory] = append(history, rec)
}

// touch bumps UpdatedAt, keeping it monotonically non-decreasing.
func (n *Notification) touch(now time.Time) {
	if now.After(n.UpdatedAt) {
		n.UpdatedAt = now
	}
}
