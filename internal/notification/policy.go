package notification

import (
	"fmt"
	"strings"
	"time"
)

// Type classes. Notification types follow a prefix convention
// (system_outage, security_breach, ticket_assigned, ...) and the class
// drives channel selection, retry and escalation policy.
const (
	ClassSystem   = "system"
	ClassSecurity = "security"
	ClassTicket   = "ticket"
	ClassField    = "field"
	ClassTimecard = "timecard"
)

// TypeClass extracts the policy class from a notification type. Types
// without a known prefix map to the empty class and get default policy.
func TypeClass(typ string) string {
	for _, class := range []string{ClassSystem, ClassSecurity, ClassTicket, ClassField, ClassTimecard} {
		if strings.HasPrefix(typ, class+"_") {
			return class
		}
	}
	return ""
}

// DetermineChannels selects the delivery channels for a type and severity.
// User preferences are honored for unclassified types unless severity is
// critical, which always overrides preferences.
func DetermineChannels(typ string, severity Severity, userPreferences []string) []string {
	class := TypeClass(typ)

	if class == ClassSystem && severity == SeverityCritical {
		return []string{ChannelInApp, ChannelEmail, ChannelSMS, ChannelDashboard}
	}
	switch class {
	case ClassSecurity:
		return []string{ChannelInApp, ChannelEmail, ChannelSMS}
	case ClassField:
		return []string{ChannelInApp, ChannelPush, ChannelSMS}
	case ClassTicket:
		return []string{ChannelInApp, ChannelEmail}
	case ClassTimecard:
		return []string{ChannelInApp}
	}

	if severity != SeverityCritical && len(userPreferences) > 0 {
		return append([]string(nil), userPreferences...)
	}
	return []string{ChannelInApp, ChannelEmail}
}

// RetryPlan is the retry policy computed for one notification class.
type RetryPlan struct {
	ShouldRetry bool
	RetryAfter  time.Duration
	MaxRetries  int
}

// retryRule is one row of the retry policy table.
type retryRule struct {
	base       time.Duration
	cap        time.Duration
	maxRetries int
	fixed      bool // no exponential growth
}

var defaultRetryRule = retryRule{base: 300 * time.Second, cap: 1800 * time.Second, maxRetries: 3}

// RetryStrategy computes the backoff and retry budget for a notification of
// the given type and severity after retryCount failures. Backoff grows
// exponentially per class and is capped.
func RetryStrategy(typ string, severity Severity, retryCount int) RetryPlan {
	rule := defaultRetryRule
	switch class := TypeClass(typ); {
	case class == ClassSystem && severity == SeverityCritical:
		rule = retryRule{base: 30 * time.Second, cap: 300 * time.Second, maxRetries: 5}
	case class == ClassSecurity:
		rule = retryRule{base: 60 * time.Second, cap: 600 * time.Second, maxRetries: 3}
	case class == ClassField:
		rule = retryRule{base: 120 * time.Second, maxRetries: 2, fixed: true}
	}

	after := rule.base
	if !rule.fixed {
		for i := 0; i < retryCount; i++ {
			after *= 2
			if rule.cap > 0 && after >= rule.cap {
				after = rule.cap
				break
			}
		}
		if rule.cap > 0 && after > rule.cap {
			after = rule.cap
		}
	}

	return RetryPlan{
		ShouldRetry: retryCount < rule.maxRetries,
		RetryAfter:  after,
		MaxRetries:  rule.maxRetries,
	}
}

// EscalationDecision is the outcome of the escalation rules for one
// notification. NewSeverity is empty when the original's severity should be
// left alone.
type EscalationDecision struct {
	Escalate    bool
	Reason      string
	NewSeverity Severity
}

// ShouldEscalate applies the escalation rule table, first match wins.
func ShouldEscalate(n *Notification, now time.Time) EscalationDecision {
	class := TypeClass(n.Type)
	pendingFor := now.Sub(n.ScheduledAt)

	switch {
	case n.Severity == SeverityCritical && n.Status == StatusFailed && n.RetryCount >= 2:
		return EscalationDecision{Escalate: true, Reason: "failed multiple times"}
	case class == ClassSystem && n.Status == StatusPending && pendingFor > 15*time.Minute:
		dec := EscalationDecision{Escalate: true, Reason: "system notification pending over 15 minutes"}
		if severityRank(n.Severity) < severityRank(SeverityHigh) {
			dec.NewSeverity = SeverityHigh
		}
		return dec
	case class == ClassSecurity && n.Status == StatusPending && pendingFor > 5*time.Minute:
		dec := EscalationDecision{Escalate: true, Reason: "security notification pending over 5 minutes"}
		if n.Severity != SeverityCritical {
			dec.NewSeverity = SeverityCritical
		}
		return dec
	case class == ClassField && n.Status == StatusFailed:
		dec := EscalationDecision{Escalate: true, Reason: "field notification delivery failed"}
		if severityRank(n.Severity) < severityRank(SeverityHigh) {
			dec.NewSeverity = SeverityHigh
		}
		return dec
	}
	return EscalationDecision{}
}

// ValidateNotification checks the base invariants plus the class-specific
// rules and returns every violation found.
func ValidateNotification(n *Notification) []string {
	var violations []string
	if n.TenantID == "" {
		violations = append(violations, "tenant id must not be empty")
	}
	if n.Title == "" {
		violations = append(violations, "title must not be empty")
	}
	if n.Message == "" {
		violations = append(violations, "message must not be empty")
	}
	if len(n.Channels) == 0 {
		violations = append(violations, "at least one channel is required")
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(n.ScheduledAt) {
		violations = append(violations, "expires_at must be after scheduled_at")
	}
	if n.MaxRetries < 0 {
		violations = append(violations, "max_retries must not be negative")
	}

	switch TypeClass(n.Type) {
	case ClassSystem:
		if n.Severity != SeverityHigh && n.Severity != SeverityCritical {
			violations = append(violations, "system notifications must be high or critical severity")
		}
	case ClassSecurity:
		if n.RelatedEntityType == "" || n.RelatedEntityID == "" {
			violations = append(violations, "security notifications must reference a related entity")
		}
	case ClassField:
		if n.UserID == "" {
			violations = append(violations, "field notifications must target a user")
		}
	}
	return violations
}

// Severity base scores for processing priority.
var severityScore = map[Severity]int{
	SeverityCritical: 1000,
	SeverityHigh:     500,
	SeverityMedium:   100,
	SeverityLow:      10,
}

// classBonus awards extra priority to operationally sensitive classes.
var classBonus = map[string]int{
	ClassSystem:   200,
	ClassSecurity: 150,
	ClassField:    100,
}

// Priority scores a notification for processing order: severity base plus
// class bonus plus twice the age in minutes, minus 50 per retry already
// spent. Never negative; higher is processed first.
func Priority(n *Notification, now time.Time) int {
	score := severityScore[n.Severity] + classBonus[TypeClass(n.Type)]

	if age := now.Sub(n.ScheduledAt); age > 0 {
		score += 2 * int(age.Minutes())
	}
	score -= 50 * n.RetryCount

	if score < 0 {
		return 0
	}
	return score
}

// Delivery window bounds for non-urgent notifications, local hours.
const (
	windowOpenHour  = 8
	windowCloseHour = 20
)

// IsWithinWindow reports whether the notification may be delivered at the
// given local time. Critical severity and the system and security classes
// bypass the window entirely.
func IsWithinWindow(n *Notification, now time.Time) bool {
	if n.Severity == SeverityCritical {
		return true
	}
	switch TypeClass(n.Type) {
	case ClassSystem, ClassSecurity:
		return true
	}
	hour := now.Hour()
	return hour >= windowOpenHour && hour < windowCloseHour
}

// SeverityFromString parses a severity, defaulting invalid input to medium.
func SeverityFromString(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return SeverityMedium, fmt.Errorf("unknown severity %q", s)
}
