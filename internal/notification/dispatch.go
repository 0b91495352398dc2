package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// UrgentPriorityFloor is the minimum severity base score an urgent-only
// pass considers (high and critical).
const UrgentPriorityFloor = 500

// inflightTTL bounds how long the redis in-flight guard holds a
// notification; it auto-expires so a crashed pass never wedges a row.
const inflightTTL = 30 * time.Second

// Detail describes the outcome of one notification within a pass.
type Detail struct {
	NotificationID string   `json:"notification_id"`
	Status         Status   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	Channels       []string `json:"channels,omitempty"`
}

// Summary is the observable result of one tenant dispatch pass.
type Summary struct {
	TenantID  string   `json:"tenant_id"`
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Expired   int      `json:"expired"`
	Escalated int      `json:"escalated"`
	Details   []Detail `json:"details"`
}

// Dispatcher runs dispatch passes: it drains due notifications for a
// tenant, attempts delivery across each notification's channels, and runs
// the expiry and escalation sweeps. It holds no per-pass state and is safe
// to share across tenants.
type Dispatcher struct {
	store   Store
	senders *SenderRegistry
	redis   *redis.Client // optional in-flight guard, nil-safe
	log     *observability.Logger

	now func() time.Time
}

func NewDispatcher(store Store, senders *SenderRegistry, redisClient *redis.Client, log *observability.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		senders: senders,
		redis:   redisClient,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTenant runs one dispatch pass for a tenant: due notifications plus
// retry candidates in descending priority order, then the expiry sweep, then
// the escalation sweep. Operational failures on a single notification are
// absorbed and the pass continues; only a failure to fetch the batch aborts.
func (d *Dispatcher) ProcessTenant(ctx context.Context, tenantID string, limit int, urgentOnly bool) (*Summary, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "process_tenant", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Bool("urgent_only", urgentOnly),
	))
	defer span.End()

	started := d.now()
	defer func() { passDuration.Observe(time.Since(started).Seconds()) }()

	minPriority := 0
	if urgentOnly {
		minPriority = UrgentPriorityFloor
	}

	batch, err := d.store.FindPendingForProcessing(ctx, tenantID, limit, minPriority)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}

	if retries, err := d.store.FindFailedForRetry(ctx, tenantID); err != nil {
		d.log.Warn("fetching retry candidates failed", "tenant_id", tenantID, "error", err)
	} else {
		batch = append(batch, retries...)
	}
	if len(batch) > limit && limit > 0 {
		batch = batch[:limit]
	}

	now := d.now()
	sort.SliceStable(batch, func(i, j int) bool {
		return Priority(batch[i], now) > Priority(batch[j], now)
	})

	summary := &Summary{TenantID: tenantID}
	for _, n := range batch {
		summary.Processed++
		d.processOne(ctx, n, summary)
	}

	d.sweepExpired(ctx, tenantID, summary)
	d.sweepEscalations(ctx, tenantID, summary)

	span.SetAttributes(
		attribute.Int("processed", summary.Processed),
		attribute.Int("sent", summary.Sent),
		attribute.Int("failed", summary.Failed),
	)
	return summary, nil
}

// processOne handles a single candidate: expiry, sendability and window
// gating, then the delivery attempt across its channel set.
func (d *Dispatcher) processOne(ctx context.Context, n *Notification, summary *Summary) {
	now := d.now()

	if n.IsExpired(now) {
		if n.MarkAsExpired(now) {
			if err := d.persist(ctx, n); err != nil {
				d.log.Error("persisting expiry failed", "notification_id", n.ID, "error", err)
				return
			}
			summary.Expired++
			notificationsProcessed.WithLabelValues("expired").Inc()
		}
		summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "expired"})
		return
	}

	switch n.Status {
	case StatusPending, StatusScheduled:
		if !n.CanBeSent(now) {
			summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "not yet sendable"})
			return
		}
	case StatusFailed:
		plan := RetryStrategy(n.Type, n.Severity, n.RetryCount)
		if n.FailedAt == nil || now.Sub(*n.FailedAt) < plan.RetryAfter {
			summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "in retry backoff"})
			return
		}
	default:
		// Already sent, delivered or expired between fetch and processing.
		summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "already handled"})
		return
	}

	if !IsWithinWindow(n, now) {
		summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "outside delivery window"})
		return
	}

	if !d.acquire(ctx, n.ID) {
		summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: "already in flight"})
		return
	}

	delivered, failures := d.attemptChannels(ctx, n)

	if delivered {
		if err := n.MarkAsSent(now); err != nil {
			d.log.Error("illegal sent transition", "notification_id", n.ID, "error", err)
			return
		}
		if len(failures) > 0 {
			n.RecordPartialFailure(now, strings.Join(failures, "; "))
			d.log.Warn("partial channel failure", "notification_id", n.ID, "failures", failures)
		}
		if err := d.persist(ctx, n); err != nil {
			d.log.Error("persisting sent status failed, will retry next pass", "notification_id", n.ID, "error", err)
			return
		}
		summary.Sent++
		notificationsProcessed.WithLabelValues("sent").Inc()
		summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Channels: n.Channels})
		return
	}

	reason := "all channels failed"
	if len(failures) > 0 {
		reason = strings.Join(failures, "; ")
	}
	if err := n.MarkAsFailed(now, reason); err != nil {
		d.log.Error("illegal failed transition", "notification_id", n.ID, "error", err)
		return
	}
	if err := d.persist(ctx, n); err != nil {
		d.log.Error("persisting failed status failed, will retry next pass", "notification_id", n.ID, "error", err)
		return
	}
	summary.Failed++
	notificationsProcessed.WithLabelValues("failed").Inc()
	summary.Details = append(summary.Details, Detail{NotificationID: n.ID, Status: n.Status, Reason: reason, Channels: n.Channels})
}

// attemptChannels tries every channel in order. The attempt succeeds as a
// whole if any channel succeeds; individual channel errors are collected,
// never propagated.
func (d *Dispatcher) attemptChannels(ctx context.Context, n *Notification) (bool, []string) {
	var delivered bool
	var failures []string

	for _, ch := range n.Channels {
		sender, err := d.senders.Get(ch)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ch, err))
			deliveryAttempts.WithLabelValues(ch, "failure").Inc()
			continue
		}

		res, err := sender.Send(ctx, n, n.TenantID)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", ch, err))
			deliveryAttempts.WithLabelValues(ch, "failure").Inc()
		case res == nil || !res.Success:
			reason := "send failed"
			if res != nil && res.Err != "" {
				reason = res.Err
			}
			failures = append(failures, fmt.Sprintf("%s: %s", ch, reason))
			deliveryAttempts.WithLabelValues(ch, "failure").Inc()
		default:
			delivered = true
			deliveryAttempts.WithLabelValues(ch, "success").Inc()
		}
	}
	return delivered, failures
}

// sweepExpired marks any notification past its expiry whose status does not
// reflect it yet.
func (d *Dispatcher) sweepExpired(ctx context.Context, tenantID string, summary *Summary) {
	expired, err := d.store.FindExpired(ctx, tenantID)
	if err != nil {
		d.log.Warn("expiry sweep fetch failed", "tenant_id", tenantID, "error", err)
		return
	}
	now := d.now()
	for _, n := range expired {
		if !n.MarkAsExpired(now) {
			continue
		}
		if err := d.persist(ctx, n); err != nil {
			d.log.Error("persisting swept expiry failed", "notification_id", n.ID, "error", err)
			continue
		}
		summary.Expired++
		notificationsProcessed.WithLabelValues("expired").Inc()
	}
}

// sweepEscalations spawns a derived critical notification for every
// candidate the escalation rules confirm, marks the original as escalated,
// and raises its severity when the rules say so. The original is never
// deleted.
func (d *Dispatcher) sweepEscalations(ctx context.Context, tenantID string, summary *Summary) {
	candidates, err := d.store.FindRequiringEscalation(ctx, tenantID)
	if err != nil {
		d.log.Warn("escalation sweep fetch failed", "tenant_id", tenantID, "error", err)
		return
	}

	for _, n := range candidates {
		now := d.now()
		dec := ShouldEscalate(n, now)
		if !dec.Escalate {
			continue
		}

		derived, err := d.buildEscalation(n, dec)
		if err != nil {
			d.log.Error("building escalation failed", "notification_id", n.ID, "error", err)
			continue
		}
		if err := d.store.Create(ctx, derived); err != nil {
			d.log.Error("persisting escalation failed", "notification_id", n.ID, "error", err)
			continue
		}
		escalationsSpawned.Inc()
		summary.Escalated++

		if n.Metadata == nil {
			n.Metadata = make(map[string]any)
		}
		n.Metadata["escalated_at"] = now.Format(time.RFC3339)
		n.Metadata["escalation_id"] = derived.ID
		if dec.NewSeverity != "" {
			for severityRank(n.Severity) < severityRank(dec.NewSeverity) {
				n.EscalateSeverity()
			}
		}
		if err := d.persist(ctx, n); err != nil {
			d.log.Error("persisting escalated original failed", "notification_id", n.ID, "error", err)
		}

		d.log.Info("notification escalated",
			"notification_id", n.ID, "escalation_id", derived.ID, "reason", dec.Reason)
	}
}

func (d *Dispatcher) buildEscalation(n *Notification, dec EscalationDecision) (*Notification, error) {
	escalatedType := n.Type + "_escalation"
	return New(Params{
		TenantID: n.TenantID,
		Type:     escalatedType,
		Severity: SeverityCritical,
		Title:    "Escalated: " + n.Title,
		Message:  n.Message,
		Channels: DetermineChannels(escalatedType, SeverityCritical, nil),
		Metadata: map[string]any{
			"escalated_from":    n.ID,
			"escalation_reason": dec.Reason,
		},
		UserID:            n.UserID,
		RelatedEntityType: n.RelatedEntityType,
		RelatedEntityID:   n.RelatedEntityID,
		MaxRetries:        RetryStrategy(escalatedType, SeverityCritical, 0).MaxRetries,
	})
}

// acquire takes the short-lived in-flight guard for a notification. Without
// redis configured every pass proceeds; the store's conditional update is
// the correctness backstop either way.
func (d *Dispatcher) acquire(ctx context.Context, id string) bool {
	if d.redis == nil {
		return true
	}
	ok, err := d.redis.SetNX(ctx, "dispatch:inflight:"+id, "1", inflightTTL).Result()
	if err != nil {
		d.log.Warn("redis in-flight guard unavailable", "notification_id", id, "error", err)
		return true
	}
	return ok
}

func (d *Dispatcher) persist(ctx context.Context, n *Notification) error {
	err := d.store.Update(ctx, n)
	if errors.Is(err, ErrConflict) {
		// Another pass moved the row first; ours is stale, not broken.
		d.log.Info("skipping stale update", "notification_id", n.ID)
		return nil
	}
	return err
}
