package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// Stats is the aggregate view of a tenant's notifications.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByClass    map[string]int   `json:"by_class"`
	Last24h    int              `json:"last_24h"`
}

// Queries exposes the read and bookkeeping operations the back-office
// surface consumes: listing, stats, mark-as-read and deletion. It never
// touches the delivery lifecycle.
type Queries struct {
	store Store
	log   *observability.Logger
}

func NewQueries(store Store, log *observability.Logger) *Queries {
	return &Queries{store: store, log: log}
}

func (q *Queries) List(ctx context.Context, tenantID string, f Filter, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.FindMany(ctx, tenantID, f, limit, offset)
}

func (q *Queries) Get(ctx context.Context, tenantID, id string) (*Notification, error) {
	return q.store.FindByID(ctx, tenantID, id)
}

// Stats aggregates totals and distributions via the store's count contract.
func (q *Queries) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	total, err := q.store.Count(ctx, tenantID, Filter{})
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	stats := &Stats{
		Total:      total,
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByClass:    make(map[string]int),
	}

	for _, status := range []Status{StatusPending, StatusScheduled, StatusSent, StatusDelivered, StatusFailed, StatusExpired} {
		count, err := q.store.Count(ctx, tenantID, Filter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("count by status %s: %w", status, err)
		}
		if count > 0 {
			stats.ByStatus[status] = count
		}
	}

	for _, severity := range severityOrder {
		count, err := q.store.Count(ctx, tenantID, Filter{Severity: severity})
		if err != nil {
			return nil, fmt.Errorf("count by severity %s: %w", severity, err)
		}
		if count > 0 {
			stats.BySeverity[severity] = count
		}
	}

	for _, class := range []string{ClassSystem, ClassSecurity, ClassTicket, ClassField, ClassTimecard} {
		count, err := q.store.Count(ctx, tenantID, Filter{TypePrefix: class + "_"})
		if err != nil {
			return nil, fmt.Errorf("count by class %s: %w", class, err)
		}
		if count > 0 {
			stats.ByClass[class] = count
		}
	}

	recent, err := q.store.Count(ctx, tenantID, Filter{CreatedFrom: time.Now().UTC().Add(-24 * time.Hour)})
	if err != nil {
		return nil, fmt.Errorf("count recent: %w", err)
	}
	stats.Last24h = recent

	return stats, nil
}

// MarkRead records the read receipt in metadata; the delivery lifecycle is
// not affected.
func (q *Queries) MarkRead(ctx context.Context, tenantID, id string) error {
	n, err := q.store.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	if _, already := n.Metadata["read_at"]; already {
		return nil
	}
	n.Metadata["read_at"] = time.Now().UTC().Format(time.RFC3339)
	return q.store.Update(ctx, n)
}

// MarkManyRead marks each id read, collecting per-id failures without
// aborting the batch. It returns the number marked.
func (q *Queries) MarkManyRead(ctx context.Context, tenantID string, ids []string) (int, error) {
	var marked int
	var firstErr error
	for _, id := range ids {
		if err := q.MarkRead(ctx, tenantID, id); err != nil {
			q.log.Warn("mark read failed", "tenant_id", tenantID, "notification_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		marked++
	}
	return marked, firstErr
}

func (q *Queries) Delete(ctx context.Context, tenantID, id string) error {
	return q.store.Delete(ctx, tenantID, id)
}
