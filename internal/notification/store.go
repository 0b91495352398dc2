package notification

import (
	"context"
	"time"
)

// Filter narrows list and count queries. Zero values are ignored.
type Filter struct {
	Status      Status
	Severity    Severity
	Type        string
	TypePrefix  string
	UserID      string
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// Store is the persistence port for notifications. All operations are scoped
// to a tenant; the store is the system of record for dispatch resumability
// and is expected to provide per-row atomicity on Update (conditional on the
// previously loaded status).
type Store interface {
	Create(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, tenantID, id string) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, tenantID, id string) error

	FindMany(ctx context.Context, tenantID string, f Filter, limit, offset int) ([]*Notification, error)
	Count(ctx context.Context, tenantID string, f Filter) (int, error)

	// FindPendingForProcessing returns due pending/scheduled notifications.
	// minPriority filters on the severity base component of the priority
	// score (the only row-local, monotone part); pass 0 for no floor.
	FindPendingForProcessing(ctx context.Context, tenantID string, limit, minPriority int) ([]*Notification, error)

	// FindExpired returns notifications past their expiry whose status does
	// not yet reflect it.
	FindExpired(ctx context.Context, tenantID string) ([]*Notification, error)

	// FindRequiringEscalation returns escalation candidates that have not
	// been escalated yet; the policy rules make the final call.
	FindRequiringEscalation(ctx context.Context, tenantID string) ([]*Notification, error)

	// FindFailedForRetry returns failed notifications still inside the
	// one-hour retry window with attempts remaining.
	FindFailedForRetry(ctx context.Context, tenantID string) ([]*Notification, error)
}

// TenantRegistry supplies the set of tenants the scheduler serves. The
// scheduler queries it every tick so tenant churn needs no restart.
type TenantRegistry interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// StaticTenantRegistry serves a fixed tenant list, used as the configured
// fallback when no registry backend is wired.
type StaticTenantRegistry struct {
	tenants []string
}

func NewStaticTenantRegistry(tenants []string) *StaticTenantRegistry {
	return &StaticTenantRegistry{tenants: append([]string(nil), tenants...)}
}

func (r *StaticTenantRegistry) ListTenants(ctx context.Context) ([]string, error) {
	return append([]string(nil), r.tenants...), nil
}
