package notification

import (
	"context"
	"sync"
	"time"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// TenantProcessor is the slice of the dispatcher the scheduler drives.
type TenantProcessor interface {
	ProcessTenant(ctx context.Context, tenantID string, limit int, urgentOnly bool) (*Summary, error)
}

// SchedulerConfig tunes the two processing cadences.
type SchedulerConfig struct {
	NormalInterval time.Duration // full passes, default 30s
	UrgentInterval time.Duration // urgent-only passes, default 5s
	BatchLimit     int           // per-tenant notifications per pass
}

func (c *SchedulerConfig) applyDefaults() {
	if c.NormalInterval <= 0 {
		c.NormalInterval = 30 * time.Second
	}
	if c.UrgentInterval <= 0 {
		c.UrgentInterval = 5 * time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 50
	}
}

// Scheduler runs the process-wide background loops: a normal cadence that
// dispatches everything due and an urgent cadence restricted to
// high-priority notifications. Each tick fans out one pass per known
// tenant; a failing tenant never blocks its siblings.
type Scheduler struct {
	processor TenantProcessor
	tenants   TenantRegistry
	log       *observability.Logger
	cfg       SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewScheduler(processor TenantProcessor, tenants TenantRegistry, cfg SchedulerConfig, log *observability.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		processor: processor,
		tenants:   tenants,
		log:       log,
		cfg:       cfg,
	}
}

// Start launches both cadence loops. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	go s.loop(s.cfg.NormalInterval, false)
	go s.loop(s.cfg.UrgentInterval, true)
	s.log.Info("scheduler started",
		"normal_interval", s.cfg.NormalInterval, "urgent_interval", s.cfg.UrgentInterval)
}

// Stop halts both loops without waiting for in-flight passes; they run to
// completion on their own. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.log.Info("scheduler stopped")
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(every time.Duration, urgentOnly bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(urgentOnly)
		}
	}
}

// tick runs one pass per tenant, each on its own goroutine with panic
// isolation so no tenant can take down the loop or starve the others.
func (s *Scheduler) tick(urgentOnly bool) {
	ctx := context.Background()

	tenantIDs, err := s.tenants.ListTenants(ctx)
	if err != nil {
		s.log.Error("listing tenants failed, skipping tick", "error", err)
		return
	}

	for _, tenantID := range tenantIDs {
		go s.runTenant(ctx, tenantID, urgentOnly)
	}
}

func (s *Scheduler) runTenant(ctx context.Context, tenantID string, urgentOnly bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tenant pass panicked", "tenant_id", tenantID, "panic", r)
		}
	}()

	summary, err := s.processor.ProcessTenant(ctx, tenantID, s.cfg.BatchLimit, urgentOnly)
	if err != nil {
		s.log.Error("tenant pass failed", "tenant_id", tenantID, "urgent_only", urgentOnly, "error", err)
		return
	}
	if summary.Processed > 0 || summary.Expired > 0 || summary.Escalated > 0 {
		s.log.Info("tenant pass complete",
			"tenant_id", tenantID, "urgent_only", urgentOnly,
			"processed", summary.Processed, "sent", summary.Sent,
			"failed", summary.Failed, "expired", summary.Expired,
			"escalated", summary.Escalated)
	}
}
