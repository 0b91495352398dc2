package notification

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeProcessor counts passes per tenant and records the urgent flag.
type fakeProcessor struct {
	mu      sync.Mutex
	passes  map[string]int
	urgent  int
	normal  int
	panicOn string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{passes: make(map[string]int)}
}

func (f *fakeProcessor) ProcessTenant(ctx context.Context, tenantID string, limit int, urgentOnly bool) (*Summary, error) {
	f.mu.Lock()
	f.passes[tenantID]++
	if urgentOnly {
		f.urgent++
	} else {
		f.normal++
	}
	shouldPanic := f.panicOn == tenantID
	f.mu.Unlock()

	if shouldPanic {
		panic("tenant exploded")
	}
	return &Summary{TenantID: tenantID, Processed: 1}, nil
}

func (f *fakeProcessor) passCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes[tenantID]
}

func (f *fakeProcessor) counts() (urgent, normal int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urgent, f.normal
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		NormalInterval: 10 * time.Millisecond,
		UrgentInterval: 5 * time.Millisecond,
		BatchLimit:     10,
	}
}

func TestSchedulerRunsBothCadences(t *testing.T) {
	processor := newFakeProcessor()
	tenants := NewStaticTenantRegistry([]string{"tenant_1", "tenant_2"})
	s := NewScheduler(processor, tenants, testSchedulerConfig(), testLogger())

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	for _, tenant := range []string{"tenant_1", "tenant_2"} {
		if processor.passCount(tenant) == 0 {
			t.Errorf("tenant %s never processed", tenant)
		}
	}
	urgent, normal := processor.counts()
	if urgent == 0 {
		t.Error("urgent cadence never fired")
	}
	if normal == 0 {
		t.Error("normal cadence never fired")
	}
	if urgent < normal {
		t.Errorf("urgent cadence should fire at least as often: urgent=%d normal=%d", urgent, normal)
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	processor := newFakeProcessor()
	tenants := NewStaticTenantRegistry([]string{"tenant_1"})
	s := NewScheduler(processor, tenants, testSchedulerConfig(), testLogger())

	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("expected running after Start")
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("expected stopped after Stop")
	}

	// Restart works after a full stop.
	s.Start()
	if !s.Running() {
		t.Fatal("expected running after restart")
	}
	s.Stop()
}

func TestSchedulerStopsTicking(t *testing.T) {
	processor := newFakeProcessor()
	tenants := NewStaticTenantRegistry([]string{"tenant_1"})
	s := NewScheduler(processor, tenants, testSchedulerConfig(), testLogger())

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	after := processor.passCount("tenant_1")
	time.Sleep(50 * time.Millisecond)
	if got := processor.passCount("tenant_1"); got != after {
		t.Errorf("passes continued after Stop: %d -> %d", after, got)
	}
}

func TestSchedulerIsolatesPanics(t *testing.T) {
	processor := newFakeProcessor()
	processor.panicOn = "tenant_bad"
	tenants := NewStaticTenantRegistry([]string{"tenant_bad", "tenant_good"})
	s := NewScheduler(processor, tenants, testSchedulerConfig(), testLogger())

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if processor.passCount("tenant_good") < 2 {
		t.Errorf("healthy tenant starved by panicking sibling: %d passes", processor.passCount("tenant_good"))
	}
}

func TestSchedulerConfigDefaults(t *testing.T) {
	cfg := SchedulerConfig{}
	cfg.applyDefaults()
	if cfg.NormalInterval != 30*time.Second {
		t.Errorf("normal interval = %s", cfg.NormalInterval)
	}
	if cfg.UrgentInterval != 5*time.Second {
		t.Errorf("urgent interval = %s", cfg.UrgentInterval)
	}
	if cfg.BatchLimit != 50 {
		t.Errorf("batch limit = %d", cfg.BatchLimit)
	}
}
