package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func testIngestor(store *mockStore) *Ingestor {
	return NewIngestor(NewCreator(store, testLogger()), testLogger())
}

func eventBody(t *testing.T, id, tenantID string, typ EventType, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(Event{ID: id, TenantID: tenantID, Type: typ, Data: raw})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandleMessageTicketAssigned(t *testing.T) {
	store := newMockStore()
	body := eventBody(t, "evt_1", "tenant_1", EventTicketAssigned, TicketEventData{
		TicketID:   "T-100",
		Subject:    "Printer down",
		AssigneeID: "user_7",
	})

	if err := testIngestor(store).HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(store.created))
	}

	n := store.created[0]
	if n.Type != "ticket_assigned" {
		t.Errorf("type = %s", n.Type)
	}
	if n.Title != "Ticket assigned: Printer down" {
		t.Errorf("title = %q, want rendered subject", n.Title)
	}
	if n.Message != "Ticket T-100 has been assigned to you." {
		t.Errorf("message = %q", n.Message)
	}
	if n.TenantID != "tenant_1" || n.UserID != "user_7" {
		t.Errorf("tenant = %s user = %s", n.TenantID, n.UserID)
	}
	if n.RelatedEntityType != "ticket" || n.RelatedEntityID != "T-100" {
		t.Errorf("related entity = %s/%s", n.RelatedEntityType, n.RelatedEntityID)
	}
	if !sameChannelSet(n.Channels, []string{ChannelInApp, ChannelEmail}) {
		t.Errorf("channels = %v", n.Channels)
	}
	if n.Metadata["event_id"] != "evt_1" {
		t.Errorf("event_id = %v", n.Metadata["event_id"])
	}
}

func TestHandleMessageSecurityAlert(t *testing.T) {
	store := newMockStore()
	body := eventBody(t, "evt_2", "tenant_1", EventSecurityAlert, SecurityEventData{
		AlertID:     "alert_9",
		Source:      "auth-service",
		Description: "40 failed logins for acct_7.",
	})

	if err := testIngestor(store).HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	n := store.created[0]
	if n.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", n.Severity)
	}
	if n.Title != "Security alert from auth-service" {
		t.Errorf("title = %q", n.Title)
	}
	if n.RelatedEntityID != "alert_9" {
		t.Errorf("related entity id = %s", n.RelatedEntityID)
	}
	if n.MaxRetries != 3 {
		t.Errorf("max retries = %d, want security policy default", n.MaxRetries)
	}
}

func TestHandleMessageFieldDispatch(t *testing.T) {
	store := newMockStore()
	body := eventBody(t, "evt_3", "tenant_1", EventFieldDispatch, FieldEventData{
		JobID:        "job_12",
		TechnicianID: "tech_4",
		Address:      "12 Main St",
		Window:       "14:00-16:00",
	})

	if err := testIngestor(store).HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	n := store.created[0]
	if n.UserID != "tech_4" {
		t.Errorf("user = %s", n.UserID)
	}
	if n.Message != "Job job_12 at 12 Main St. Window: 14:00-16:00." {
		t.Errorf("message = %q", n.Message)
	}
	if !sameChannelSet(n.Channels, []string{ChannelInApp, ChannelPush, ChannelSMS}) {
		t.Errorf("channels = %v", n.Channels)
	}
}

func TestHandleMessageDropsPoison(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"malformed json", []byte("{not json")},
		{"missing tenant", func() []byte {
			b, _ := json.Marshal(Event{ID: "evt_4", Type: EventTicketAssigned, Data: json.RawMessage(`{}`)})
			return b
		}()},
		{"unknown event type", func() []byte {
			b, _ := json.Marshal(Event{ID: "evt_5", TenantID: "tenant_1", Type: "payroll.completed", Data: json.RawMessage(`{}`)})
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			if err := testIngestor(store).HandleMessage(context.Background(), tt.body); err != nil {
				t.Errorf("poison message must be dropped, not returned: %v", err)
			}
			if len(store.created) != 0 {
				t.Errorf("unexpected notification created")
			}
		})
	}
}

func TestHandleMessageDropsInvalidNotification(t *testing.T) {
	store := newMockStore()
	// A security alert without an alert id fails the related-entity rule.
	body := eventBody(t, "evt_6", "tenant_1", EventSecurityAlert, SecurityEventData{
		Source:      "auth-service",
		Description: "something",
	})

	if err := testIngestor(store).HandleMessage(context.Background(), body); err != nil {
		t.Errorf("invalid notification must be dropped, not returned: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("unexpected notification created")
	}
}

func TestHandleMessageReturnsTransientErrors(t *testing.T) {
	store := newMockStore()
	store.createErr = errors.New("connection refused")
	body := eventBody(t, "evt_7", "tenant_1", EventTicketAssigned, TicketEventData{
		TicketID: "T-100",
		Subject:  "Printer down",
	})

	if err := testIngestor(store).HandleMessage(context.Background(), body); err == nil {
		t.Error("transient store failure must be returned for redelivery")
	}
}
