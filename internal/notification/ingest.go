package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// eventRoute maps one business event type onto a notification.
type eventRoute struct {
	build func(e *Event) (*CreateRequest, error)
}

// eventRoutes is the routing table from event type to notification shape.
// Adding an event means adding a row, not touching the ingest loop.
var eventRoutes = map[EventType]eventRoute{
	EventTicketAssigned: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseTicketData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "ticket_assigned",
			Severity: SeverityMedium,
			Title:    "Ticket assigned: {{subject}}",
			Message:  "Ticket {{ticket_id}} has been assigned to you.",
			Variables: map[string]string{
				"subject":   data.Subject,
				"ticket_id": data.TicketID,
			},
			UserID:            data.AssigneeID,
			RelatedEntityType: "ticket",
			RelatedEntityID:   data.TicketID,
		}, nil
	}},
	EventTicketUpdated: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseTicketData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "ticket_updated",
			Severity: SeverityLow,
			Title:    "Ticket updated: {{subject}}",
			Message:  "Ticket {{ticket_id}} has new activity.",
			Variables: map[string]string{
				"subject":   data.Subject,
				"ticket_id": data.TicketID,
			},
			UserID:            data.AssigneeID,
			RelatedEntityType: "ticket",
			RelatedEntityID:   data.TicketID,
		}, nil
	}},
	EventTicketSLABreach: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseTicketData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "ticket_sla_breach",
			Severity: SeverityHigh,
			Title:    "SLA breached: {{subject}}",
			Message:  "Ticket {{ticket_id}} has breached its SLA.",
			Variables: map[string]string{
				"subject":   data.Subject,
				"ticket_id": data.TicketID,
			},
			UserID:            data.AssigneeID,
			RelatedEntityType: "ticket",
			RelatedEntityID:   data.TicketID,
		}, nil
	}},
	EventSecurityAlert: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseSecurityData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "security_alert",
			Severity: SeverityCritical,
			Title:    "Security alert from {{source}}",
			Message:  "{{description}}",
			Variables: map[string]string{
				"source":      data.Source,
				"description": data.Description,
			},
			UserID:            data.UserID,
			RelatedEntityType: "security_alert",
			RelatedEntityID:   data.AlertID,
		}, nil
	}},
	EventSystemIncident: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseSystemData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "system_incident",
			Severity: SeverityCritical,
			Title:    "System incident: {{component}}",
			Message:  "{{description}} Impact: {{impact}}.",
			Variables: map[string]string{
				"component":   data.Component,
				"description": data.Description,
				"impact":      data.Impact,
			},
			RelatedEntityType: "component",
			RelatedEntityID:   data.Component,
		}, nil
	}},
	EventFieldDispatch: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseFieldData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "field_dispatch",
			Severity: SeverityHigh,
			Title:    "New job dispatched",
			Message:  "Job {{job_id}} at {{address}}. Window: {{window}}.",
			Variables: map[string]string{
				"job_id":  data.JobID,
				"address": data.Address,
				"window":  data.Window,
			},
			UserID:            data.TechnicianID,
			RelatedEntityType: "job",
			RelatedEntityID:   data.JobID,
		}, nil
	}},
	EventTimecardReminder: {build: func(e *Event) (*CreateRequest, error) {
		data, err := e.ParseTimecardData()
		if err != nil {
			return nil, err
		}
		return &CreateRequest{
			Type:     "timecard_reminder",
			Severity: SeverityLow,
			Title:    "Timecard due",
			Message:  "Submit your timecard for the period ending {{period_end}}.",
			Variables: map[string]string{
				"period_end": data.PeriodEnd,
			},
			UserID:            data.EmployeeID,
			RelatedEntityType: "timecard",
			RelatedEntityID:   data.EmployeeID,
		}, nil
	}},
}

// Ingestor turns business events from the broker into notifications via the
// create use case.
type Ingestor struct {
	creator *Creator
	log     *observability.Logger
}

func NewIngestor(creator *Creator, log *observability.Logger) *Ingestor {
	return &Ingestor{creator: creator, log: log}
}

// HandleMessage processes one raw event message. Malformed or unroutable
// messages are logged and dropped rather than returned as errors, so a
// poison message never loops through the queue forever; transient create
// failures are returned so the consumer dead-letters the message for
// replay.
func (i *Ingestor) HandleMessage(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		i.log.Error("dropping malformed event", "error", err)
		return nil
	}
	if event.TenantID == "" {
		i.log.Error("dropping event without tenant", "event_id", event.ID, "type", event.Type)
		return nil
	}

	route, ok := eventRoutes[event.Type]
	if !ok {
		i.log.Warn("no route for event type", "event_id", event.ID, "type", event.Type)
		return nil
	}

	req, err := route.build(&event)
	if err != nil {
		i.log.Error("dropping event with bad payload", "event_id", event.ID, "type", event.Type, "error", err)
		return nil
	}
	req.TenantID = event.TenantID
	if req.Metadata == nil {
		req.Metadata = make(map[string]any)
	}
	req.Metadata["event_id"] = event.ID
	req.Metadata["event_type"] = string(event.Type)

	n, err := i.creator.Create(ctx, *req)
	if err != nil {
		var invalid *InvalidNotificationError
		if errors.As(err, &invalid) {
			i.log.Error("dropping event producing invalid notification", "event_id", event.ID, "error", err)
			return nil
		}
		return fmt.Errorf("create notification for event %s: %w", event.ID, err)
	}

	i.log.Info("event ingested", "event_id", event.ID, "type", event.Type, "notification_id", n.ID)
	return nil
}
