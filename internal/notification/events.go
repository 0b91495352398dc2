package notification

import (
	"encoding/json"
	"time"
)

// EventType identifies a back-office business event that produces
// notifications.
type EventType string

const (
	EventTicketAssigned   EventType = "ticket.assigned"
	EventTicketUpdated    EventType = "ticket.updated"
	EventTicketSLABreach  EventType = "ticket.sla_breached"
	EventSecurityAlert    EventType = "security.alert"
	EventSystemIncident   EventType = "system.incident"
	EventFieldDispatch    EventType = "field.dispatch"
	EventTimecardReminder EventType = "timecard.reminder"
)

// Event is the envelope business services publish to the notifications
// queue. Data carries the event-type-specific payload.
type Event struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TicketEventData is the payload of ticket.* events.
type TicketEventData struct {
	TicketID   string `json:"ticket_id"`
	Subject    string `json:"subject"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// SecurityEventData is the payload of security.alert events.
type SecurityEventData struct {
	AlertID     string `json:"alert_id"`
	Source      string `json:"source"`
	Description string `json:"description"`
	UserID      string `json:"user_id,omitempty"`
}

// SystemEventData is the payload of system.incident events.
type SystemEventData struct {
	Component   string `json:"component"`
	Impact      string `json:"impact"`
	Description string `json:"description"`
}

// FieldEventData is the payload of field.dispatch events.
type FieldEventData struct {
	JobID        string `json:"job_id"`
	TechnicianID string `json:"technician_id"`
	Address      string `json:"address"`
	Window       string `json:"window,omitempty"`
}

// TimecardEventData is the payload of timecard.reminder events.
type TimecardEventData struct {
	EmployeeID string `json:"employee_id"`
	PeriodEnd  string `json:"period_end"`
}

func (e *Event) ParseTicketData() (*TicketEventData, error) {
	var data TicketEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (e *Event) ParseSecurityData() (*SecurityEventData, error) {
	var data SecurityEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (e *Event) ParseSystemData() (*SystemEventData, error) {
	var data SystemEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (e *Event) ParseFieldData() (*FieldEventData, error) {
	var data FieldEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (e *Event) ParseTimecardData() (*TimecardEventData, error) {
	var data TimecardEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
