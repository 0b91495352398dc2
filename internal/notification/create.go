package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// CreateRequest carries everything needed to create a notification. Title
// and Message may contain {{key}} placeholders resolved against Variables.
// Channels may be left empty to let policy pick them.
type CreateRequest struct {
	TenantID          string            `json:"tenant_id"`
	Type              string            `json:"type"`
	Severity          Severity          `json:"severity"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Variables         map[string]string `json:"variables,omitempty"`
	Channels          []string          `json:"channels,omitempty"`
	UserPreferences   []string          `json:"user_preferences,omitempty"`
	ScheduledAt       time.Time         `json:"scheduled_at,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	RelatedEntityID   string            `json:"related_entity_id,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
}

// Creator is the create use case. It sits outside the dispatch hot path:
// callers (event ingestion, the ops surface) build notifications here and
// the scheduler picks them up on its next tick.
type Creator struct {
	store Store
	log   *observability.Logger
}

func NewCreator(store Store, log *observability.Logger) *Creator {
	return &Creator{store: store, log: log}
}

// Create validates, constructs and persists a notification. Channel set and
// retry budget default from policy when the caller leaves them unset.
func (c *Creator) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	title := RenderTemplate(req.Title, req.Variables)
	message := RenderTemplate(req.Message, req.Variables)

	channels := req.Channels
	if len(channels) == 0 {
		channels = DetermineChannels(req.Type, req.Severity, req.UserPreferences)
	}

	maxRetries := RetryStrategy(req.Type, req.Severity, 0).MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	n, err := New(Params{
		TenantID:          req.TenantID,
		Type:              req.Type,
		Severity:          req.Severity,
		Title:             title,
		Message:           message,
		Channels:          channels,
		ScheduledAt:       req.ScheduledAt,
		ExpiresAt:         req.ExpiresAt,
		UserID:            req.UserID,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		Metadata:          req.Metadata,
		MaxRetries:        maxRetries,
	})
	if err != nil {
		return nil, err
	}

	if violations := ValidateNotification(n); len(violations) > 0 {
		return nil, &InvalidNotificationError{Violations: violations}
	}

	if err := c.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	notificationsCreated.WithLabelValues(TypeClass(n.Type), string(n.Severity)).Inc()
	c.log.Info("notification created",
		"notification_id", n.ID, "tenant_id", n.TenantID, "type", n.Type,
		"severity", n.Severity, "status", n.Status, "channels", n.Channels)
	return n, nil
}
