package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"

	"github.com/omnibridge/dispatch/pkg/observability"
)

// Metadata keys senders resolve recipients and targets from. Recipient
// resolution is deliberately not the engine's concern; callers put the
// addressing the channel needs into metadata.
const (
	metaRecipientEmail = "recipient_email"
	metaRecipientPhone = "recipient_phone"
	metaPushToken      = "push_token"
	metaWebhookURL     = "webhook_url"
)

func metaString(n *Notification, key string) string {
	v, _ := n.Metadata[key].(string)
	return v
}

func failure(reason string, retryable bool) *SendResult {
	return &SendResult{Err: reason, Retryable: retryable}
}

// EmailSender delivers through the Resend API.
type EmailSender struct {
	client *resend.Client
	from   string
	log    *observability.Logger
}

func NewEmailSender(apiKey, from string, log *observability.Logger) *EmailSender {
	return &EmailSender{client: resend.NewClient(apiKey), from: from, log: log}
}

func (s *EmailSender) Channel() string { return ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	to := metaString(n, metaRecipientEmail)
	if to == "" {
		return failure("no recipient email in metadata", false), nil
	}

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: n.Title,
		Html:    "<p>" + n.Message + "</p>",
	})
	if err != nil {
		return failure(fmt.Sprintf("resend: %v", err), true), nil
	}
	return &SendResult{Success: true, DeliveryID: sent.Id}, nil
}

func (s *EmailSender) HealthCheck(ctx context.Context, tenantID string) bool {
	return s.client != nil
}

func (s *EmailSender) Capabilities() Capabilities {
	return Capabilities{SupportsRichContent: true, MaxContentLength: 100 * 1024, AverageDeliveryTime: 2 * time.Second}
}

// WebhookSender POSTs the notification to a tenant-configured URL with an
// HMAC-SHA256 signature so receivers can verify origin.
type WebhookSender struct {
	client *http.Client
	secret string
	log    *observability.Logger
}

func NewWebhookSender(secret string, log *observability.Logger) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
		secret: secret,
		log:    log,
	}
}

func (s *WebhookSender) Channel() string { return ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	url := metaString(n, metaWebhookURL)
	if url == "" {
		return failure("no webhook url in metadata", false), nil
	}

	payload, err := json.Marshal(map[string]any{
		"id":        n.ID,
		"tenant_id": tenantID,
		"type":      n.Type,
		"severity":  n.Severity,
		"title":     n.Title,
		"message":   n.Message,
		"metadata":  n.Metadata,
	})
	if err != nil {
		return failure(fmt.Sprintf("encode payload: %v", err), false), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err), false), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OmniBridge-Event", n.Type)
	req.Header.Set("X-OmniBridge-Timestamp", time.Now().UTC().Format(time.RFC3339))
	req.Header.Set("X-OmniBridge-Signature", s.sign(payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("webhook post: %v", err), true), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(fmt.Sprintf("webhook returned %d", resp.StatusCode), resp.StatusCode >= 500), nil
	}
	return &SendResult{Success: true, DeliveryID: uuid.New().String()}, nil
}

func (s *WebhookSender) sign(payload []byte) string {
	if s.secret == "" {
		return "unsigned"
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSender) HealthCheck(ctx context.Context, tenantID string) bool { return true }

func (s *WebhookSender) Capabilities() Capabilities {
	return Capabilities{SupportsRichContent: true, MaxContentLength: 256 * 1024, SupportsBatch: false, AverageDeliveryTime: time.Second}
}

// SMSSender is a provider stub; the real integration (Twilio, SNS) slots in
// behind the same interface.
type SMSSender struct {
	log *observability.Logger
}

func NewSMSSender(log *observability.Logger) *SMSSender { return &SMSSender{log: log} }

func (s *SMSSender) Channel() string { return ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	to := metaString(n, metaRecipientPhone)
	if to == "" {
		return failure("no recipient phone in metadata", false), nil
	}
	body := n.Message
	if max := s.Capabilities().MaxContentLength; len(body) > max {
		body = body[:max]
	}
	s.log.Info("sms sent", "tenant_id", tenantID, "notification_id", n.ID, "to", to, "length", len(body))
	return &SendResult{Success: true, DeliveryID: uuid.New().String()}, nil
}

func (s *SMSSender) HealthCheck(ctx context.Context, tenantID string) bool { return true }

func (s *SMSSender) Capabilities() Capabilities {
	return Capabilities{MaxContentLength: 160, AverageDeliveryTime: 5 * time.Second}
}

// PushSender is a provider stub for mobile push (FCM, APNs).
type PushSender struct {
	log *observability.Logger
}

func NewPushSender(log *observability.Logger) *PushSender { return &PushSender{log: log} }

func (s *PushSender) Channel() string { return ChannelPush }

func (s *PushSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	token := metaString(n, metaPushToken)
	if token == "" {
		return failure("no push token in metadata", false), nil
	}
	s.log.Info("push sent", "tenant_id", tenantID, "notification_id", n.ID)
	return &SendResult{Success: true, DeliveryID: uuid.New().String()}, nil
}

func (s *PushSender) HealthCheck(ctx context.Context, tenantID string) bool { return true }

func (s *PushSender) Capabilities() Capabilities {
	return Capabilities{MaxContentLength: 4 * 1024, AverageDeliveryTime: time.Second}
}

// InAppSender delivers to the store-backed inbox. The persisted row is the
// inbox entry, so delivery amounts to acknowledging it.
type InAppSender struct {
	log *observability.Logger
}

func NewInAppSender(log *observability.Logger) *InAppSender { return &InAppSender{log: log} }

func (s *InAppSender) Channel() string { return ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	return &SendResult{Success: true, DeliveryID: n.ID}, nil
}

func (s *InAppSender) HealthCheck(ctx context.Context, tenantID string) bool { return true }

func (s *InAppSender) Capabilities() Capabilities {
	return Capabilities{SupportsRichContent: true, MaxContentLength: 64 * 1024, SupportsBatch: true}
}

// DashboardSender is a stub for the operations dashboard feed.
type DashboardSender struct {
	log *observability.Logger
}

func NewDashboardSender(log *observability.Logger) *DashboardSender {
	return &DashboardSender{log: log}
}

func (s *DashboardSender) Channel() string { return ChannelDashboard }

func (s *DashboardSender) Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error) {
	s.log.Info("dashboard alert raised", "tenant_id", tenantID, "notification_id", n.ID, "severity", n.Severity)
	return &SendResult{Success: true, DeliveryID: uuid.New().String()}, nil
}

func (s *DashboardSender) HealthCheck(ctx context.Context, tenantID string) bool { return true }

func (s *DashboardSender) Capabilities() Capabilities {
	return Capabilities{SupportsRichContent: true, MaxContentLength: 16 * 1024}
}
