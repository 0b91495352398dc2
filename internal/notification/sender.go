package notification

import (
	"context"
	"fmt"
	"time"
)

// SendResult is the outcome of one delivery attempt on one channel.
type SendResult struct {
	Success    bool
	DeliveryID string
	Err        string
	Retryable  bool
}

// Capabilities describes what a channel can carry.
type Capabilities struct {
	SupportsRichContent bool
	MaxContentLength    int
	SupportsBatch       bool
	AverageDeliveryTime time.Duration
}

// ChannelSender attempts delivery of a notification through one channel.
// Implementations must treat provider errors as a failed result or an error
// return; the dispatcher converts both into channel failures and never
// aborts the pass over them.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, n *Notification, tenantID string) (*SendResult, error)
	HealthCheck(ctx context.Context, tenantID string) bool
	Capabilities() Capabilities
}

// SenderRegistry holds the channel senders keyed by channel identifier, so
// dispatch is a lookup, never a per-channel branch.
type SenderRegistry struct {
	senders map[string]ChannelSender
}

func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[string]ChannelSender)}
}

func (r *SenderRegistry) Register(s ChannelSender) {
	r.senders[s.Channel()] = s
}

func (r *SenderRegistry) Get(channel string) (ChannelSender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", channel)
	}
	return s, nil
}

// Channels returns the registered channel identifiers.
func (r *SenderRegistry) Channels() []string {
	out := make([]string, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return out
}
