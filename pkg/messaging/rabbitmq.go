// Package messaging wraps the RabbitMQ client with reconnection, dead
// lettering and a publish-side circuit breaker.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the RabbitMQ connection settings.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatTimeout  time.Duration

	BreakerThreshold int           // consecutive publish failures to open, 0 disables
	BreakerCooldown  time.Duration // how long the breaker stays open
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = time.Minute
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Client is a RabbitMQ connection that transparently reconnects with capped
// exponential backoff. Consumers survive reconnects; publishes fail fast
// while the connection is down.
type Client struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	notifyClose  chan *amqp.Error
	reconnecting bool
	closed       bool

	breaker *breaker
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	cfg.applyDefaults()
	c := &Client{
		cfg:     cfg,
		log:     log,
		breaker: newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("connecting to rabbitmq", "url", maskURL(c.cfg.URL))
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{Heartbeat: c.cfg.HeartbeatTimeout})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.notifyClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(c.notifyClose)
	c.reconnecting = false
	return nil
}

// watch waits for the connection to drop and reconnects with backoff.
func (c *Client) watch() {
	c.mu.RLock()
	notify := c.notifyClose
	c.mu.RUnlock()

	err, ok := <-notify
	if !ok {
		return // clean shutdown
	}
	c.log.Warn("rabbitmq connection lost", "error", err)

	c.mu.Lock()
	c.reconnecting = true
	c.mu.Unlock()

	backoff := c.cfg.ReconnectDelay
	for {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		if err := c.connect(); err == nil {
			c.log.Info("rabbitmq reconnected")
			go c.watch()
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.cfg.MaxReconnectDelay {
			backoff = c.cfg.MaxReconnectDelay
		}
	}
}

// DeclareQueueWithDLQ declares a durable queue whose rejected messages dead
// letter into <name>.dlq.
func (c *Client) DeclareQueueWithDLQ(name string) (amqp.Queue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ch == nil {
		return amqp.Queue{}, fmt.Errorf("channel is not initialized")
	}

	dlq := name + ".dlq"
	if _, err := c.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("declare dlq: %w", err)
	}
	return c.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
}

func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	if !c.breaker.allow() {
		return fmt.Errorf("publish to %s: circuit breaker open", queue)
	}

	c.mu.RLock()
	ch := c.ch
	down := c.reconnecting || ch == nil
	c.mu.RUnlock()
	if down {
		c.breaker.failure()
		return fmt.Errorf("publish to %s: connection unavailable", queue)
	}

	err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		c.breaker.failure()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	c.breaker.success()
	return nil
}

// Consume delivers messages to handler until ctx is done. Handler errors
// nack without requeue, pushing the message to the DLQ; handler success
// acks. The loop rides out reconnects.
func (c *Client) Consume(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.mu.RLock()
		ch := c.ch
		down := c.reconnecting || ch == nil
		c.mu.RUnlock()
		if down {
			time.Sleep(c.cfg.ReconnectDelay)
			continue
		}

		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			c.log.Warn("consumer registration failed", "queue", queue, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

	deliveries:
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-msgs:
				if !ok {
					break deliveries // channel closed, reconnect
				}
				if err := handler(ctx, d.Body); err != nil {
					c.log.Warn("message handler failed", "queue", queue, "error", err)
					d.Nack(false, false)
				} else {
					d.Ack(false)
				}
			}
		}

		c.log.Warn("consumer channel closed, waiting for reconnection", "queue", queue)
		time.Sleep(c.cfg.ReconnectDelay)
	}
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && !c.reconnecting
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return "***" + url[at:]
	}
	return url[:scheme+3] + "***" + url[at:]
}

// breaker is a minimal publish-side circuit breaker: it opens after a run
// of consecutive failures and half-opens after the cooldown.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	// Open; admit a probe once the cooldown has passed.
	return time.Since(b.openedAt) >= b.cooldown
}

func (b *breaker) failure() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
	}
}

func (b *breaker) success() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
