// Package alerts delivers administrative alerts over RabbitMQ. The publisher
// satisfies the notifier interfaces of the intake queue and the balance
// validator; callers treat delivery as best-effort.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/custodix/walletcore/internal/pkg/env"
)

const (
	defaultQueue   = "wallet.alerts"
	publishTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// Message is the wire format of one alert.
type Message struct {
	Severity string    `json:"severity"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Source   string    `json:"source"`
	SentAt   time.Time `json:"sent_at"`
}

// Publisher pushes alert messages onto a durable RabbitMQ queue. The
// connection is monitored and lazily re-established after broker restarts.
type Publisher struct {
	dsn   string
	queue string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewPublisher connects to the broker configured via RABBITMQ_* environment
// variables and declares the alert queue.
func NewPublisher() (*Publisher, error) {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		env.GetEnv("RABBITMQ_USER", "guest"),
		env.GetEnv("RABBITMQ_PASSWORD", "guest"),
		env.GetEnv("RABBITMQ_HOST", "localhost"),
		env.GetEnv("RABBITMQ_PORT", "5672"),
		env.GetEnv("RABBITMQ_VHOST", "/"))
	return NewPublisherDSN(dsn, env.GetEnv("RABBITMQ_ALERT_QUEUE", defaultQueue))
}

// NewPublisherDSN connects with an explicit DSN and queue name.
func NewPublisherDSN(dsn, queue string) (*Publisher, error) {
	p := &Publisher{dsn: dsn, queue: queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.dsn)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		p.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare alert queue: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	log.Infof("[Alerts] Connected to RabbitMQ, queue %s", p.queue)
	go p.monitorConnection(conn)
	return nil
}

func (p *Publisher) monitorConnection(conn *amqp.Connection) {
	err := <-conn.NotifyClose(make(chan *amqp.Error))
	if err == nil {
		return
	}
	log.Errorf("[Alerts] RabbitMQ connection closed: %v", err)

	for {
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			return
		}
		if err := p.connect(); err == nil {
			log.Info("[Alerts] Reconnected to RabbitMQ")
			return
		}
		time.Sleep(reconnectDelay)
	}
}

// Notify publishes one alert as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, severity, subject, body string) error {
	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("alert channel is not initialized")
	}

	payload, err := json.Marshal(Message{
		Severity: severity,
		Subject:  subject,
		Body:     body,
		Source:   "walletcore",
		SentAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
