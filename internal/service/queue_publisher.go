// Package service provides outbound integrations used by the chat core.
// Publishing errors are logged and returned so callers can ignore them
// without interrupting message delivery.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/model"
	q "github.com/iliyamo/pairchat/internal/queue"
)

// DefaultDialTimeout bounds the TCP connect and AMQP handshake of a publish.
const DefaultDialTimeout = 2 * time.Second

// Publisher sends message.created events to RabbitMQ.  Each publish dials
// its own connection; the rate of persisted messages is low enough that a
// pooled channel is not needed.
type Publisher struct {
	URL         string
	DialTimeout time.Duration
}

func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, DialTimeout: DefaultDialTimeout}
}

func (p *Publisher) dial() (*amqp.Connection, error) {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return amqp.DialConfig(p.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// MessageCreated publishes metadata for a persisted message.  Messages are
// marked as persistent.
func (p *Publisher) MessageCreated(ctx context.Context, m model.Message) error {
	return p.publish(ctx, q.MessageCreatedQueue, newMessageCreatedEvent(m))
}

func newMessageCreatedEvent(m model.Message) q.MessageCreatedEvent {
	ev := q.MessageCreatedEvent{
		MessageID: m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		HasText:   m.Text != nil,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.File != nil {
		ev.File = *m.File
	}
	return ev
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	log := zap.S().Named("rabbitmq")

	conn, err := p.dial()
	if err != nil {
		log.Warnw("dial failed", "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warnw("channel open failed", "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		log.Warnw("queue declare failed", "queue", queue, "error", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Warnw("marshal event failed", "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		log.Warnw("publish failed", "queue", queue, "error", err)
		return err
	}
	return nil
}
