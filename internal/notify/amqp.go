package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPPublisher publishes events to a topic exchange. The routing key is the
// lowercased event type, e.g. "appointment_created".
type AMQPPublisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func NewAMQPPublisher(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func RoutingKey(eventType string) string {
	return strings.ToLower(eventType)
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(pubCtx, p.exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.AppointmentID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}

	p.log.Debug("event published",
		zap.String("event_type", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.log.Warn("close rabbitmq channel", zap.Error(err))
	}
	return p.conn.Close()
}
