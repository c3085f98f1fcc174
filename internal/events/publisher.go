package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	producer string
	log      *slog.Logger
}

// New connects to RabbitMQ and declares the topic exchange the room
// state-change events are routed through.
func New(url, exchange, producer string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
		producer: producer,
		log:      logger,
	}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if msg.Meta.ID == "" {
		msg.Meta.ID = uuid.NewString()
	}
	if msg.Meta.Time.IsZero() {
		msg.Meta.Time = time.Now().UTC()
	}
	if msg.Meta.Type == "" {
		msg.Meta.Type = key
	}
	msg.Meta.Producer = p.producer

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msg.Meta.ID,
			CorrelationId: msg.Meta.CorrelationID,
			Timestamp:     msg.Meta.Time,
			Body:          body,
		},
	)
	if err == nil {
		p.log.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// NoopPublisher stands in when no broker is configured; mutations still
// succeed, only the event fan-out is skipped.
type NoopPublisher struct {
	log *slog.Logger
}

func NewNoop(logger *slog.Logger) Publisher {
	return &NoopPublisher{log: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	p.log.Debug("event publishing disabled, skipped", slog.String("key", key))
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
