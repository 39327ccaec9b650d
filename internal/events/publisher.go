// Package events hands finished interviews to downstream agents over AMQP.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
)

const (
	DefaultExchange = "grant.interviews"
	// RoutingCompleted is the routing key of the completed-interview event.
	RoutingCompleted = "interview.completed"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Event is the message body published to the exchange.
type Event struct {
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    *interview.Export `json:"payload"`
}

type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string, log *zap.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := newPublisher(ch, exchange, log)
	p.conn = conn
	p.logger.Info("event publisher ready", zap.String("exchange", exchange))
	return p, nil
}

func newPublisher(ch channel, exchange string, log *zap.Logger) *Publisher {
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger.WithFields(log, zap.String("component", "events")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// InterviewCompleted publishes the final export as a persistent JSON message.
func (p *Publisher) InterviewCompleted(ctx context.Context, result *interview.Export) error {
	body, err := json.Marshal(Event{Type: RoutingCompleted, OccurredAt: p.now(), Payload: result})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Type:         RoutingCompleted,
		Body:         body,
		Headers:      amqp.Table{"session_id": result.SessionID},
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, RoutingCompleted, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", RoutingCompleted, err)
	}

	p.logger.Debug("event published",
		zap.String("routing_key", RoutingCompleted),
		zap.String("message_id", msg.MessageId),
		zap.String(logger.FieldSession, result.SessionID),
	)
	return nil
}

func (p *Publisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
