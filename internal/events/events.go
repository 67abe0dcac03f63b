// Package events announces scheduling and verification milestones on an
// AMQP exchange so downstream workers can react.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/streadway/amqp"
)

// Routing keys.
const (
	BatchScheduled = "campaign.batch.scheduled"
	JobFinished    = "verification.job.finished"
)

// Event is the JSON envelope published for every announcement.
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

// Publisher announces events. Publishing is best-effort; callers log errors.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data map[string]any) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, map[string]any) error { return nil }

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange over one channel.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	now      func() time.Time
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	logger.Info("amqp publisher ready", "exchange", exchange)
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

func newPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Event{Type: routingKey, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		logger.Warn("amqp channel close failed", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
