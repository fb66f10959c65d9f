// Package eventsink forwards relayed domain events to external consumers.
package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// Header keys set on every message.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
	HeaderAggregate = "aggregate-type"
)

// Publisher delivers a stored event to an external bus.
type Publisher interface {
	Publish(ctx context.Context, event *domain.DomainEvent) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by aggregate ID, so all
// events of one approval land on the same partition. It writes in the order
// Publish is called; the relay calls it in commit order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous writer for cfg.
func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.DomainEvent) error {
	msg, err := buildMessage(ctx, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", event.EventID, p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func buildMessage(ctx context.Context, event *domain.DomainEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+3)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderEventID, Value: []byte(event.EventID)},
		kafka.Header{Key: HeaderEventType, Value: []byte(event.EventType)},
		kafka.Header{Key: HeaderAggregate, Value: []byte(event.AggregateType)},
	)

	return kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    event.CreatedAt,
	}, nil
}

// LogPublisher only logs; it is used when no broker is configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, event *domain.DomainEvent) error {
	logger.Debug("event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// New returns a KafkaPublisher when events are enabled, otherwise a LogPublisher.
func New(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return LogPublisher{}, nil
	}
	return NewKafkaPublisher(cfg)
}
