package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pawmart/api/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOrderEventPublisher writes order events to a Kafka topic keyed by order ID.
type KafkaOrderEventPublisher struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

var _ services.OrderEventPublisher = (*KafkaOrderEventPublisher)(nil)

// KafkaOption customises the underlying writer.
type KafkaOption func(*kafka.Writer)

// WithKafkaLoggers routes writer diagnostics to printf-style loggers.
func WithKafkaLoggers(info, errs kafka.Logger) KafkaOption {
	return func(w *kafka.Writer) {
		w.Logger = info
		w.ErrorLogger = errs
	}
}

// WithKafkaWriteTimeout bounds each produce request.
func WithKafkaWriteTimeout(d time.Duration) KafkaOption {
	return func(w *kafka.Writer) {
		if d > 0 {
			w.WriteTimeout = d
		}
	}
}

// NewKafkaOrderEventPublisher builds a hashed-partition writer so events for one order stay ordered.
func NewKafkaOrderEventPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaOrderEventPublisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka order publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(writer)
		}
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaOrderEventPublisher {
	return &KafkaOrderEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
		clock:   time.Now,
	}
}

// PublishOrderEvent writes a single message synchronously.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order publisher: not initialised")
	}

	data, err := p.marshal(newEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := eventAttributes(event)
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   data,
		Headers: headers,
		Time:    p.clock().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order event %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaOrderEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
