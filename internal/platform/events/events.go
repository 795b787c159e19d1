// Package events publishes purchase lifecycle events after the ledger commits.
// Delivery is best effort; consumers (earnings, notifications) must tolerate
// gaps and rebuild from the ledger.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/academy/pkg/config"
)

type PurchaseEventType string

const (
	PurchaseCompleted PurchaseEventType = "purchase.completed"
	PurchaseFailed    PurchaseEventType = "purchase.failed"
	PurchaseRefunded  PurchaseEventType = "purchase.refunded"
	PurchaseCanceled  PurchaseEventType = "purchase.canceled"
)

type PurchaseEvent struct {
	Type        PurchaseEventType `json:"type"`
	PurchaseID  string            `json:"purchase_id"`
	UserID      string            `json:"user_id"`
	CourseID    string            `json:"course_id"`
	EducatorID  string            `json:"educator_id"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev *PurchaseEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.SugaredLogger
}

// NewKafkaPublisher builds an async writer: Publish only enqueues, and broker
// failures are reported through completion once the batch is flushed.
func NewKafkaPublisher(brokers []string, topic string, l *zap.SugaredLogger) *KafkaPublisher {
	p := &KafkaPublisher{topic: topic, logger: l}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		Completion:             p.completion,
	}
	return p
}

func (p *KafkaPublisher) completion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		p.logger.Errorw("failed to deliver kafka message", "topic", m.Topic, "purchase_id", string(m.Key), "err", err)
	}
}

// Publish keys messages by purchase id so one purchase's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev *PurchaseEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.PurchaseID),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorw("failed to send kafka message", "topic", p.topic, "purchase_id", ev.PurchaseID, "type", ev.Type, "err", err)
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.logger.Debugw("kafka message sent", "topic", p.topic, "purchase_id", ev.PurchaseID, "type", ev.Type)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type Nop struct{}

func (Nop) Publish(context.Context, *PurchaseEvent) error { return nil }

func New(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		l.Infow("kafka disabled, purchase events are not published")
		return Nop{}
	}
	p := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, l.Named("events"))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing kafka writer")
			return p.Close()
		},
	})
	return p
}

var Module = fx.Options(
	fx.Provide(New),
)
