package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &stubWriter{}
	p := &KafkaPublisher{writer: w, topic: "purchase-events", logger: zap.NewNop().Sugar()}

	ev := &PurchaseEvent{
		Type:        PurchaseCompleted,
		PurchaseID:  "p-1",
		UserID:      "u-1",
		CourseID:    "c-1",
		EducatorID:  "e-1",
		AmountMinor: 9000,
		Currency:    "usd",
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "purchase-events", w.msgs[0].Topic)
	require.Equal(t, []byte("p-1"), w.msgs[0].Key)

	var got PurchaseEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, *ev, got)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	w := &stubWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zap.NewNop().Sugar()}
	err := p.Publish(context.Background(), &PurchaseEvent{Type: PurchaseRefunded, PurchaseID: "p"})
	require.ErrorContains(t, err, "broker down")
}

func TestNewKafkaPublisher_DoesNotBlockCallers(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:9092"}, "purchase-events", zap.NewNop().Sugar())
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	require.True(t, w.Async, "publishing runs on the request path and must only enqueue")
	require.NotNil(t, w.Completion)
	require.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
}

func TestKafkaPublisher_CompletionLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	p := &KafkaPublisher{topic: "t", logger: zap.New(core).Sugar()}

	p.completion([]kafka.Message{{Topic: "t", Key: []byte("p-1")}}, nil)
	require.Zero(t, logs.Len())

	p.completion([]kafka.Message{{Topic: "t", Key: []byte("p-1")}, {Topic: "t", Key: []byte("p-2")}}, errors.New("broker down"))
	require.Equal(t, 2, logs.Len())
	require.Equal(t, "p-2", logs.All()[1].ContextMap()["purchase_id"])
}
