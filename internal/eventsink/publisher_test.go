package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent(t *testing.T) *domain.DomainEvent {
	t.Helper()
	rec, err := domain.NewEventRecord(domain.WorkflowCompleted{
		ApprovalID:  uuid.New(),
		DocumentID:  uuid.New(),
		FinalStatus: domain.ApprovalStatusApproved,
		CompletedBy: uuid.New(),
		Timestamp:   time.Now().UTC(),
	}, "system")
	require.NoError(t, err)
	return rec
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "approval.events"}
	event := sampleEvent(t)

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, event.AggregateID, string(msg.Key))
	assert.Equal(t, event.EventID, headerValue(msg, HeaderEventID))
	assert.Equal(t, string(domain.EventWorkflowCompleted), headerValue(msg, HeaderEventType))
	assert.Equal(t, domain.AggregateApproval, headerValue(msg, HeaderAggregate))

	var decoded domain.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.JSONEq(t, string(event.Payload), string(decoded.Payload))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}, topic: "t"}
	err := p.Publish(context.Background(), sampleEvent(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), sampleEvent(t)))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EventsConfig
		want    any
		wantErr bool
	}{
		{name: "disabled", cfg: config.EventsConfig{}, want: LogPublisher{}},
		{name: "enabled", cfg: config.EventsConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"}, want: &KafkaPublisher{}},
		{name: "no brokers", cfg: config.EventsConfig{Enabled: true, Topic: "t"}, wantErr: true},
		{name: "no topic", cfg: config.EventsConfig{Enabled: true, Brokers: []string{"localhost:9092"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
			assert.NoError(t, p.Close())
		})
	}
}
