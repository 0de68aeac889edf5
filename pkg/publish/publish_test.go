package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
)

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

func TestNewKafka_Validation(t *testing.T) {
	_, err := NewKafka(nil, "events", nil)
	require.Error(t, err)

	_, err = NewKafka([]string{"localhost:9092"}, "", nil)
	require.Error(t, err)

	k, err := NewKafka([]string{"localhost:9092"}, "events", nil)
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

func TestKafka_Publish(t *testing.T) {
	w := &recordingWriter{}
	k := &Kafka{writer: w, timeout: time.Second}

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := event.Persisted{
		ID:        "evt-1",
		Component: "Button",
		Variant:   "primary",
		Action:    "click",
		Timestamp: ts,
	}
	require.NoError(t, k.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	require.Equal(t, "Button", string(msg.Key))
	require.True(t, msg.Time.Equal(ts))

	var got event.Persisted
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, "evt-1", got.ID)

	require.NoError(t, k.Close())
	require.True(t, w.closed)
}

func TestKafka_PublishError(t *testing.T) {
	k := &Kafka{writer: &recordingWriter{err: errors.New("broker down")}, timeout: time.Second}
	err := k.Publish(context.Background(), event.Persisted{ID: "x"})
	require.ErrorContains(t, err, "broker down")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), event.Persisted{}))
	require.NoError(t, p.Close())
}
