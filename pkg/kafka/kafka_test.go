package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	RunID string `json:"run_id"`
	Rules int    `json:"rule_count"`
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := toMessage(Event{
		Key:     "run-1",
		Value:   published{RunID: "run-1", Rules: 42},
		Headers: map[string]string{"X-Request-ID": "req-7"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("run-1"), msg.Key)
	require.Len(t, msg.Headers, 1)

	in := fromKafka(msg)
	assert.Equal(t, "req-7", in.Headers["X-Request-ID"])

	got, err := DecodeJSON[published](in.Value)
	require.NoError(t, err)
	assert.Equal(t, published{RunID: "run-1", Rules: 42}, got)
}

func TestFromKafkaWithoutHeaders(t *testing.T) {
	in := fromKafka(kafka.Message{Value: []byte(`{}`)})
	assert.Nil(t, in.Headers)
}

func TestDecodeJSONError(t *testing.T) {
	_, err := DecodeJSON[published]([]byte("not json"))
	assert.Error(t, err)
}

func TestToMessageUnmarshalable(t *testing.T) {
	_, err := toMessage(Event{Value: make(chan int)})
	assert.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    int
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("broker unavailable")},
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"run_id":"a"}`)},
			{Offset: 2, Value: []byte(`{"run_id":"bad"}`)},
			{Offset: 3, Value: []byte(`{"run_id":"c"}`)},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	handler := func(_ context.Context, msg Message) error {
		p, err := DecodeJSON[published](msg.Value)
		require.NoError(t, err)
		seen = append(seen, p.RunID)
		if p.RunID == "bad" {
			return errors.New("handler failed")
		}
		if p.RunID == "c" {
			cancel()
		}
		return nil
	}
	c := newConsumer(r, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"a", "bad", "c"}, seen)
	assert.Equal(t, []int64{1, 3}, r.committed)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, r.closed)
}
