package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/config"
	"github.com/labscreen/screenresults/internal/storage"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		r.cancel()

		return kafka.Message{}, ctx.Err()
	}

	msg := r.pending[0]
	r.pending = r.pending[1:]

	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true

	return nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	errs  map[int64][]error
	calls []int64
}

func (f *fakeInvalidator) InvalidateDataset(_ context.Context, datasetID int64) (storage.EvictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, datasetID)

	if errs := f.errs[datasetID]; len(errs) > 0 {
		f.errs[datasetID] = errs[1:]

		return storage.EvictionResult{}, errs[0]
	}

	return storage.EvictionResult{Queries: 1}, nil
}

func message(t *testing.T, offset int64, value any) kafka.Message {
	t.Helper()

	data, ok := value.([]byte)
	if !ok {
		var err error

		data, err = json.Marshal(value)
		require.NoError(t, err)
	}

	return kafka.Message{Offset: offset, Value: data}
}

func TestConsumerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	transient := fmt.Errorf("%w: deadlock", apperrors.ErrTransactionFailure)

	reader := &fakeReader{
		cancel: cancel,
		pending: []kafka.Message{
			message(t, 1, NewDatasetChanged(7, "loader", now)),
			message(t, 2, []byte("not json")),
			message(t, 3, NewDatasetChanged(9, "loader", now)),
		},
	}

	invalidator := &fakeInvalidator{errs: map[int64][]error{
		9: {transient, transient},
	}}

	cfg := &Config{Brokers: []string{"unused:9092"}, Topic: defaultTopic, MaxAttempts: 3}
	consumer := newConsumer(reader, invalidator, cfg, nil)

	require.NoError(t, consumer.Run(ctx))

	assert.Equal(t, []int64{7, 9, 9, 9}, invalidator.calls)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed, "malformed events are skipped")
	assert.True(t, reader.closed)
}

func TestConsumerStopsAtFailedEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	reader := &fakeReader{
		cancel: cancel,
		pending: []kafka.Message{
			message(t, 9, NewDatasetChanged(7, "loader", now)),
			message(t, 10, NewDatasetChanged(8, "loader", now)),
			message(t, 11, NewDatasetChanged(7, "loader", now)),
		},
	}

	invalidator := &fakeInvalidator{errs: map[int64][]error{
		8: {errors.New("dataset store down")},
	}}

	cfg := &Config{Brokers: []string{"unused:9092"}, Topic: defaultTopic, MaxAttempts: 3}
	consumer := newConsumer(reader, invalidator, cfg, nil)

	err := consumer.Run(ctx)
	require.ErrorIs(t, err, ErrInvalidationFailed)
	assert.Contains(t, err.Error(), "dataset store down")

	assert.Equal(t, []int64{7, 8}, invalidator.calls)
	assert.Equal(t, []int64{9}, reader.committed, "nothing at or after the failed offset is committed")
	assert.Len(t, reader.pending, 1, "messages after the failed one are not fetched")
	assert.True(t, reader.closed)
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	transient := fmt.Errorf("%w: deadlock", apperrors.ErrTransactionFailure)
	invalidator := &fakeInvalidator{errs: map[int64][]error{
		5: {transient, transient, transient},
	}}

	consumer := newConsumer(&fakeReader{}, invalidator, &Config{MaxAttempts: 2}, nil)

	err := consumer.handle(context.Background(), message(t, 1, NewDatasetChanged(5, "", time.Now())))
	require.ErrorIs(t, err, apperrors.ErrTransactionFailure)
	assert.Len(t, invalidator.calls, 2)
}

func TestDecodeEvent(t *testing.T) {
	event := NewDatasetChanged(42, "loader", time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)))
	assert.Equal(t, time.UTC, event.OccurredAt.Location())
	assert.Equal(t, []byte("42"), event.Key())

	data, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, int64(42), decoded.DatasetID)
	assert.True(t, event.OccurredAt.Equal(decoded.OccurredAt))

	invalid := []string{
		`{`,
		`{"type":"dataset.deleted","datasetId":1}`,
		`{"type":"dataset.changed","datasetId":0}`,
	}

	for _, raw := range invalid {
		_, err := DecodeEvent([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedEvent, raw)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.msgs = append(w.msgs, msgs...)

	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true

	return nil
}

func TestPublisherDatasetChanged(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newPublisher(writer, "cli", nil)

	event, err := publisher.DatasetChanged(context.Background(), 12)
	require.NoError(t, err)

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, []byte("12"), msg.Key)
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(EventDatasetChanged)}}, msg.Headers)

	decoded, err := DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "cli", decoded.Source)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)

	writer.err = errors.New("broker unavailable")
	_, err = publisher.DatasetChanged(context.Background(), 12)
	require.Error(t, err)
}

func TestConfig(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("SCREENRESULTS_INVALIDATION_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SCREENRESULTS_INVALIDATION_TOPIC", "events")

	cfg := LoadConfig()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "events", cfg.Topic)
	assert.Equal(t, defaultGroup, cfg.Group)
	assert.False(t, cfg.Enabled)
	require.NoError(t, cfg.Validate())

	assert.ErrorIs(t, (&Config{Topic: "x"}).Validate(), ErrNoBrokers)
	assert.ErrorIs(t, (&Config{Brokers: []string{"k"}}).Validate(), ErrNoTopic)

	_, err := NewConsumer(&Config{}, &fakeInvalidator{}, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}
