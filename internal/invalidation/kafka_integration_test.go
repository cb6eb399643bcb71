package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/labscreen/screenresults/internal/storage"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingInvalidator) InvalidateDataset(_ context.Context, datasetID int64) (storage.EvictionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids = append(r.ids, datasetID)

	return storage.EvictionResult{}, nil
}

func (r *recordingInvalidator) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int64(nil), r.ids...)
}

func TestPublishAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("screenresults-test"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	cfg := &Config{
		Enabled:      true,
		Brokers:      brokers,
		Topic:        "dataset-changed-test",
		Group:        "screenresults-test",
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: cfg.Topic, NumPartitions: 1, ReplicationFactor: 1}))
	require.NoError(t, conn.Close())

	publisher, err := NewPublisher(cfg, "test", nil)
	require.NoError(t, err)

	defer func() {
		_ = publisher.Close()
	}()

	for _, id := range []int64{3, 4} {
		_, err := publisher.DatasetChanged(ctx, id)
		require.NoError(t, err)
	}

	invalidator := &recordingInvalidator{}

	consumer, err := NewConsumer(cfg, invalidator, nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		done <- consumer.Run(runCtx)
	}()

	assert.Eventually(t, func() bool {
		return len(invalidator.seen()) == 2
	}, 60*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{3, 4}, invalidator.seen())
}
