package consumer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"seismo/internal/broker"
	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/internal/sink"
)

func startKafka(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("seismo-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

// TestPipeline_Integration publishes through each broker driver and checks the
// consumer persists valid events to a CSV sink and commits past malformed ones.
func TestPipeline_Integration(t *testing.T) {
	brokers := startKafka(t)

	for _, brokerType := range []string{constants.BrokerTypeKafka, constants.BrokerTypeFranz} {
		t.Run(brokerType, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			log := logger.NopLogger()
			cfg := config.BrokerConfig{
				Type: brokerType,
				Kafka: config.KafkaConfig{
					Brokers:      brokers,
					Topic:        "eu_seismic_" + brokerType,
					GroupID:      "seismic_reader_" + brokerType,
					StartOffset:  "earliest",
					Compression:  "gzip",
					BatchBytes:   constants.DefaultBatchBytes,
					BatchTimeout: 10 * time.Millisecond,
				},
			}

			producer, err := broker.NewProducer(cfg, log, constants.ServiceFeedBridge)
			require.NoError(t, err)
			for _, value := range [][]byte{eventJSON("a"), []byte("not json"), eventJSON("b")} {
				require.NoError(t, producer.Publish(ctx, broker.Message{Key: []byte("k"), Value: value}))
			}
			require.NoError(t, producer.Close())

			source, err := broker.NewConsumer(cfg, log, constants.ServiceSinkConsumer)
			require.NoError(t, err)
			defer source.Close()

			csvSink, err := sink.NewCSVSink(filepath.Join(t.TempDir(), "seismic.csv"))
			require.NoError(t, err)
			defer csvSink.Close()

			c := New(config.ConsumerConfig{PollTimeout: time.Second}, source, csvSink, nil, "", log)

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- c.Run(runCtx) }()

			require.Eventually(t, func() bool {
				return c.Stats().Persisted == 2 && c.Stats().Skipped == 1
			}, 90*time.Second, 100*time.Millisecond)
			stop()
			require.NoError(t, <-done)

			records, err := csvSink.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "a", records[0].UNID)
			assert.Equal(t, "b", records[1].UNID)
			assert.Equal(t, map[int]int64{0: 2}, c.Committed())
		})
	}
}
