//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker for the test and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("hazard-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// loadFeedFixture returns the FIRMS sample rows used by the pipeline tests.
func loadFeedFixture(t *testing.T) []json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "pipeline", "testdata", "firms_sample.json"))
	require.NoError(t, err)
	var rows []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &rows))
	return rows
}

type alertMessage struct {
	Event   domain.AlertEvent
	Key     string
	Headers map[string]string
}

func decodeAlert(t *testing.T, msg kafkago.Message) alertMessage {
	t.Helper()
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var raw struct {
		Kind  string `json:"kind"`
		Alert struct {
			ID        string          `json:"id"`
			Severity  domain.Severity `json:"severity"`
			Partition string          `json:"partition"`
			Status    string          `json:"status"`
		} `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &raw))
	return alertMessage{
		Event: domain.AlertEvent{
			Kind: raw.Kind,
			Alert: domain.Alert{
				ID:        raw.Alert.ID,
				Severity:  raw.Alert.Severity,
				Partition: raw.Alert.Partition,
			},
		},
		Key:     string(msg.Key),
		Headers: headers,
	}
}
