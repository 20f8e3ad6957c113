package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender records payloads and answers with results[i] for the i-th call.
type recordingSender struct {
	payloads []string
	results  []error
}

func (s *recordingSender) Send(ctx context.Context, payload []byte) error {
	i := len(s.payloads)
	s.payloads = append(s.payloads, string(payload))
	if i < len(s.results) {
		return s.results[i]
	}
	return nil
}

func samplesN(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{Path: fmt.Sprintf("m.%d", i), Timestamp: 1000, Value: float64(i)}
	}
	return samples
}

func TestPartition(t *testing.T) {
	for _, tt := range []struct{ n, size int }{
		{0, 3}, {1, 3}, {3, 3}, {4, 3}, {6, 3}, {7, 3}, {50, 50}, {101, 50}, {5, 1},
	} {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.size), func(t *testing.T) {
			samples := samplesN(tt.n)
			batches := Partition(samples, tt.size)

			assert.Len(t, batches, (tt.n+tt.size-1)/tt.size)
			var joined []Sample
			for i, batch := range batches {
				assert.NotEmpty(t, batch)
				if i < len(batches)-1 {
					assert.Len(t, batch, tt.size)
				} else {
					assert.LessOrEqual(t, len(batch), tt.size)
				}
				joined = append(joined, batch...)
			}
			if tt.n == 0 {
				assert.Empty(t, joined)
			} else {
				assert.Equal(t, samples, joined)
			}
		})
	}
}

func TestPartition_DefaultSize(t *testing.T) {
	assert.Len(t, Partition(samplesN(120), 0), 3)
}

func TestBatcherSend(t *testing.T) {
	sender := &recordingSender{}
	batcher := &Batcher{Transport: sender, Protocol: Plaintext, BulkSize: 2}

	report, err := batcher.Send(context.Background(), samplesN(5))
	require.NoError(t, err)

	assert.Equal(t, BatchReport{Batches: 3, Sent: 3}, report)
	assert.Equal(t, []string{
		"m.0 0 1000\nm.1 1 1000\n",
		"m.2 2 1000\nm.3 3 1000\n",
		"m.4 4 1000\n",
	}, sender.payloads)
}

func TestBatcherSend_Empty(t *testing.T) {
	sender := &recordingSender{}
	batcher := &Batcher{Transport: sender, Protocol: Pickle, BulkSize: 2}

	report, err := batcher.Send(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, BatchReport{}, report)
	assert.Empty(t, sender.payloads)
}

func TestBatcherSend_DroppedBatchDoesNotBlockOthers(t *testing.T) {
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	dropped := errors.Mark(errors.New("gave up"), ErrBatchDropped)
	sender := &recordingSender{results: []error{nil, dropped, nil}}
	batcher := &Batcher{Transport: sender, Protocol: Plaintext, BulkSize: 1, Metrics: metrics}

	report, err := batcher.Send(context.Background(), samplesN(3))
	require.NoError(t, err)

	assert.Equal(t, BatchReport{Batches: 3, Sent: 2, Dropped: 1}, report)
	assert.Len(t, sender.payloads, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.BatchesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchesDropped))
}

func TestBatcherSend_FatalFailureAbandonsCycle(t *testing.T) {
	fatal := errors.Mark(errors.New("disk on fire"), ErrSendFailed)
	sender := &recordingSender{results: []error{nil, fatal}}
	batcher := &Batcher{Transport: sender, Protocol: Plaintext, BulkSize: 1}

	report, err := batcher.Send(context.Background(), samplesN(4))

	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.Equal(t, BatchReport{Batches: 4, Sent: 1}, report)
	assert.Len(t, sender.payloads, 2)
}

func TestBatcherSend_LogsDroppedBatchOnce(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	dialer := &fakeDialer{errs: []error{brokenPipe()}}
	transport, err := NewTransport(TransportConfig{
		Endpoint:   "collector:2004",
		MaxRetries: 2,
		NewBackOff: zeroBackOff,
		Dial:       dialer.Dial,
		Logger:     logger,
	})
	require.NoError(t, err)
	batcher := &Batcher{Transport: transport, Protocol: Plaintext, BulkSize: 1, Logger: logger}

	report, err := batcher.Send(context.Background(), samplesN(1))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 1, strings.Count(logs.String(), "level=WARN"))
	assert.Equal(t, 1, strings.Count(logs.String(), "\n"))
	assert.NotContains(t, logs.String(), "stack trace")
}
