package relay

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

const DefaultBulkSize = 50

// Sender is the part of Transport the Batcher needs.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Batcher sends one cycle's samples in fixed-size batches.
type Batcher struct {
	Transport Sender
	Protocol  Protocol
	BulkSize  int
	Logger    *slog.Logger
	Metrics   *Metrics
}

// BatchReport summarizes one call to Batcher.Send.
type BatchReport struct {
	Batches int
	Sent    int
	Dropped int
}

// Partition splits samples into consecutive batches of size, the last one possibly
// shorter. The batches share the backing array of samples.
func Partition(samples []Sample, size int) [][]Sample {
	if size <= 0 {
		size = DefaultBulkSize
	}
	batches := make([][]Sample, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, samples[start:end:end])
	}
	return batches
}

// Send encodes and transmits every batch in order. A batch dropped by the transport is
// counted and skipped. Any other failure abandons the remaining batches and is returned.
func (b *Batcher) Send(ctx context.Context, samples []Sample) (BatchReport, error) {
	batches := Partition(samples, b.BulkSize)
	report := BatchReport{Batches: len(batches)}

	for i, batch := range batches {
		payload, err := Encode(batch, b.Protocol)
		if err != nil {
			return report, errors.Wrapf(err, "failed to encode batch %d", i)
		}

		err = b.Transport.Send(ctx, payload)
		switch {
		case err == nil:
			report.Sent++
			b.Metrics.batchSent()
		case errors.Is(err, ErrBatchDropped):
			report.Dropped++
			b.Metrics.batchDropped()
			b.logger().Warn("dropped batch", "batch", i, "samples", len(batch), "error", err.Error())
		default:
			return report, errors.Wrapf(err, "abandoned %d of %d batches", len(batches)-i, len(batches))
		}
	}
	return report, nil
}

func (b *Batcher) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
