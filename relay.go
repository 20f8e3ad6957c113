package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultNamespace = "Elasticsearch"
	DefaultInterval  = 10 * time.Second
)

// StatsSource fetches statistics from the monitored cluster.
type StatsSource interface {
	ClusterName(ctx context.Context) (string, error)
	// NodesStats returns the "nodes" object of the nodes-stats response, keyed by node id.
	NodesStats(ctx context.Context) (Value, error)
}

type Config struct {
	// Namespace is the first component of every metric path.
	Namespace string
	Interval  time.Duration
	Protocol  Protocol
	BulkSize  int
}

// Relay runs poll cycles: fetch, flatten, send.
type Relay struct {
	config    Config
	source    StatsSource
	flattener *Flattener
	batcher   *Batcher
	logger    *slog.Logger
	metrics   *Metrics

	cluster string
}

func New(config Config, source StatsSource, transport Sender, logger *slog.Logger, metrics *Metrics) *Relay {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Protocol == "" {
		config.Protocol = Pickle
	}
	if config.BulkSize <= 0 {
		config.BulkSize = DefaultBulkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		config:    config,
		source:    source,
		flattener: NewFlattener(),
		batcher: &Batcher{
			Transport: transport,
			Protocol:  config.Protocol,
			BulkSize:  config.BulkSize,
			Logger:    logger,
			Metrics:   metrics,
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Run polls every Interval until ctx is done. Failed cycles are logged and counted; they
// never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		"namespace", r.config.Namespace,
		"interval", r.config.Interval,
		"protocol", r.config.Protocol,
		"bulk_size", r.config.BulkSize,
	)
	for {
		if err := r.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("poll cycle failed", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.config.Interval):
		}
	}
}

// RunCycle performs a single poll cycle. Fetch failures are marked ErrFetch.
func (r *Relay) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		r.metrics.observeCycle(time.Since(start).Seconds())
	}()

	samples, err := r.collect(ctx)
	if err != nil {
		r.metrics.cycleError(StageFetch)
		return err
	}
	r.metrics.addSamples(len(samples))

	report, err := r.batcher.Send(ctx, samples)
	if err != nil {
		r.metrics.cycleError(StageSend)
		return errors.Wrap(err, "failed to send samples")
	}
	r.logger.Debug("poll cycle complete",
		"samples", len(samples),
		"batches", report.Batches,
		"dropped", report.Dropped,
		"elapsed", time.Since(start),
	)
	return nil
}

func (r *Relay) collect(ctx context.Context) ([]Sample, error) {
	if r.cluster == "" {
		name, err := r.source.ClusterName(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to get cluster name"), ErrFetch)
		}
		r.cluster = name
	}

	nodes, err := r.source.NodesStats(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to get node stats"), ErrFetch)
	}
	prefix := r.config.Namespace + "." + SanitizeSegment(r.cluster)
	return r.flattener.FlattenNodes(nodes, prefix), nil
}
