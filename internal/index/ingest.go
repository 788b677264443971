package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cascadesearch/cascade/pkg/config"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
	"github.com/cascadesearch/cascade/pkg/kafka"
	"github.com/cascadesearch/cascade/pkg/metrics"
)

// Ingestor consumes documents from the ingest topic and indexes them in
// batches. A batch is flushed when it reaches the configured document
// count or when the flush interval elapses, whichever comes first.
type Ingestor struct {
	store  *Store
	cfg    config.StorageConfig
	met    *metrics.Metrics
	logger *slog.Logger

	mu    sync.Mutex
	batch []Document
}

// NewIngestor creates an Ingestor writing to store. met may be nil.
func NewIngestor(store *Store, cfg config.StorageConfig, met *metrics.Metrics) *Ingestor {
	return &Ingestor{
		store:  store,
		cfg:    cfg,
		met:    met,
		logger: slog.Default().With("component", "ingestor"),
	}
}

// Consumer returns a Kafka consumer wired to this ingestor.
func (ing *Ingestor) Consumer(cfg config.KafkaConfig) *kafka.Consumer {
	return kafka.NewConsumer(cfg, cfg.Topics.DocumentIngest, ing.Handle)
}

// Handle decodes one ingest message and buffers it. Malformed messages are
// dropped with a warning so one bad document cannot wedge the partition.
func (ing *Ingestor) Handle(ctx context.Context, key, value []byte) error {
	var doc Document
	if err := json.Unmarshal(value, &doc); err != nil {
		ing.logger.WarnContext(ctx, "dropping malformed document", "key", string(key), "error", err)
		return nil
	}
	if doc.ID == "" {
		doc.ID = string(key)
	}
	if doc.ID == "" {
		ing.logger.WarnContext(ctx, "dropping document without id")
		return nil
	}

	ing.mu.Lock()
	ing.batch = append(ing.batch, doc)
	full := len(ing.batch) >= ing.cfg.FlushDocCount
	ing.mu.Unlock()

	if full {
		return ing.Flush(ctx)
	}
	return nil
}

// Flush indexes the buffered batch. Safe to call with an empty buffer.
func (ing *Ingestor) Flush(ctx context.Context) error {
	ing.mu.Lock()
	batch := ing.batch
	ing.batch = nil
	ing.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := ing.store.Index(ctx, batch); err != nil {
		if apperrors.IsUserError(err) {
			ing.logger.WarnContext(ctx, "dropping invalid batch", "documents", len(batch), "error", err)
			return nil
		}
		return fmt.Errorf("flushing ingest batch: %w", err)
	}
	if ing.met != nil {
		ing.met.DocsIndexedTotal.Add(float64(len(batch)))
		ing.met.IndexFlushesTotal.Inc()
	}
	return nil
}

// Run flushes the buffer on the configured interval until ctx is
// cancelled, then performs a final flush.
func (ing *Ingestor) Run(ctx context.Context) error {
	interval := ing.cfg.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ing.Flush(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := ing.Flush(ctx); err != nil {
				ing.logger.ErrorContext(ctx, "periodic flush failed", "error", err)
			}
		}
	}
}
