package search

import (
	"log/slog"

	"github.com/cascadesearch/cascade/internal/search/rank"
	"github.com/cascadesearch/cascade/pkg/metrics"
)

// pipelineLogger observes the ranking pipeline, feeding debug logs and the
// per-rule bucket counters.
type pipelineLogger struct {
	log *slog.Logger
	met *metrics.Metrics
}

var _ rank.Logger = (*pipelineLogger)(nil)

func newPipelineLogger(log *slog.Logger, met *metrics.Metrics) *pipelineLogger {
	return &pipelineLogger{log: log, met: met}
}

func (l *pipelineLogger) StartIteration(rule string, universeLen uint64) {
	l.log.Debug("rule iteration started", "rule", rule, "universe", universeLen)
}

func (l *pipelineLogger) NextBucket(rule string, cost uint64, bucketLen uint64) {
	l.log.Debug("bucket yielded", "rule", rule, "cost", cost, "size", bucketLen)
	if l.met != nil {
		l.met.BucketsYieldedTotal.WithLabelValues(rule).Inc()
	}
}

func (l *pipelineLogger) EndIteration(rule string) {
	l.log.Debug("rule iteration ended", "rule", rule)
}

func (l *pipelineLogger) Finish(docids []uint32) {
	l.log.Debug("ranking finished", "documents", len(docids))
}
