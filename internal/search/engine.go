// Package search is the engine façade: it turns a raw query string and an
// optional filter into ranked external document ids by wiring the query
// builder, the configured ranking rule chain and the index snapshot into
// one bucket sort.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cascadesearch/cascade/internal/index"
	"github.com/cascadesearch/cascade/internal/search/filter"
	"github.com/cascadesearch/cascade/internal/search/query"
	"github.com/cascadesearch/cascade/internal/search/rank"
	"github.com/cascadesearch/cascade/pkg/config"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
	"github.com/cascadesearch/cascade/pkg/metrics"
)

// Engine executes searches against an index store.
type Engine struct {
	store  *index.Store
	cfg    config.SearchConfig
	met    *metrics.Metrics
	specs  []ruleSpec
	logger *slog.Logger
}

// NewEngine validates the configured criteria chain and returns an Engine.
// met may be nil.
func NewEngine(store *index.Store, cfg config.SearchConfig, met *metrics.Metrics) (*Engine, error) {
	specs, err := parseCriteria(cfg.Criteria)
	if err != nil {
		return nil, fmt.Errorf("configuring ranking criteria: %w", err)
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		met:    met,
		specs:  specs,
		logger: slog.Default().With("component", "search"),
	}, nil
}

// Request is one search request. An empty Query matches every document the
// filter admits, ordered by the criteria that still apply.
type Request struct {
	Query  string `json:"q"`
	Filter string `json:"filter,omitempty"`
	// MatchingStrategy is "last" (default), "all" or "frequency".
	MatchingStrategy string `json:"matchingStrategy,omitempty"`
	Offset           int    `json:"offset,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// Result is the ranked page for one request.
type Result struct {
	Hits []Hit `json:"hits"`
	// EstimatedTotal is the cardinality of the top-level buckets visited
	// while producing the page, a lower bound on the full match count.
	EstimatedTotal uint64        `json:"estimatedTotal"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Hit is one ranked document.
type Hit struct {
	ID string `json:"id"`
}

// Search runs the full pipeline: filter the universe, build the query
// graph, bucket sort under the configured criteria and map the page back to
// external ids.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxLimit > 0 && limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	strategy, err := parseStrategy(req.MatchingStrategy)
	if err != nil {
		return nil, err
	}

	snap := e.store.Snapshot()
	universe, err := snap.AllDocids(ctx)
	if err != nil {
		return nil, e.fail(err)
	}
	if strings.TrimSpace(req.Filter) != "" {
		expr, err := filter.Parse(req.Filter)
		if err != nil {
			return nil, err
		}
		matched, err := expr.Evaluate(ctx, snap)
		if err != nil {
			return nil, e.fail(fmt.Errorf("evaluating filter: %w", err))
		}
		universe.And(matched)
	}

	its := query.NewInterners()
	var q rank.Query
	if strings.TrimSpace(req.Query) != "" {
		terms, err := query.BuildTerms(its, snap, req.Query)
		if err != nil {
			return nil, e.fail(err)
		}
		if len(terms) > 0 {
			g, _, err := query.BuildGraph(its, snap, terms)
			if err != nil {
				return nil, e.fail(err)
			}
			q.Graph = g
		}
	}

	rules := buildRules(e.specs, snap, strategy)
	sess := rank.NewSession(its, snap, newPipelineLogger(e.logger, e.met))
	out, err := rank.BucketSort(ctx, sess, rules, universe, q, offset, limit)
	if err != nil {
		return nil, e.fail(err)
	}
	if e.met != nil {
		e.met.ConditionResolutions.Add(float64(sess.Stats.ConditionResolutions))
		e.met.ConditionCacheHits.Add(float64(sess.Stats.ConditionCacheHits))
	}

	ids, err := snap.ExternalIDs(ctx, out.Docs)
	if err != nil {
		return nil, e.fail(err)
	}
	hits := make([]Hit, len(ids))
	for i, id := range ids {
		hits[i] = Hit{ID: id}
	}

	elapsed := time.Since(start)
	if e.met != nil {
		e.met.SearchLatency.Observe(elapsed.Seconds())
		e.met.SearchResultsCount.Observe(float64(len(hits)))
		outcome := "ok"
		if len(hits) == 0 {
			outcome = "zero_result"
		}
		e.met.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
	e.logger.DebugContext(ctx, "search completed",
		"query", req.Query,
		"hits", len(hits),
		"elapsed", elapsed,
		"resolutions", sess.Stats.ConditionResolutions,
		"cache_hits", sess.Stats.ConditionCacheHits,
	)

	return &Result{
		Hits:           hits,
		EstimatedTotal: out.BucketCandidates.GetCardinality(),
		Elapsed:        elapsed,
	}, nil
}

// fail records the failure outcome before passing the error up.
func (e *Engine) fail(err error) error {
	if e.met == nil {
		return err
	}
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		e.met.SearchQueriesTotal.WithLabelValues("timeout").Inc()
	case apperrors.IsUserError(err):
		// user errors are not an engine outcome
	default:
		e.met.SearchQueriesTotal.WithLabelValues("error").Inc()
	}
	return err
}
