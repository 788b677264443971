// Package server exposes the engine over HTTP: search and ingestion
// endpoints, a Redis-backed query cache and the health and metrics
// surfaces.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cascadesearch/cascade/internal/analytics"
	"github.com/cascadesearch/cascade/internal/index"
	"github.com/cascadesearch/cascade/internal/search"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
	"github.com/cascadesearch/cascade/pkg/logger"
	"github.com/cascadesearch/cascade/pkg/middleware"
)

// Handler serves the search API. cache and collector may be nil.
type Handler struct {
	engine    *search.Engine
	store     *index.Store
	cache     *QueryCache
	collector *analytics.Collector
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(engine *search.Engine, store *index.Store, cache *QueryCache, collector *analytics.Collector) *Handler {
	return &Handler{
		engine:    engine,
		store:     store,
		cache:     cache,
		collector: collector,
		logger:    slog.Default().With("component", "api"),
	}
}

// Search handles GET /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req := search.Request{
		Query:            r.URL.Query().Get("q"),
		Filter:           r.URL.Query().Get("filter"),
		MatchingStrategy: r.URL.Query().Get("matchingStrategy"),
	}
	var err error
	if req.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if req.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	var result *search.Result
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, req, func() (*search.Result, error) {
			return h.engine.Search(ctx, req)
		})
	} else {
		result, err = h.engine.Search(ctx, req)
	}
	if err != nil {
		h.writeSearchError(ctx, w, req, err)
		return
	}

	log.Debug("search served",
		"query", req.Query,
		"hits", len(result.Hits),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.track(ctx, req, result, cacheHit, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// Index handles POST /api/v1/documents: a JSON array of documents indexed
// synchronously. The query cache is invalidated on success.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var docs []index.Document
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of documents")
		return
	}
	if err := h.store.Index(ctx, docs); err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(ctx).Error("indexing failed", "documents", len(docs), "error", err)
			writeError(w, status, "indexing failed")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	if h.cache != nil {
		if _, err := h.cache.Invalidate(ctx); err != nil {
			logger.FromContext(ctx).Warn("cache invalidation failed", "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"indexed": len(docs)})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "query cache is not enabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) writeSearchError(ctx context.Context, w http.ResponseWriter, req search.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if apperrors.IsUserError(err) {
		writeError(w, status, err.Error())
		return
	}
	logger.FromContext(ctx).Error("search failed", "query", req.Query, "error", err)
	if errors.Is(err, apperrors.ErrTimeout) {
		h.trackFailure(ctx, req, analytics.EventTimeout)
		writeError(w, status, "search timed out")
		return
	}
	writeError(w, status, "search failed")
}

func (h *Handler) track(ctx context.Context, req search.Request, result *search.Result, cacheHit bool, elapsed time.Duration) {
	if h.collector == nil {
		return
	}
	eventType := analytics.EventSearch
	if len(result.Hits) == 0 {
		eventType = analytics.EventZeroResult
	}
	h.collector.Track(analytics.SearchEvent{
		Type:           eventType,
		Query:          req.Query,
		Filter:         req.Filter,
		Strategy:       req.MatchingStrategy,
		Hits:           len(result.Hits),
		EstimatedTotal: result.EstimatedTotal,
		LatencyMs:      elapsed.Milliseconds(),
		CacheHit:       cacheHit,
		Timestamp:      time.Now().UTC(),
		RequestID:      middleware.GetRequestID(ctx),
	})
}

func (h *Handler) trackFailure(ctx context.Context, req search.Request, eventType analytics.EventType) {
	if h.collector == nil {
		return
	}
	h.collector.Track(analytics.SearchEvent{
		Type:      eventType,
		Query:     req.Query,
		Filter:    req.Filter,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	})
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
