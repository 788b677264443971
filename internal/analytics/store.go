package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cascadesearch/cascade/pkg/config"
	"github.com/cascadesearch/cascade/pkg/kafka"
	"github.com/cascadesearch/cascade/pkg/postgres"
)

// Store persists search events in PostgreSQL.
//
// It requires a `search_events` table:
//
//	CREATE TABLE search_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    event_type  TEXT NOT NULL,
//	    query       TEXT NOT NULL,
//	    hits        INT NOT NULL,
//	    latency_ms  BIGINT NOT NULL,
//	    payload     JSONB NOT NULL,
//	    occurred_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates an event store over db.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// Save persists one event.
func (s *Store) Save(ctx context.Context, event SearchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO search_events (event_type, query, hits, latency_ms, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(event.Type), event.Query, event.Hits, event.LatencyMs, payload, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("saving search event: %w", err)
	}
	return nil
}

// QueryCount is one row of a top-queries report.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// TopQueries returns the most frequent queries since the given time.
func (s *Store) TopQueries(ctx context.Context, since time.Time, limit int) ([]QueryCount, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT query, COUNT(*) AS n FROM search_events
		 WHERE occurred_at >= $1 AND event_type = $2
		 GROUP BY query ORDER BY n DESC, query LIMIT $3`,
		since, string(EventSearch), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top queries: %w", err)
	}
	defer rows.Close()

	var out []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, fmt.Errorf("scanning top query row: %w", err)
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// ZeroResultRate returns the fraction of searches since the given time that
// produced no hits.
func (s *Store) ZeroResultRate(ctx context.Context, since time.Time) (float64, error) {
	var total, zero int64
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE hits = 0)
		 FROM search_events WHERE occurred_at >= $1`,
		since,
	).Scan(&total, &zero)
	if err != nil {
		return 0, fmt.Errorf("querying zero result rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(zero) / float64(total), nil
}

// Handler returns a Kafka message handler that persists decoded events.
// Malformed messages are skipped so one bad event cannot stall the
// partition.
func (s *Store) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		var event SearchEvent
		if err := json.Unmarshal(value, &event); err != nil {
			s.logger.WarnContext(ctx, "skipping malformed event", "error", err)
			return nil
		}
		return s.Save(ctx, event)
	}
}

// Consumer returns a Kafka consumer feeding this store.
func (s *Store) Consumer(cfg config.KafkaConfig) *kafka.Consumer {
	return kafka.NewConsumer(cfg, cfg.Topics.AnalyticsEvents, s.Handler())
}
