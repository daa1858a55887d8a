package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config contains batching configuration.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the starting capacity of the input queue.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats holds recorder counters.
type Stats struct {
	Events  int64 `json:"events"`  // feed_events rows written
	Metrics int64 `json:"metrics"` // metric_snapshots rows written
	Errors  int64 `json:"errors"`  // failed flushes
	Flushes int64 `json:"flushes"`
	Dropped int64 `json:"dropped"` // rows offered after Stop
	Pending int   `json:"pending"` // rows waiting in the input queue
}

// Schema creates the tables the recorder writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS feed_events (
	received_at TIMESTAMPTZ NOT NULL,
	event_type  TEXT        NOT NULL,
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS feed_events_type_time ON feed_events (event_type, received_at);

CREATE TABLE IF NOT EXISTS metric_snapshots (
	fetched_at           TIMESTAMPTZ      NOT NULL,
	instrument           TEXT             NOT NULL,
	timeframe            TEXT             NOT NULL,
	price                DOUBLE PRECISION,
	trend                TEXT             NOT NULL,
	volatility           TEXT             NOT NULL,
	support              DOUBLE PRECISION,
	resistance           DOUBLE PRECISION,
	indicators           JSONB            NOT NULL,
	sentiment            TEXT             NOT NULL,
	sentiment_score      DOUBLE PRECISION NOT NULL,
	sentiment_confidence DOUBLE PRECISION,
	sentiment_sources    TEXT[]           NOT NULL,
	PRIMARY KEY (instrument, fetched_at)
);
`

// row is one pending insert.
type row interface {
	queue(b *pgx.Batch)
	isMetric() bool
}

// eventRow represents a row for the feed_events table.
type eventRow struct {
	ReceivedAt time.Time
	Type       string
	Payload    []byte // JSONB
}

func (r eventRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO feed_events (received_at, event_type, payload)
		VALUES ($1, $2, $3)
	`, r.ReceivedAt, r.Type, r.Payload)
}

func (eventRow) isMetric() bool { return false }

// metricRow represents a row for the metric_snapshots table. Nil pointers
// are stored as NULL.
type metricRow struct {
	FetchedAt  time.Time
	Instrument string
	Timeframe  string
	Price      *float64
	Trend      string
	Volatility string
	Support    *float64
	Resistance *float64
	Indicators []byte // JSONB: {"sma20": 1.08, "sma50": null, "rsi14": 61.5}

	Sentiment           string
	SentimentScore      float64
	SentimentConfidence *float64
	SentimentSources    []string
}

func (r metricRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO metric_snapshots (
			fetched_at, instrument, timeframe, price, trend, volatility, support, resistance, indicators,
			sentiment, sentiment_score, sentiment_confidence, sentiment_sources
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (instrument, fetched_at) DO NOTHING
	`, r.FetchedAt, r.Instrument, r.Timeframe, r.Price, r.Trend, r.Volatility, r.Support, r.Resistance, r.Indicators,
		r.Sentiment, r.SentimentScore, r.SentimentConfidence, r.SentimentSources)
}

func (metricRow) isMetric() bool { return true }
