package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradeiq/dashfeed/internal/buffer"
	"github.com/tradeiq/dashfeed/internal/poller"
	"github.com/tradeiq/dashfeed/internal/realtime"
)

// finalFlushTimeout bounds the last write made by Stop.
const finalFlushTimeout = 5 * time.Second

// Recorder batches feed events and metric snapshots into PostgreSQL.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	db     DB

	input   *buffer.Growable[row]
	dropped atomic.Int64

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	consumeWG sync.WaitGroup
	flushWG   sync.WaitGroup

	stats Stats
}

// New creates a Recorder writing to db.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		db:     db,
		input:  buffer.NewGrowable[row](cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
}

// EnsureSchema creates the recorder's tables if they do not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create recorder schema: %w", err)
	}
	return nil
}

// Start begins consuming rows and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.consumeWG.Add(1)
	go r.consumeLoop()

	r.flushWG.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued rows, writes the final batch and shuts down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.consumeWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder drain timed out", "pending", r.input.Len())
		err = ctx.Err()
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.flushWG.Wait()

	// ctx may already be spent by a slow drain.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	r.flush(flushCtx)
	cancel()

	r.logger.Info("recorder stopped")
	return err
}

// RecordMessage enqueues a realtime message. It never blocks, so it can be
// registered directly as a message subscriber.
func (r *Recorder) RecordMessage(msg *realtime.InboundMessage) {
	if msg == nil {
		return
	}

	payload := []byte(msg.Raw)
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(msg.Fields); err != nil {
			r.logger.Warn("dropping unencodable message", "type", msg.Type, "error", err)
			return
		}
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	r.enqueue(eventRow{
		ReceivedAt: receivedAt,
		Type:       msg.Type,
		Payload:    payload,
	})
}

// HandleSnapshot enqueues a poller snapshot. It implements poller.Handler.
func (r *Recorder) HandleSnapshot(s poller.Snapshot) error {
	mr, err := transformSnapshot(s)
	if err != nil {
		return err
	}
	r.enqueue(mr)
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.batchMu.Lock()
	stats := r.stats
	r.batchMu.Unlock()

	stats.Dropped = r.dropped.Load()
	stats.Pending = r.input.Len()
	return stats
}

func (r *Recorder) enqueue(rw row) {
	if !r.input.Push(rw) {
		r.dropped.Add(1)
	}
}

// consumeLoop moves rows from the input queue into the batch until the
// queue is closed and empty.
func (r *Recorder) consumeLoop() {
	defer r.consumeWG.Done()

	for {
		rw, ok := r.input.Pop()
		if !ok {
			return
		}
		r.add(rw)
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.flushWG.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

func (r *Recorder) add(rw row) {
	r.batchMu.Lock()
	r.batch = append(r.batch, rw)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// transformSnapshot converts a poller snapshot into a metric_snapshots row.
func transformSnapshot(s poller.Snapshot) (metricRow, error) {
	if s.Technicals == nil || s.Sentiment == nil {
		return metricRow{}, fmt.Errorf("incomplete snapshot for %s", s.Instrument)
	}

	tech, sent := s.Technicals, s.Sentiment

	data, err := json.Marshal(tech.Indicators)
	if err != nil {
		return metricRow{}, fmt.Errorf("encode indicators: %w", err)
	}

	mr := metricRow{
		FetchedAt:           s.FetchedAt,
		Instrument:          s.Instrument,
		Timeframe:           tech.Timeframe,
		Price:               tech.CurrentPrice,
		Trend:               tech.Trend,
		Volatility:          tech.Volatility,
		Indicators:          data,
		Sentiment:           sent.Sentiment,
		SentimentScore:      sent.Score,
		SentimentConfidence: sent.Confidence,
		SentimentSources:    sent.Sources,
	}
	if tech.KeyLevels != nil {
		mr.Support = &tech.KeyLevels.Support
		mr.Resistance = &tech.KeyLevels.Resistance
	}
	if mr.SentimentSources == nil {
		mr.SentimentSources = []string{}
	}
	return mr, nil
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.stats.Errors++
		r.batchMu.Unlock()
		return
	}

	var events, metrics int64
	for _, rw := range batch {
		if rw.isMetric() {
			metrics++
		} else {
			events++
		}
	}

	r.batchMu.Lock()
	r.stats.Events += events
	r.stats.Metrics += metrics
	r.stats.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed rows",
		"events", events,
		"metrics", metrics,
		"duration", time.Since(start),
	)
}

// batchInsert sends every row in one pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		rw.queue(batch)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
