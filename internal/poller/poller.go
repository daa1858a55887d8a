package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeiq/dashfeed/internal/api"
)

// Source is the subset of api.Client the poller needs.
type Source interface {
	GetTechnicals(ctx context.Context, instrument, timeframe string) (*api.Technicals, error)
	GetSentiment(ctx context.Context, instrument string) (*api.Sentiment, error)
}

// Snapshot is one instrument's metrics from a single poll cycle.
type Snapshot struct {
	Instrument string
	Technicals *api.Technicals
	Sentiment  *api.Sentiment
	FetchedAt  time.Time
}

// Handler receives fetched snapshots.
type Handler interface {
	HandleSnapshot(snapshot Snapshot) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Snapshot) error

func (f HandlerFunc) HandleSnapshot(s Snapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Instruments []string
	Timeframe   string        // Technicals timeframe (default: 1h)
	Interval    time.Duration // Poll interval (default: 20s)
	Concurrency int           // Max instruments in flight (default: 4)
	Timeout     time.Duration // Per-instrument timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:   "1h",
		Interval:    20 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically fetches technicals and sentiment via REST.
type Poller struct {
	cfg     Config
	source  Source
	handler Handler
	logger  *slog.Logger

	mu   sync.RWMutex
	last map[string]Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source Source, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = def.Timeframe
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		last:    make(map[string]Snapshot),
		ctx:     context.Background(),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("metrics poller started",
		"instruments", len(p.cfg.Instruments),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("metrics poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent snapshot for instrument.
func (p *Poller) Last(instrument string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.last[instrument]
	return s, ok
}

// All returns the most recent snapshot of every instrument polled so far.
func (p *Poller) All() map[string]Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Snapshot, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches every instrument with bounded concurrency.
func (p *Poller) pollAll() {
	if len(p.cfg.Instruments) == 0 {
		p.logger.Debug("no instruments to poll")
		return
	}

	start := time.Now()
	var fetched, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, instrument := range p.cfg.Instruments {
		if p.ctx.Err() != nil {
			break
		}
		instrument := instrument
		g.Go(func() error {
			if err := p.pollInstrument(instrument); err != nil {
				p.logger.Warn("failed to poll instrument",
					"instrument", instrument,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}

	g.Wait()

	p.logger.Info("poll cycle complete",
		"instruments", len(p.cfg.Instruments),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollInstrument fetches technicals and sentiment together.
func (p *Poller) pollInstrument(instrument string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	var (
		tech *api.Technicals
		sent *api.Sentiment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tech, err = p.source.GetTechnicals(gctx, instrument, p.cfg.Timeframe)
		return err
	})
	g.Go(func() error {
		var err error
		sent, err = p.source.GetSentiment(gctx, instrument)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snapshot := Snapshot{
		Instrument: instrument,
		Technicals: tech,
		Sentiment:  sent,
		FetchedAt:  time.Now().UTC(),
	}

	p.mu.Lock()
	p.last[instrument] = snapshot
	p.mu.Unlock()

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(snapshot); err != nil {
			return fmt.Errorf("handle snapshot: %w", err)
		}
	}

	return nil
}
