package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tradeiq/dashfeed/internal/api"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// metricsServer serves canned technicals and sentiment for any instrument.
func metricsServer(t *testing.T, delay time.Duration, inFlight, maxInFlight *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inFlight != nil {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if current <= old || maxInFlight.CompareAndSwap(old, current) {
					break
				}
			}
		}
		time.Sleep(delay)

		instrument := r.URL.Query().Get("instrument")
		switch r.URL.Path {
		case "/market/technicals/":
			w.Write([]byte(`{"instrument":"` + instrument + `","timeframe":"1h","current_price":1.5,"trend":"neutral","volatility":"low",` +
				`"key_levels":{"support":1.4,"resistance":1.6},"indicators":{"sma20":1.49,"sma50":null,"rsi14":55},"summary":"","source":"deriv"}`))
		case "/market/sentiment/":
			w.Write([]byte(`{"instrument":"` + instrument + `","sentiment":"neutral","score":0.2,"key_points":[],"confidence":0.4,"sources":["Reuters"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPoller_PollAll(t *testing.T) {
	server := metricsServer(t, 0, nil, nil)
	client := api.NewClient(server.URL, "", api.WithLogger(discardLogger))

	var mu sync.Mutex
	got := map[string]Snapshot{}
	handler := HandlerFunc(func(s Snapshot) error {
		mu.Lock()
		got[s.Instrument] = s
		mu.Unlock()
		return nil
	})

	cfg := Config{
		Instruments: []string{"EURUSD", "BTCUSD", "XAUUSD"},
		Interval:    time.Hour,
		Concurrency: 2,
		Timeout:     5 * time.Second,
	}
	p := New(cfg, client, handler, discardLogger)
	p.pollAll()

	if len(got) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(got))
	}
	s := got["BTCUSD"]
	if s.Technicals == nil || s.Technicals.Indicators.RSI14 == nil || *s.Technicals.Indicators.RSI14 != 55 {
		t.Errorf("Technicals = %+v", s.Technicals)
	}
	if s.Sentiment == nil || s.Sentiment.Score != 0.2 {
		t.Errorf("Sentiment = %+v", s.Sentiment)
	}
	if last, ok := p.Last("EURUSD"); !ok || last.Instrument != "EURUSD" {
		t.Errorf("Last(EURUSD) = %+v, %v", last, ok)
	}
	if len(p.All()) != 3 {
		t.Errorf("All() = %d entries, want 3", len(p.All()))
	}
}

// stubSource fails sentiment for one instrument.
type stubSource struct {
	failFor string
}

func (s *stubSource) GetTechnicals(ctx context.Context, instrument, timeframe string) (*api.Technicals, error) {
	return &api.Technicals{Instrument: instrument, Timeframe: timeframe}, nil
}

func (s *stubSource) GetSentiment(ctx context.Context, instrument string) (*api.Sentiment, error) {
	if instrument == s.failFor {
		return nil, errors.New("sentiment unavailable")
	}
	return &api.Sentiment{Instrument: instrument}, nil
}

func TestPoller_PartialFailureSkipsInstrument(t *testing.T) {
	var calls atomic.Int32
	handler := HandlerFunc(func(s Snapshot) error {
		calls.Add(1)
		return nil
	})

	p := New(Config{Instruments: []string{"EURUSD", "BTCUSD"}}, &stubSource{failFor: "BTCUSD"}, handler, discardLogger)
	p.pollAll()

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if _, ok := p.Last("BTCUSD"); ok {
		t.Error("failed instrument should have no snapshot")
	}
	last, ok := p.Last("EURUSD")
	if !ok {
		t.Fatal("EURUSD snapshot missing")
	}
	if last.Technicals.Timeframe != "1h" {
		t.Errorf("Timeframe = %q, want default 1h", last.Technicals.Timeframe)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var called atomic.Bool
	handler := HandlerFunc(func(s Snapshot) error {
		called.Store(true)
		return nil
	})

	cfg := Config{
		Instruments: []string{"EURUSD"},
		Interval:    100 * time.Millisecond,
	}
	p := New(cfg, &stubSource{}, handler, discardLogger)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first poll runs immediately.
	deadline := time.Now().Add(2 * time.Second)
	for !called.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !called.Load() {
		t.Error("handler was never called")
	}
}

func TestPoller_Concurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := metricsServer(t, 30*time.Millisecond, &inFlight, &maxInFlight)
	client := api.NewClient(server.URL, "", api.WithLogger(discardLogger))

	var instruments []string
	for i := 0; i < 12; i++ {
		instruments = append(instruments, "INST-"+string(rune('A'+i)))
	}

	cfg := Config{
		Instruments: instruments,
		Interval:    time.Hour,
		Concurrency: 3,
		Timeout:     5 * time.Second,
	}
	p := New(cfg, client, nil, discardLogger)
	p.pollAll()

	// Two requests per instrument in flight.
	if got := maxInFlight.Load(); got > 6 {
		t.Errorf("maxInFlight = %d, want <= 6", got)
	}
	if len(p.All()) != 12 {
		t.Errorf("All() = %d entries, want 12", len(p.All()))
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, &stubSource{}, nil, nil)
	def := DefaultConfig()
	if p.cfg.Interval != def.Interval || p.cfg.Concurrency != def.Concurrency || p.cfg.Timeout != def.Timeout {
		t.Errorf("cfg = %+v, want defaults %+v", p.cfg, def)
	}
	if p.logger == nil {
		t.Error("logger should not be nil")
	}
}
