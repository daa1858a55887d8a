// Package status serves the health and status HTTP endpoints.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradeiq/dashfeed/internal/api"
	"github.com/tradeiq/dashfeed/internal/poller"
	"github.com/tradeiq/dashfeed/internal/realtime"
	"github.com/tradeiq/dashfeed/internal/recorder"
	"github.com/tradeiq/dashfeed/internal/version"
)

// Feed is the realtime client surface the server reports on.
type Feed interface {
	Status() realtime.Status
	Target() string
	SendChat(msg realtime.ChatMessage)
}

// Metrics exposes the poller's latest snapshots.
type Metrics interface {
	Last(instrument string) (poller.Snapshot, bool)
	All() map[string]poller.Snapshot
}

// Recorder exposes recorder counters.
type Recorder interface {
	Stats() recorder.Stats
}

// Server holds the dependencies behind the HTTP routes. Metrics and
// Recorder may be nil.
type Server struct {
	feed     Feed
	metrics  Metrics
	recorder Recorder
	logger   *slog.Logger
	started  time.Time
}

// New creates a Server.
func New(feed Feed, metrics Metrics, rec Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		feed:     feed,
		metrics:  metrics,
		recorder: rec,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes returns the HTTP routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)
	// Instruments such as EUR/USD contain a slash.
	r.Get("/instruments/*", s.HandleInstrument)
	r.Post("/chat", s.HandleChat)
	return r
}

// HandleHealth reports healthy while the feed is connected, degraded while
// it is connecting or idle, and unhealthy after an error.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.feed.Status()

	health := struct {
		Status   string `json:"status"`
		Realtime string `json:"realtime"`
	}{
		Realtime: st.String(),
	}

	code := http.StatusOK
	switch st {
	case realtime.StatusConnected:
		health.Status = "healthy"
	case realtime.StatusError:
		health.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	default:
		health.Status = "degraded"
	}

	writeJSON(w, code, health)
}

type statusResponse struct {
	Version     version.Info               `json:"version"`
	Uptime      string                     `json:"uptime"`
	Realtime    realtimeStatus             `json:"realtime"`
	Instruments map[string]instrumentState `json:"instruments,omitempty"`
	Recorder    *recorder.Stats            `json:"recorder,omitempty"`
}

type realtimeStatus struct {
	Status string `json:"status"`
	Target string `json:"target"`
}

type instrumentState struct {
	Price            *float64  `json:"price"`
	Trend            string    `json:"trend"`
	Volatility       string    `json:"volatility"`
	Sentiment        string    `json:"sentiment"`
	SentimentScore   float64   `json:"sentiment_score"`
	SentimentPercent float64   `json:"sentiment_percent"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// HandleStatus reports the feed, the latest metrics and recorder counters.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: version.Get(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Realtime: realtimeStatus{
			Status: s.feed.Status().String(),
			Target: s.feed.Target(),
		},
	}

	if s.metrics != nil {
		all := s.metrics.All()
		resp.Instruments = make(map[string]instrumentState, len(all))
		for name, snap := range all {
			resp.Instruments[name] = toInstrumentState(snap)
		}
	}

	if s.recorder != nil {
		stats := s.recorder.Stats()
		resp.Recorder = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleInstrument returns the latest snapshot for one instrument. The
// name is matched case-insensitively.
func (s *Server) HandleInstrument(w http.ResponseWriter, r *http.Request) {
	instrument := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(instrument); err == nil {
		instrument = unescaped
	}

	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics polling is disabled")
		return
	}

	snap, ok := s.lookup(instrument)
	if !ok || snap.Technicals == nil || snap.Sentiment == nil {
		writeError(w, http.StatusNotFound, "no snapshot for "+instrument)
		return
	}

	tech, sent := snap.Technicals, snap.Sentiment
	resp := struct {
		Instrument string         `json:"instrument"`
		Timeframe  string         `json:"timeframe"`
		KeyLevels  *api.KeyLevels `json:"key_levels"`
		Indicators api.Indicators `json:"indicators"`
		Summary    string         `json:"summary"`
		KeyPoints  []string       `json:"key_points"`
		Confidence *float64       `json:"confidence"`
		Sources    []string       `json:"sources"`
		instrumentState
	}{
		Instrument:      snap.Instrument,
		Timeframe:       tech.Timeframe,
		KeyLevels:       tech.KeyLevels,
		Indicators:      tech.Indicators,
		Summary:         tech.Summary,
		KeyPoints:       sent.KeyPoints,
		Confidence:      sent.Confidence,
		Sources:         sent.Sources,
		instrumentState: toInstrumentState(snap),
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookup finds a snapshot by exact name, then by case-insensitive match.
func (s *Server) lookup(instrument string) (poller.Snapshot, bool) {
	if snap, ok := s.metrics.Last(instrument); ok {
		return snap, true
	}
	for name, snap := range s.metrics.All() {
		if strings.EqualFold(name, instrument) {
			return snap, true
		}
	}
	return poller.Snapshot{}, false
}

// HandleChat forwards a chat message over the realtime feed.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		AgentType string `json:"agent_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Sends while disconnected are dropped by the client, so refuse them here.
	if st := s.feed.Status(); st != realtime.StatusConnected {
		writeError(w, http.StatusConflict, "realtime feed is "+st.String())
		return
	}

	msg := realtime.NewChatMessage(req.Message)
	msg.AgentType = req.AgentType
	s.feed.SendChat(msg)

	s.logger.Debug("chat forwarded", "agent_type", req.AgentType, "length", len(req.Message))
	w.WriteHeader(http.StatusAccepted)
}

func toInstrumentState(snap poller.Snapshot) instrumentState {
	st := instrumentState{FetchedAt: snap.FetchedAt}
	if snap.Technicals != nil {
		st.Price = snap.Technicals.CurrentPrice
		st.Trend = snap.Technicals.Trend
		st.Volatility = snap.Technicals.Volatility
	}
	if snap.Sentiment != nil {
		st.Sentiment = snap.Sentiment.Sentiment
		st.SentimentScore = snap.Sentiment.Score
		st.SentimentPercent = snap.Sentiment.Percent()
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
