package api

import (
	"time"

	"github.com/google/uuid"
)

// KeyLevels are the recent support and resistance prices.
type KeyLevels struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

// Indicators holds the moving averages and RSI. Each is nil when the
// backend had too little candle history to compute it.
type Indicators struct {
	SMA20 *float64 `json:"sma20"`
	SMA50 *float64 `json:"sma50"`
	RSI14 *float64 `json:"rsi14"`
}

// Technicals from GET /market/technicals/
//
// With fewer than 20 candles the backend returns only instrument,
// timeframe, an empty indicators object and a summary explaining why.
type Technicals struct {
	Instrument   string     `json:"instrument"`
	Timeframe    string     `json:"timeframe"`
	CurrentPrice *float64   `json:"current_price"`
	Trend        string     `json:"trend"`      // "bullish", "bearish", "neutral"
	Volatility   string     `json:"volatility"` // "low", "medium", "high"
	KeyLevels    *KeyLevels `json:"key_levels"`
	Indicators   Indicators `json:"indicators"`
	Summary      string     `json:"summary"`
	Source       string     `json:"source"`
}

// Complete reports whether the backend had enough history for a full analysis.
func (t *Technicals) Complete() bool {
	return t.CurrentPrice != nil
}

// Sentiment from GET /market/sentiment/
type Sentiment struct {
	Instrument string   `json:"instrument"`
	Sentiment  string   `json:"sentiment"` // "bullish", "bearish", "neutral"
	Score      float64  `json:"score"`     // -1 (bearish) .. 1 (bullish)
	KeyPoints  []string `json:"key_points"`
	Confidence *float64 `json:"confidence"` // 0..1, absent when no news was found
	Sources    []string `json:"sources"`    // news outlet names
}

// Percent maps Score onto a 0-100 gauge.
func (s Sentiment) Percent() float64 {
	p := (s.Score + 1) / 2 * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Insight from GET /market/insights/
type Insight struct {
	ID             uuid.UUID      `json:"id"`
	Instrument     string         `json:"instrument"`
	InsightType    string         `json:"insight_type"`
	Content        string         `json:"content"`
	SentimentScore *float64       `json:"sentiment_score"`
	Sources        map[string]any `json:"sources"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
