package api

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

const technicalsBody = `{
  "instrument": "EUR/USD",
  "timeframe": "1h",
  "current_price": 1.08421,
  "trend": "bullish",
  "volatility": "low",
  "key_levels": {"support": 1.0791, "resistance": 1.0866},
  "indicators": {"sma20": 1.08213, "sma50": 1.07988, "rsi14": 61.47},
  "summary": "EUR/USD on 1h: trend is bullish with RSI14 at 61.5. Nearest support/resistance from recent candles: 1.0791 / 1.0866. Observed volatility is low.",
  "source": "deriv"
}`

const sentimentBody = `{
  "sentiment": "bullish",
  "score": 0.5,
  "key_points": ["ECB holds rates", "Dollar softens after CPI"],
  "confidence": 0.7,
  "instrument": "BTC/USD",
  "sources": ["Reuters", "Bloomberg", "Finnhub"]
}`

func TestGetTechnicals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/market/technicals/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("instrument") != "EUR/USD" || r.URL.Query().Get("timeframe") != "1h" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(technicalsBody))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api", "", WithLogger(discardLogger))
	tech, err := c.GetTechnicals(context.Background(), "EUR/USD", "1h")
	if err != nil {
		t.Fatalf("GetTechnicals failed: %v", err)
	}
	if !tech.Complete() || *tech.CurrentPrice != 1.08421 {
		t.Errorf("CurrentPrice = %v, want 1.08421", tech.CurrentPrice)
	}
	if tech.Trend != "bullish" || tech.Volatility != "low" {
		t.Errorf("Trend, Volatility = %q, %q", tech.Trend, tech.Volatility)
	}
	if tech.KeyLevels == nil || tech.KeyLevels.Support != 1.0791 || tech.KeyLevels.Resistance != 1.0866 {
		t.Errorf("KeyLevels = %+v", tech.KeyLevels)
	}
	if tech.Indicators.RSI14 == nil || *tech.Indicators.RSI14 != 61.47 {
		t.Errorf("RSI14 = %v, want 61.47", tech.Indicators.RSI14)
	}
	if tech.Indicators.SMA50 == nil || *tech.Indicators.SMA50 != 1.07988 {
		t.Errorf("SMA50 = %v, want 1.07988", tech.Indicators.SMA50)
	}

	if _, err := c.GetTechnicals(context.Background(), "", "1h"); err == nil {
		t.Error("GetTechnicals without instrument should fail")
	}
}

func TestGetTechnicals_ShortHistory(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "insufficient candles",
			body: `{"instrument":"V75","timeframe":"1d","indicators":{},"summary":"Insufficient candle history for technical analysis.","source":"deriv"}`,
		},
		{
			name: "sma50 unavailable",
			body: `{"instrument":"V75","timeframe":"1d","current_price":812.4,"trend":"neutral","volatility":"high","key_levels":{"support":790.1,"resistance":830.9},"indicators":{"sma20":805.2,"sma50":null,"rsi14":48.1},"summary":"","source":"deriv"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tech, err := NewClient(server.URL, "", WithLogger(discardLogger)).GetTechnicals(context.Background(), "V75", "1d")
			if err != nil {
				t.Fatalf("GetTechnicals failed: %v", err)
			}
			if tech.Indicators.SMA50 != nil {
				t.Errorf("SMA50 = %v, want nil", *tech.Indicators.SMA50)
			}
			if tt.name == "insufficient candles" {
				if tech.Complete() || tech.KeyLevels != nil || tech.Indicators.RSI14 != nil {
					t.Errorf("short-history response decoded as complete: %+v", tech)
				}
				if tech.Summary == "" {
					t.Error("Summary should explain the missing analysis")
				}
			}
		})
	}
}

func TestGetSentiment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/market/sentiment/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(sentimentBody))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithLogger(discardLogger))
	s, err := c.GetSentiment(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("GetSentiment failed: %v", err)
	}
	if s.Sentiment != "bullish" || s.Percent() != 75 {
		t.Errorf("Sentiment, Percent() = %q, %v, want bullish, 75", s.Sentiment, s.Percent())
	}
	if len(s.KeyPoints) != 2 || len(s.Sources) != 3 || s.Sources[0] != "Reuters" {
		t.Errorf("KeyPoints, Sources = %v, %v", s.KeyPoints, s.Sources)
	}
	if s.Confidence == nil || *s.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", s.Confidence)
	}
}

func TestGetSentiment_NoNews(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sentiment":"neutral","score":0.0,"sources":[]}`))
	}))
	defer server.Close()

	s, err := NewClient(server.URL, "", WithLogger(discardLogger)).GetSentiment(context.Background(), "GOLD")
	if err != nil {
		t.Fatalf("GetSentiment failed: %v", err)
	}
	if s.Instrument != "GOLD" {
		t.Errorf("Instrument = %q, want request instrument", s.Instrument)
	}
	if s.Confidence != nil || s.Percent() != 50 {
		t.Errorf("Confidence, Percent() = %v, %v, want nil, 50", s.Confidence, s.Percent())
	}
}

func TestSentimentPercent(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{-1, 0},
		{0, 50},
		{1, 100},
		{-3, 0},
		{2, 100},
	}
	for _, tt := range tests {
		if got := (Sentiment{Score: tt.score}).Percent(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percent(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestListInsights(t *testing.T) {
	id := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"id":"` + id.String() + `","instrument":"EUR/USD","insight_type":"daily","content":"Range-bound.","sentiment_score":null,"sources":{},"generated_at":"2026-03-02T14:30:00Z"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithLogger(discardLogger))
	insights, err := c.ListInsights(context.Background(), "")
	if err != nil {
		t.Fatalf("ListInsights failed: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("len(insights) = %d, want 1", len(insights))
	}
	if insights[0].ID != id {
		t.Errorf("ID = %v, want %v", insights[0].ID, id)
	}
	if insights[0].SentimentScore != nil {
		t.Errorf("SentimentScore = %v, want nil", *insights[0].SentimentScore)
	}
	if insights[0].GeneratedAt.IsZero() {
		t.Error("GeneratedAt not parsed")
	}
}
