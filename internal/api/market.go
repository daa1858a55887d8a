package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// GetTechnicals fetches indicator values for an instrument.
func (c *Client) GetTechnicals(ctx context.Context, instrument, timeframe string) (*Technicals, error) {
	if instrument == "" {
		return nil, errors.New("instrument is required")
	}

	query := url.Values{}
	query.Set("instrument", instrument)
	if timeframe != "" {
		query.Set("timeframe", timeframe)
	}

	var resp Technicals
	if err := c.get(ctx, "/market/technicals/", query, &resp); err != nil {
		return nil, fmt.Errorf("get technicals %s: %w", instrument, err)
	}
	if resp.Instrument == "" {
		resp.Instrument = instrument
	}
	return &resp, nil
}

// GetSentiment fetches the aggregate sentiment score for an instrument.
func (c *Client) GetSentiment(ctx context.Context, instrument string) (*Sentiment, error) {
	if instrument == "" {
		return nil, errors.New("instrument is required")
	}

	query := url.Values{}
	query.Set("instrument", instrument)

	var resp Sentiment
	if err := c.get(ctx, "/market/sentiment/", query, &resp); err != nil {
		return nil, fmt.Errorf("get sentiment %s: %w", instrument, err)
	}
	if resp.Instrument == "" {
		resp.Instrument = instrument
	}
	return &resp, nil
}

// ListInsights fetches AI-generated insights, optionally filtered by instrument.
func (c *Client) ListInsights(ctx context.Context, instrument string) ([]Insight, error) {
	var query url.Values
	if instrument != "" {
		query = url.Values{}
		query.Set("instrument", instrument)
	}

	var resp []Insight
	if err := c.get(ctx, "/market/insights/", query, &resp); err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return resp, nil
}
