// Package api provides the REST client for the dashboard's periodic metrics.
//
// Endpoints (relative to the configured base, e.g. http://localhost:8000/api):
//   - GET /market/technicals/?instrument=EURUSD&timeframe=1h
//   - GET /market/sentiment/?instrument=EURUSD
//   - GET /market/insights/?instrument=EURUSD
//
// Push updates travel over the realtime package instead.
package api
