// Package recorder persists realtime feed events and polled metrics to
// PostgreSQL.
//
// Producers enqueue rows without blocking; a consumer goroutine batches
// them and flushes through pgx.Batch when BatchSize rows accumulate or
// FlushInterval elapses. Tables are append-only:
//   - feed_events: every inbound realtime message, raw JSON payload
//   - metric_snapshots: one row per instrument per poll cycle
package recorder
