// Package realtime implements the dashboard's push channel client.
//
// The Client:
//   - Owns at most one WebSocket transport at a time
//   - Broadcasts parsed inbound messages and status transitions to subscribers
//   - Re-establishes lost connections with exponential backoff (1s, 2s, 4s, 8s, 16s)
//   - Keeps idle connections alive with periodic pings
//   - Absorbs every failure; callers only observe status transitions
//
// All state lives on a single run-loop goroutine. Subscriber callbacks run on
// a separate dispatch goroutine, in the order events were produced, so a
// callback may call back into the Client.
package realtime
