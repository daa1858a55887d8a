// Package poller periodically fetches market metrics over REST.
//
// Each cycle fetches technicals and sentiment for every configured
// instrument, bounded by Config.Concurrency. The two requests for one
// instrument run together; if either fails the instrument is skipped
// until the next cycle.
package poller
