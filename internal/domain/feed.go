package domain

import "context"

// ChainDataFeed is the inbound stream contract owned by the external node
// connectivity layer. The core only consumes the two channels; reconnection,
// failover and RPC timeouts live behind this interface. Per-channel ordering
// is guaranteed by the feed; cross-channel ordering is not and must not be
// assumed.
type ChainDataFeed interface {
	// Blocks delivers one diff per confirmed block, including reorg
	// replacement diffs.
	Blocks() <-chan BlockDiff
	// Pending delivers mempool observations.
	Pending() <-chan PendingTransaction
	// Healthy reports whether the feed's upstream connection is alive. A
	// permanently unhealthy feed is fatal to the pipeline.
	Healthy() bool
}

// Dispatcher is the outbound contract: an external executor pulls queued
// opportunities and reports back how each resolved so the queue can release
// the per-key in-flight lock.
type Dispatcher interface {
	Consume(ctx context.Context) (Opportunity, error)
	Resolve(key string, outcome ResolveOutcome) error
}
