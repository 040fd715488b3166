// Package pipeline routes raw exchange payloads into windows. It is the
// single mutation point of the data model: one Router, driven by one
// consumer goroutine, classifies every payload and applies it to exactly the
// windows it addresses.
package pipeline

import "sync/atomic"

// ContentType tags what kind of payload a queue message carries.
type ContentType int

const (
	// ContentHistory is a single 12-field historical kline addressed to one
	// (symbol, interval) window.
	ContentHistory ContentType = iota
	// ContentStream is a live 1m kline event addressed to every window of
	// its symbol.
	ContentStream
	// ContentHistoryDone marks a (symbol, interval) backfill as fully
	// enqueued; it opens the window's live gate.
	ContentHistoryDone
)

func (ct ContentType) String() string {
	switch ct {
	case ContentHistory:
		return "candle_history"
	case ContentStream:
		return "candle_stream"
	case ContentHistoryDone:
		return "history_done"
	default:
		return "unknown"
	}
}

// Counters is the process-scoped ingestion bookkeeping. It is created at
// startup, written by the consumer per processed item, and read by health
// reporting from other goroutines, hence the atomics.
type Counters struct {
	History     atomic.Uint64
	Stream      atomic.Uint64
	GateDropped atomic.Uint64
	Malformed   atomic.Uint64
}

// Snapshot returns the current counter values for health reporting.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"history_processed": c.History.Load(),
		"stream_processed":  c.Stream.Load(),
		"gate_dropped":      c.GateDropped.Load(),
		"malformed_dropped": c.Malformed.Load(),
	}
}
