// Package feed is the concurrency core of the engine: one historical
// backfill producer and one live stream producer per symbol, all funneling
// into a single FIFO queue drained by a single consumer that owns every
// window. The queue is the only shared mutable structure; everything
// downstream of it needs no locks.
package feed

import (
	"context"

	"bbot/internal/model"
	"bbot/internal/pipeline"
	"bbot/internal/window"
)

// SymbolPrice is one entry of the exchange's all-symbols listing.
type SymbolPrice struct {
	Symbol string
	Price  string
}

// MarketSource is the narrow contract the producers need from the exchange
// transport. Implementations suspend on network I/O and must honor ctx.
type MarketSource interface {
	// AllSymbols lists every symbol traded on the exchange with its last
	// price.
	AllSymbols(ctx context.Context) ([]SymbolPrice, error)

	// History returns up to limit klines for (symbol, interval), oldest
	// first, as 12-field numeric arrays.
	History(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.RESTKline, error)

	// StreamKlines delivers live 1m kline events for symbol to handle until
	// ctx is cancelled. Reconnects are the implementation's concern; the
	// call only returns on cancellation or a terminal error.
	StreamKlines(ctx context.Context, symbol string, handle func(model.StreamKline)) error
}

// Message is one unit of work on the ingestion queue: a payload tuple, or a
// read-only snapshot request served on the consumer goroutine so registry
// reads never race window mutation.
type Message struct {
	Symbol   string
	Interval model.Interval
	Content  pipeline.ContentType
	Payload  any

	snapshot *snapshotRequest
}

type snapshotRequest struct {
	symbol   string
	interval model.Interval
	reply    chan snapshotReply
}

type snapshotReply struct {
	frames []window.TimeFrame
	err    error
}

// SymbolError reports a structural failure that halted ingestion for one
// symbol. The window state behind it can no longer be trusted to be
// gap-free, so it is surfaced to the operator instead of retried.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e SymbolError) Error() string {
	return "symbol " + e.Symbol + " halted: " + e.Err.Error()
}

func (e SymbolError) Unwrap() error {
	return e.Err
}
