package model

import "errors"

// Error taxonomy for the aggregation pipeline. Per-payload errors
// (ErrMalformedPayload) are logged and skipped by the consumer; the rest are
// structural and halt ingestion for the affected symbol, because the window
// state can no longer be trusted to be gap-free.
var (
	// ErrMalformedPayload marks a single raw update that cannot be parsed
	// into a Candle.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDataCorruption marks a historical candle whose boundaries do not
	// match the deterministic bucket sequence.
	ErrDataCorruption = errors.New("historical data corruption")

	// ErrDataLeakage marks a live update older than the tolerated one bucket
	// of lateness, or one that would skip a bucket entirely. Either means
	// the consumer lags or upstream reordered.
	ErrDataLeakage = errors.New("data leakage")

	// ErrRetroactiveWrite marks an attempt to rewrite a bucket the source
	// considers closed, such as a historical payload targeting the previous
	// timeframe.
	ErrRetroactiveWrite = errors.New("invalid retroactive write")

	// ErrConfiguration marks invalid configuration, surfaced at startup
	// before any producer or consumer runs.
	ErrConfiguration = errors.New("invalid configuration")
)
