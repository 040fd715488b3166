package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bbot/internal/model"
	"bbot/internal/pipeline"
	"bbot/internal/window"
)

// Config holds coordinator settings.
type Config struct {
	// QueueSize is the ingestion queue capacity.
	QueueSize int

	// WindowLength is the number of timeframes to retain and backfill per
	// window.
	WindowLength int

	// PacingDelay is the pause between historical window downloads per
	// symbol, to respect upstream rate limits.
	PacingDelay time.Duration

	// HistoryRetries is how often a failed backfill download is retried
	// before the window is left gated and the symbol reported.
	HistoryRetries int
}

// Coordinator wires the producers, the queue, and the consumer together and
// owns their lifecycle.
type Coordinator struct {
	cfg      Config
	source   MarketSource
	registry *window.Registry
	router   *pipeline.Router
	logger   *slog.Logger

	queue chan Message
	errs  chan SymbolError
}

// NewCoordinator creates a coordinator. The registry must already hold the
// selected pairs.
func NewCoordinator(cfg Config, source MarketSource, reg *window.Registry, router *pipeline.Router, logger *slog.Logger) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}
	if cfg.HistoryRetries <= 0 {
		cfg.HistoryRetries = 3
	}
	return &Coordinator{
		cfg:      cfg,
		source:   source,
		registry: reg,
		router:   router,
		logger:   logger,
		queue:    make(chan Message, cfg.QueueSize),
		errs:     make(chan SymbolError, 64),
	}
}

// Errors exposes structural per-symbol failures. The channel is buffered;
// unread errors are dropped rather than blocking the consumer.
func (co *Coordinator) Errors() <-chan SymbolError {
	return co.errs
}

// Run starts one backfill producer and one stream producer per registered
// symbol plus the single consumer, and blocks until ctx is cancelled and all
// of them returned. Producers finish their in-flight network call on
// shutdown; the consumer stops at the next dequeue and discards anything
// still queued.
func (co *Coordinator) Run(ctx context.Context) error {
	symbols := co.registry.Symbols()
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols selected", model.ErrConfiguration)
	}

	co.logger.Info("starting feed coordinator",
		"symbols", len(symbols),
		"intervals", len(co.registry.Intervals()),
		"queue_size", co.cfg.QueueSize)

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(2)
		go func(s string) {
			defer wg.Done()
			co.historyProducer(ctx, s)
		}(symbol)
		go func(s string) {
			defer wg.Done()
			co.streamProducer(ctx, s)
		}(symbol)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		co.consume(ctx)
	}()

	wg.Wait()
	co.logger.Info("feed coordinator stopped")
	return nil
}

// Snapshot returns a deep copy of the (symbol, interval) window, oldest
// first. The request travels through the queue and is answered by the
// consumer, so it serializes with all mutation.
func (co *Coordinator) Snapshot(ctx context.Context, symbol string, iv model.Interval) ([]window.TimeFrame, error) {
	req := &snapshotRequest{
		symbol:   symbol,
		interval: iv,
		reply:    make(chan snapshotReply, 1),
	}
	select {
	case co.queue <- Message{snapshot: req}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.frames, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// historyProducer downloads the backfill for every non-derived interval of
// one symbol and enqueues it oldest-first, followed by the gate-opening
// marker. A pacing delay separates the per-interval downloads.
func (co *Coordinator) historyProducer(ctx context.Context, symbol string) {
	for _, iv := range co.registry.Intervals() {
		if iv == model.Second2 {
			// Derived interval: no sub-minute history exists upstream.
			continue
		}

		klines, err := co.downloadWindow(ctx, symbol, iv)
		if err != nil {
			if ctx.Err() == nil {
				co.logger.Error("backfill failed, window stays gated",
					"symbol", symbol, "interval", iv.String(), "error", err)
				co.report(symbol, fmt.Errorf("backfill %s: %w", iv, err))
			}
			return
		}

		for _, k := range klines {
			if !co.enqueue(ctx, Message{Symbol: symbol, Interval: iv, Content: pipeline.ContentHistory, Payload: k}) {
				return
			}
		}
		if !co.enqueue(ctx, Message{Symbol: symbol, Interval: iv, Content: pipeline.ContentHistoryDone}) {
			return
		}

		co.logger.Info("backfill enqueued", "symbol", symbol, "interval", iv.String(), "candles", len(klines))

		select {
		case <-time.After(co.cfg.PacingDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (co *Coordinator) downloadWindow(ctx context.Context, symbol string, iv model.Interval) ([]model.RESTKline, error) {
	var lastErr error
	for attempt := 1; attempt <= co.cfg.HistoryRetries; attempt++ {
		klines, err := co.source.History(ctx, symbol, iv, co.cfg.WindowLength)
		if err == nil {
			return klines, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		co.logger.Warn("history download failed, retrying",
			"symbol", symbol, "interval", iv.String(), "attempt", attempt, "error", err)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// streamProducer runs the live kline stream for one symbol, enqueueing every
// event with the wildcard interval so the router fans it out.
func (co *Coordinator) streamProducer(ctx context.Context, symbol string) {
	err := co.source.StreamKlines(ctx, symbol, func(ev model.StreamKline) {
		co.enqueue(ctx, Message{Symbol: symbol, Interval: model.IntervalWildcard, Content: pipeline.ContentStream, Payload: ev})
	})
	if err != nil && ctx.Err() == nil {
		co.logger.Error("kline stream terminated", "symbol", symbol, "error", err)
		co.report(symbol, fmt.Errorf("stream: %w", err))
	}
}

func (co *Coordinator) enqueue(ctx context.Context, msg Message) bool {
	select {
	case co.queue <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// consume drains the queue strictly in FIFO order. Per-payload errors are
// logged and skipped; structural errors halt the affected symbol only.
func (co *Coordinator) consume(ctx context.Context) {
	counters := co.router.Counters()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-co.queue:
			if msg.snapshot != nil {
				co.serveSnapshot(msg.snapshot)
				continue
			}

			pair, err := co.registry.Pair(msg.Symbol)
			if err != nil {
				counters.Malformed.Add(1)
				co.logger.Warn("dropping payload for unknown symbol", "symbol", msg.Symbol)
				continue
			}
			if pair.Halted {
				continue
			}

			err = co.router.Process(msg.Symbol, msg.Interval, msg.Content, msg.Payload)
			switch {
			case err == nil:
			case errors.Is(err, model.ErrMalformedPayload):
				counters.Malformed.Add(1)
				co.logger.Warn("dropping malformed payload",
					"symbol", msg.Symbol, "content", msg.Content.String(), "error", err)
			default:
				pair.Halted = true
				co.logger.Error("structural error, halting symbol",
					"symbol", msg.Symbol, "content", msg.Content.String(), "error", err)
				co.report(msg.Symbol, err)
			}
		}
	}
}

func (co *Coordinator) serveSnapshot(req *snapshotRequest) {
	w, err := co.registry.Window(req.symbol, req.interval)
	if err != nil {
		req.reply <- snapshotReply{err: err}
		return
	}
	req.reply <- snapshotReply{frames: w.Snapshot()}
}

func (co *Coordinator) report(symbol string, err error) {
	select {
	case co.errs <- SymbolError{Symbol: symbol, Err: err}:
	default:
	}
}
