package pipeline

import (
	"fmt"

	"bbot/internal/model"
	"bbot/internal/window"
)

// Router classifies incoming payloads and applies them to the windows they
// address. Historical payloads touch exactly one window; a live 1m update
// fans out across every window of its symbol, because the exchange streams
// only one resolution and all others are derived.
//
// Router methods must only be called from the single queue consumer: window
// mutation reads then writes the last timeframe, and two interleaved writers
// could both observe CURRENT and double-apply.
type Router struct {
	registry *window.Registry
	counters *Counters

	// onClosed, when set, receives every candle that a NEXT transition just
	// superseded, along with its symbol and interval. Used to publish closed
	// candles downstream.
	onClosed func(symbol string, iv model.Interval, tf window.TimeFrame)
}

// NewRouter creates a router over the registry. counters must not be nil.
func NewRouter(reg *window.Registry, counters *Counters) *Router {
	return &Router{registry: reg, counters: counters}
}

// OnClosedCandle installs the closed-candle hook. Must be set before the
// consumer starts.
func (r *Router) OnClosedCandle(fn func(symbol string, iv model.Interval, tf window.TimeFrame)) {
	r.onClosed = fn
}

// Counters exposes the processed-item bookkeeping.
func (r *Router) Counters() *Counters {
	return r.counters
}

// Process applies one payload. Malformed-payload errors are local to the
// payload and safe to log and skip; any other error poisons the symbol's
// window state and must halt ingestion for that symbol.
func (r *Router) Process(symbol string, iv model.Interval, ct ContentType, payload any) error {
	pair, err := r.registry.Pair(symbol)
	if err != nil {
		return err
	}

	switch ct {
	case ContentHistory:
		if err := r.processHistory(pair, iv, payload); err != nil {
			return err
		}
		r.counters.History.Add(1)
		return nil

	case ContentStream:
		if err := r.processStream(pair, payload); err != nil {
			return err
		}
		r.counters.Stream.Add(1)
		return nil

	case ContentHistoryDone:
		w, ok := pair.Windows[iv]
		if !ok {
			return fmt.Errorf("%w: history-done for unknown window %s %s", model.ErrMalformedPayload, symbol, iv)
		}
		w.HistoryDownloaded = true
		return nil

	default:
		return fmt.Errorf("%w: unknown content type %d", model.ErrMalformedPayload, ct)
	}
}

// processHistory inserts one backfilled kline into its window. Historical
// data must arrive oldest-first and strictly contiguous; it never updates an
// existing bucket.
func (r *Router) processHistory(pair *window.Pair, iv model.Interval, payload any) error {
	raw, ok := payload.(model.RESTKline)
	if !ok {
		return fmt.Errorf("%w: history payload has type %T", model.ErrMalformedPayload, payload)
	}

	candle, err := model.ParseRESTKline(raw)
	if err != nil {
		return err
	}

	span, err := model.IntervalFromSpan(candle.OpenTime, candle.CloseTime)
	if err != nil {
		// Backfill boundaries are load-bearing: a span matching no interval
		// is corruption, not a droppable payload.
		return fmt.Errorf("%w: kline spans no known interval [%d, %d]",
			model.ErrDataCorruption, candle.OpenTime, candle.CloseTime)
	}
	if span != iv {
		return fmt.Errorf("%w: kline spans %s, window is %s", model.ErrDataCorruption, span, iv)
	}

	w, ok := pair.Windows[iv]
	if !ok {
		return fmt.Errorf("%w: symbol %s has no %s window", model.ErrMalformedPayload, pair.Symbol, iv)
	}

	pos, err := w.Classify(candle.CloseTime)
	if err != nil {
		return err
	}

	switch pos {
	case window.PositionFirst:
		tf := window.NewTimeFrame(candle.OpenTime, candle.CloseTime)
		tf.Candle = &candle
		w.Append(tf)
		return nil

	case window.PositionNext:
		tf := w.Last().Next()
		if tf.OpenTime != candle.OpenTime || tf.CloseTime != candle.CloseTime {
			return fmt.Errorf("%w: expected bucket [%d, %d], kline has [%d, %d]",
				model.ErrDataCorruption, tf.OpenTime, tf.CloseTime, candle.OpenTime, candle.CloseTime)
		}
		tf.Candle = &candle
		r.roll(pair.Symbol, w, tf)
		return nil

	default:
		return fmt.Errorf("%w: historical kline classified as %s", model.ErrRetroactiveWrite, pos)
	}
}

// processStream fans one live 1m update out across every window of the
// symbol. Windows whose backfill has not drained yet are skipped so a live
// transition cannot race ahead of the backfill on the same window.
func (r *Router) processStream(pair *window.Pair, payload any) error {
	ev, ok := payload.(model.StreamKline)
	if !ok {
		return fmt.Errorf("%w: stream payload has type %T", model.ErrMalformedPayload, payload)
	}

	update, closed, err := model.ParseStreamKline(ev)
	if err != nil {
		return err
	}

	// The first live update after the gate opens has no previous stream
	// sample, but the backfill may already hold the same in-progress minute;
	// raw-adding the update's cumulative volumes on top of it would count
	// the overlap twice. The backfilled base candle for that minute stands
	// in as the previous cumulative sample.
	var seed *model.Candle
	if base, ok := pair.Windows[model.Minute1]; ok && base.LastUpdate == nil {
		if last := base.Last(); last != nil && last.Candle != nil && last.OpenTime == update.OpenTime {
			c := *last.Candle
			seed = &c
		}
	}

	for _, iv := range r.registry.Intervals() {
		w, ok := pair.Windows[iv]
		if !ok {
			continue
		}
		if !w.HistoryDownloaded {
			r.counters.GateDropped.Add(1)
			continue
		}

		if iv == model.Second2 {
			err = r.applyDerived(pair.Symbol, w, update, closed, ev.EventTime)
		} else {
			err = r.applyStream(pair.Symbol, w, update, closed, seed)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyStream applies a 1m update to the base window or a coarser one. The
// update's close time always falls inside (or exactly at the end of) the
// bucket it belongs to, because coarse buckets are whole multiples of the
// base interval.
func (r *Router) applyStream(symbol string, w *window.Window, update model.Candle, closed bool, seed *model.Candle) error {
	pos, err := w.Classify(update.CloseTime)
	if err != nil {
		return err
	}

	switch pos {
	case window.PositionFirst:
		tf := alignedFrame(w.Interval, update.OpenTime)
		tf.Candle = stamped(update, tf)
		w.Append(tf)

	case window.PositionNext:
		tf := w.Last().Next()
		tf.Candle = stamped(update, tf)
		r.roll(symbol, w, tf)

	case window.PositionCurrent:
		mergeInto(w.Last(), w, update, seed)

	case window.PositionPrevious:
		mergeInto(w.Previous(), w, update, seed)
	}

	last := update
	w.LastUpdate = &last
	w.LastUpdateClosed = closed
	return nil
}

// applyDerived synthesizes the sub-minute candle from two consecutive 1m
// samples. The very first sample only seeds the window's last-update slot;
// no bucket can be derived from a single tick.
func (r *Router) applyDerived(symbol string, w *window.Window, update model.Candle, closed bool, eventTime int64) error {
	if w.LastUpdate == nil {
		last := update
		w.LastUpdate = &last
		w.LastUpdateClosed = closed
		return nil
	}

	pos, err := w.Classify(eventTime)
	if err != nil {
		return err
	}

	derived := model.DeriveSubMinute(update, *w.LastUpdate, w.LastUpdateClosed)

	switch pos {
	case window.PositionFirst:
		open := eventTime - w.Interval.Millis() + 1
		tf := window.NewTimeFrame(open, eventTime)
		tf.Candle = stamped(derived, tf)
		w.Append(tf)

	case window.PositionNext:
		tf := w.Last().Next()
		tf.Candle = stamped(derived, tf)
		r.roll(symbol, w, tf)

	case window.PositionCurrent:
		accumulateInto(w.Last(), derived)

	case window.PositionPrevious:
		accumulateInto(w.Previous(), derived)
	}

	last := update
	w.LastUpdate = &last
	w.LastUpdateClosed = closed
	return nil
}

// roll appends the new timeframe and reports the candle it supersedes.
func (r *Router) roll(symbol string, w *window.Window, tf *window.TimeFrame) {
	prev := w.Last()
	w.Append(tf)
	if r.onClosed != nil && prev != nil && prev.Candle != nil {
		r.onClosed(symbol, w.Interval, window.TimeFrame{
			OpenTime:  prev.OpenTime,
			CloseTime: prev.CloseTime,
			Candle:    prev.Candle,
		})
	}
}

// mergeInto merges a cumulative 1m update into a bucket's candle, seeding
// the bucket when it is still empty. When no stream sample has been seen yet
// the backfilled base candle (seed) is the previous cumulative sample;
// without either, history covered everything before this minute and the
// update's raw values are the increment.
func mergeInto(tf *window.TimeFrame, w *window.Window, update model.Candle, seed *model.Candle) {
	if tf == nil {
		return
	}
	if tf.Candle == nil {
		tf.Candle = stamped(update, tf)
		return
	}
	var prev model.Candle
	prevClosed := true
	switch {
	case w.LastUpdate != nil:
		prev = *w.LastUpdate
		prevClosed = w.LastUpdateClosed
	case seed != nil:
		prev = *seed
		prevClosed = false
	}
	merged := model.Merge(*tf.Candle, update, prev, prevClosed)
	merged.OpenTime = tf.OpenTime
	merged.CloseTime = tf.CloseTime
	tf.Candle = &merged
}

// accumulateInto adds an already-incremental derived candle to a bucket.
func accumulateInto(tf *window.TimeFrame, derived model.Candle) {
	if tf == nil {
		return
	}
	if tf.Candle == nil {
		tf.Candle = stamped(derived, tf)
		return
	}
	merged := model.Merge(*tf.Candle, derived, model.Candle{}, true)
	merged.OpenTime = tf.OpenTime
	merged.CloseTime = tf.CloseTime
	tf.Candle = &merged
}

// stamped copies a candle with the bucket's boundaries.
func stamped(c model.Candle, tf *window.TimeFrame) *model.Candle {
	c.OpenTime = tf.OpenTime
	c.CloseTime = tf.CloseTime
	return &c
}

// weekAnchor shifts weekly alignment off the epoch grid: exchange weekly
// klines open Monday 00:00 UTC, and the epoch was a Thursday.
const weekAnchor = 4 * 24 * 60 * 60 * 1000

// alignedFrame builds the grid-aligned bucket containing openTime.
func alignedFrame(iv model.Interval, openTime int64) *window.TimeFrame {
	delta := iv.Millis()
	var anchor int64
	if iv == model.Week1 {
		anchor = weekAnchor
	}
	open := openTime - (openTime-anchor)%delta
	return window.NewTimeFrame(open, open+delta-1)
}
