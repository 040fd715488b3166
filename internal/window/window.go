package window

import (
	"fmt"

	"bbot/internal/model"
)

// Position classifies where an incoming payload lands relative to the last
// timeframe of a window.
type Position int

const (
	// PositionFirst: the window has no timeframes yet.
	PositionFirst Position = iota
	// PositionNext: the payload opens the bucket after the last one.
	PositionNext
	// PositionCurrent: the payload updates the last bucket.
	PositionCurrent
	// PositionPrevious: a late update for the just-closed bucket.
	PositionPrevious
)

func (p Position) String() string {
	switch p {
	case PositionFirst:
		return "FIRST"
	case PositionNext:
		return "NEXT"
	case PositionCurrent:
		return "CURRENT"
	case PositionPrevious:
		return "PREVIOUS"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// Window is the bounded candle history for one (symbol, interval) pair.
// Oldest timeframes are evicted once Limit is exceeded.
type Window struct {
	Interval model.Interval

	// Limit is the configured window length; the deque never grows past it.
	Limit int

	// HistoryDownloaded gates live updates: until the historical backfill
	// for this window has fully drained from the queue, a live NEXT/CURRENT
	// transition could race ahead of the backfill's FIRST/NEXT transitions.
	HistoryDownloaded bool

	// LastUpdate is the most recent raw 1m stream sample applied to this
	// window, and LastUpdateClosed whether that sample closed its base
	// candle. Needed for the delta-vs-raw volume rule on derived intervals.
	LastUpdate       *model.Candle
	LastUpdateClosed bool

	frames []*TimeFrame
}

// New creates an empty window. Sub-minute windows have no history to
// download, so their gate starts open.
func New(iv model.Interval, limit int) *Window {
	return &Window{
		Interval:          iv,
		Limit:             limit,
		HistoryDownloaded: iv == model.Second2,
	}
}

// Classify decides which timeframe a payload with close time t belongs to.
// The tolerance is exactly one bucket of lateness in either direction;
// anything beyond that means the pipeline lags or skipped a bucket, and the
// window can no longer be trusted.
func (w *Window) Classify(t int64) (Position, error) {
	if len(w.frames) == 0 {
		return PositionFirst, nil
	}

	tf := w.frames[len(w.frames)-1]
	delta := w.Interval.Millis()

	switch {
	case t > tf.CloseTime+delta:
		return 0, fmt.Errorf("%w: close time %d skips a bucket past frame [%d, %d]",
			model.ErrDataLeakage, t, tf.OpenTime, tf.CloseTime)
	case t > tf.CloseTime:
		return PositionNext, nil
	case t > tf.OpenTime:
		return PositionCurrent, nil
	case t > tf.OpenTime-delta:
		return PositionPrevious, nil
	default:
		return 0, fmt.Errorf("%w: close time %d lags behind frame [%d, %d]",
			model.ErrDataLeakage, t, tf.OpenTime, tf.CloseTime)
	}
}

// Append adds a timeframe at the newest end, evicting the oldest when the
// window exceeds its limit.
func (w *Window) Append(tf *TimeFrame) {
	w.frames = append(w.frames, tf)
	if w.Limit > 0 && len(w.frames) > w.Limit {
		evicted := len(w.frames) - w.Limit
		n := copy(w.frames, w.frames[evicted:])
		// Clear the tail so evicted frames do not stay reachable through
		// the backing array.
		for i := n; i < len(w.frames); i++ {
			w.frames[i] = nil
		}
		w.frames = w.frames[:n]
	}
}

// Len returns the number of retained timeframes.
func (w *Window) Len() int {
	return len(w.frames)
}

// Last returns the newest timeframe, or nil when the window is empty.
func (w *Window) Last() *TimeFrame {
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[len(w.frames)-1]
}

// Previous returns the second-to-last timeframe, or nil.
func (w *Window) Previous() *TimeFrame {
	if len(w.frames) < 2 {
		return nil
	}
	return w.frames[len(w.frames)-2]
}

// Snapshot deep-copies the retained timeframes, oldest first.
func (w *Window) Snapshot() []TimeFrame {
	out := make([]TimeFrame, 0, len(w.frames))
	for _, tf := range w.frames {
		out = append(out, tf.clone())
	}
	return out
}
