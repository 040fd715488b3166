// Package window owns the per-(symbol, interval) candle history: bounded
// sequences of timeframes, the bucket classification algorithm, and the
// registry addressing them. Everything in this package is mutated by the
// single pipeline consumer only and is therefore lock-free.
package window

import "bbot/internal/model"

// TimeFrame is one time bucket holding at most one candle. It is populated
// once (historical) or incrementally (live) and becomes read-only when the
// next bucket supersedes it.
type TimeFrame struct {
	// OpenTime and CloseTime are ms since epoch; CloseTime-OpenTime equals
	// the interval duration minus 1ms, matching exchange kline boundaries.
	OpenTime  int64
	CloseTime int64

	Candle *model.Candle
}

// NewTimeFrame creates an empty bucket with the given boundaries.
func NewTimeFrame(openTime, closeTime int64) *TimeFrame {
	return &TimeFrame{OpenTime: openTime, CloseTime: closeTime}
}

// Next creates the bucket immediately following tf, computed
// deterministically: it opens 1ms after tf closes and spans the same
// duration.
func (tf *TimeFrame) Next() *TimeFrame {
	span := tf.CloseTime - tf.OpenTime
	open := tf.CloseTime + 1
	return &TimeFrame{OpenTime: open, CloseTime: open + span}
}

// clone deep-copies the timeframe for read-only snapshots.
func (tf *TimeFrame) clone() TimeFrame {
	out := TimeFrame{OpenTime: tf.OpenTime, CloseTime: tf.CloseTime}
	if tf.Candle != nil {
		c := *tf.Candle
		out.Candle = &c
	}
	return out
}
