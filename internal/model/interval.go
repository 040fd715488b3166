// Package model holds the canonical market data types for the aggregation
// engine: candle intervals, the Candle value type, and the raw exchange
// payload contracts they are parsed from.
package model

import (
	"fmt"
	"time"
)

// Interval is a candle timeframe duration. The set is closed: the exchange
// streams a single base resolution (1m) and every other interval is either
// downloaded historically or derived from the base stream.
type Interval string

const (
	Second2  Interval = "2s"
	Minute1  Interval = "1m"
	Minute3  Interval = "3m"
	Minute5  Interval = "5m"
	Minute15 Interval = "15m"
	Minute30 Interval = "30m"
	Hour1    Interval = "1h"
	Hour2    Interval = "2h"
	Hour4    Interval = "4h"
	Hour6    Interval = "6h"
	Hour8    Interval = "8h"
	Hour12   Interval = "12h"
	Day1     Interval = "1d"
	Day3     Interval = "3d"
	Week1    Interval = "1w"
)

// IntervalWildcard marks a payload that addresses every window of a symbol,
// such as a live 1m stream update.
const IntervalWildcard Interval = "*"

// intervalMillis maps each interval to its duration in milliseconds.
var intervalMillis = map[Interval]int64{
	Second2:  2_000,
	Minute1:  60_000,
	Minute3:  180_000,
	Minute5:  300_000,
	Minute15: 900_000,
	Minute30: 1_800_000,
	Hour1:    3_600_000,
	Hour2:    7_200_000,
	Hour4:    14_400_000,
	Hour6:    21_600_000,
	Hour8:    28_800_000,
	Hour12:   43_200_000,
	Day1:     86_400_000,
	Day3:     259_200_000,
	Week1:    604_800_000,
}

// millisInterval is the reverse lookup, used to recover the interval of a
// historical candle from its time boundaries.
var millisInterval = func() map[int64]Interval {
	m := make(map[int64]Interval, len(intervalMillis))
	for iv, ms := range intervalMillis {
		m[ms] = iv
	}
	return m
}()

// ParseInterval validates a raw interval string like "15m".
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalMillis[iv]; !ok {
		return "", fmt.Errorf("%w: unknown interval %q", ErrConfiguration, s)
	}
	return iv, nil
}

// Millis returns the interval duration in milliseconds.
func (iv Interval) Millis() int64 {
	return intervalMillis[iv]
}

// Duration returns the interval as a time.Duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Millis()) * time.Millisecond
}

// Valid reports whether the interval is a member of the closed set.
func (iv Interval) Valid() bool {
	_, ok := intervalMillis[iv]
	return ok
}

func (iv Interval) String() string {
	return string(iv)
}

// IntervalFromSpan recovers the interval of a candle from its open and close
// times. Candle boundaries are closed, so a 1m candle spans 59999ms and the
// interval is span+1ms.
func IntervalFromSpan(openTime, closeTime int64) (Interval, error) {
	iv, ok := millisInterval[closeTime-openTime+1]
	if !ok {
		return "", fmt.Errorf("%w: no interval spans [%d, %d]", ErrMalformedPayload, openTime, closeTime)
	}
	return iv, nil
}
