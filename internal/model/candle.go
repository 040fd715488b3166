package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV bar for one time bucket.
//
// The exchange transmits every numeric field as a decimal string; parsing
// converts exactly once at the boundary and everything downstream works on
// decimals. While the bucket is open, volumes only grow.
type Candle struct {
	// OpenTime and CloseTime are milliseconds since epoch, UTC. Candles are
	// closed on both ends, so CloseTime-OpenTime is the interval minus 1ms.
	OpenTime  int64
	CloseTime int64

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	// BaseVolume is denominated in the base asset, QuoteVolume in the quote
	// asset. The taker variants count only the taker-buy side.
	BaseVolume       decimal.Decimal
	QuoteVolume      decimal.Decimal
	TakerBaseVolume  decimal.Decimal
	TakerQuoteVolume decimal.Decimal

	NTrades int64

	// Corrupt marks a candle that failed an integrity check but was kept in
	// place so the window stays gap-free.
	Corrupt bool
}

// StreamKline is a live kline event as delivered by the websocket stream.
// Field tags follow the exchange wire names.
type StreamKline struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     StreamKlineK `json:"k"`
}

// StreamKlineK is the nested kline object of a stream event.
type StreamKlineK struct {
	OpenTime    int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	BaseVolume  string `json:"v"`
	NTrades     int64  `json:"n"`
	Closed      bool   `json:"x"`
	QuoteVolume string `json:"q"`
	TakerBase   string `json:"V"`
	TakerQuote  string `json:"Q"`
}

// RESTKline is one 12-field kline array from the historical REST endpoint:
// [open_time, open, high, low, close, volume, close_time, quote_volume,
// n_trades, taker_buy_base, taker_buy_quote, ignore].
type RESTKline []any

const restKlineFields = 12

// ParseRESTKline maps a 12-field REST kline array to a Candle. All numeric
// fields are required; a missing field, a non-numeric field, or a price <= 0
// is ErrMalformedPayload.
func ParseRESTKline(raw RESTKline) (Candle, error) {
	if len(raw) != restKlineFields {
		return Candle{}, fmt.Errorf("%w: REST kline has %d fields, want %d", ErrMalformedPayload, len(raw), restKlineFields)
	}

	openTime, err := fieldInt64(raw[0], "open_time")
	if err != nil {
		return Candle{}, err
	}
	closeTime, err := fieldInt64(raw[6], "close_time")
	if err != nil {
		return Candle{}, err
	}
	nTrades, err := fieldInt64(raw[8], "n_trades")
	if err != nil {
		return Candle{}, err
	}
	if nTrades < 0 {
		return Candle{}, fmt.Errorf("%w: negative trade count %d", ErrMalformedPayload, nTrades)
	}

	c := Candle{OpenTime: openTime, CloseTime: closeTime, NTrades: nTrades}

	prices := []struct {
		dst  *decimal.Decimal
		src  any
		name string
	}{
		{&c.Open, raw[1], "open"},
		{&c.High, raw[2], "high"},
		{&c.Low, raw[3], "low"},
		{&c.Close, raw[4], "close"},
	}
	for _, p := range prices {
		d, err := fieldDecimal(p.src, p.name)
		if err != nil {
			return Candle{}, err
		}
		if !d.IsPositive() {
			return Candle{}, fmt.Errorf("%w: %s price %s is not positive", ErrMalformedPayload, p.name, d)
		}
		*p.dst = d
	}

	volumes := []struct {
		dst  *decimal.Decimal
		src  any
		name string
	}{
		{&c.BaseVolume, raw[5], "volume"},
		{&c.QuoteVolume, raw[7], "quote_volume"},
		{&c.TakerBaseVolume, raw[9], "taker_buy_base"},
		{&c.TakerQuoteVolume, raw[10], "taker_buy_quote"},
	}
	for _, v := range volumes {
		d, err := fieldDecimal(v.src, v.name)
		if err != nil {
			return Candle{}, err
		}
		*v.dst = d
	}

	return c, nil
}

// ParseStreamKline maps a websocket kline event to a Candle plus whether the
// update closed its base candle.
func ParseStreamKline(ev StreamKline) (Candle, bool, error) {
	k := ev.Kline
	c := Candle{
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		NTrades:   k.NTrades,
	}
	if c.NTrades < 0 {
		return Candle{}, false, fmt.Errorf("%w: negative trade count %d", ErrMalformedPayload, c.NTrades)
	}

	fields := []struct {
		dst   *decimal.Decimal
		src   string
		name  string
		price bool
	}{
		{&c.Open, k.Open, "o", true},
		{&c.Close, k.Close, "c", true},
		{&c.High, k.High, "h", true},
		{&c.Low, k.Low, "l", true},
		{&c.BaseVolume, k.BaseVolume, "v", false},
		{&c.QuoteVolume, k.QuoteVolume, "q", false},
		{&c.TakerBaseVolume, k.TakerBase, "V", false},
		{&c.TakerQuoteVolume, k.TakerQuote, "Q", false},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Candle{}, false, fmt.Errorf("%w: stream field %s=%q: %v", ErrMalformedPayload, f.name, f.src, err)
		}
		if f.price && !d.IsPositive() {
			return Candle{}, false, fmt.Errorf("%w: stream price %s=%s is not positive", ErrMalformedPayload, f.name, d)
		}
		*f.dst = d
	}

	return c, k.Closed, nil
}

// Merge incorporates a 1m stream update into an open candle of the same or a
// coarser interval.
//
// The stream delivers volumes cumulative since the 1m candle opened, not as
// deltas. If the previous update already closed its base candle, this update
// opened a fresh one and its raw values are the increment; otherwise the
// increment is update minus previous update. Without the switch the coarse
// candle double-counts.
func Merge(base, update, prev Candle, prevClosed bool) Candle {
	out := base
	out.Close = update.Close
	out.High = decimal.Max(base.High, update.High)
	out.Low = decimal.Min(base.Low, update.Low)

	if prevClosed {
		out.BaseVolume = base.BaseVolume.Add(update.BaseVolume)
		out.QuoteVolume = base.QuoteVolume.Add(update.QuoteVolume)
		out.TakerBaseVolume = base.TakerBaseVolume.Add(update.TakerBaseVolume)
		out.TakerQuoteVolume = base.TakerQuoteVolume.Add(update.TakerQuoteVolume)
		out.NTrades = base.NTrades + update.NTrades
	} else {
		out.BaseVolume = base.BaseVolume.Add(update.BaseVolume.Sub(prev.BaseVolume))
		out.QuoteVolume = base.QuoteVolume.Add(update.QuoteVolume.Sub(prev.QuoteVolume))
		out.TakerBaseVolume = base.TakerBaseVolume.Add(update.TakerBaseVolume.Sub(prev.TakerBaseVolume))
		out.TakerQuoteVolume = base.TakerQuoteVolume.Add(update.TakerQuoteVolume.Sub(prev.TakerQuoteVolume))
		out.NTrades = base.NTrades + update.NTrades - prev.NTrades
	}
	return out
}

// DeriveSubMinute synthesizes a candle for an interval finer than the stream
// resolution from two consecutive 1m updates. True sub-minute OHLC is not
// observable from 1m ticks, so open/close/high/low are taken from the two
// close prices; volumes follow the same delta-vs-raw rule as Merge.
func DeriveSubMinute(update, prev Candle, prevClosed bool) Candle {
	out := Candle{
		Open:  prev.Close,
		Close: update.Close,
		High:  decimal.Max(update.Close, prev.Close),
		Low:   decimal.Min(update.Close, prev.Close),
	}

	if prevClosed {
		out.BaseVolume = update.BaseVolume
		out.QuoteVolume = update.QuoteVolume
		out.TakerBaseVolume = update.TakerBaseVolume
		out.TakerQuoteVolume = update.TakerQuoteVolume
		out.NTrades = update.NTrades
	} else {
		out.BaseVolume = update.BaseVolume.Sub(prev.BaseVolume)
		out.QuoteVolume = update.QuoteVolume.Sub(prev.QuoteVolume)
		out.TakerBaseVolume = update.TakerBaseVolume.Sub(prev.TakerBaseVolume)
		out.TakerQuoteVolume = update.TakerQuoteVolume.Sub(prev.TakerQuoteVolume)
		out.NTrades = update.NTrades - prev.NTrades
	}
	return out
}

func fieldDecimal(v any, name string) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: field %s=%q: %v", ErrMalformedPayload, name, t, err)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: field %s=%q: %v", ErrMalformedPayload, name, t, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: field %s has type %T", ErrMalformedPayload, name, v)
	}
}

func fieldInt64(v any, name string) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: field %s=%q: %v", ErrMalformedPayload, name, t, err)
		}
		return n, nil
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %s=%q: %v", ErrMalformedPayload, name, t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: field %s has type %T", ErrMalformedPayload, name, v)
	}
}
