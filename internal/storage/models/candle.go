package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a single closed-candle record in the ClickHouse database.
type Candle struct {
	// Symbol is the exchange trading pair (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`

	// Interval is the candle timeframe: "2s", "1m", "1h", "1d", etc.
	Interval string `json:"interval"`

	// OpenTime and CloseTime bound the candle in epoch milliseconds,
	// inclusive on both ends.
	OpenTime  int64 `json:"open_time"`
	CloseTime int64 `json:"close_time"`

	// OHLC prices.
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	// Volumes traded during the candle period, in base and quote units.
	BaseVolume       decimal.Decimal `json:"base_volume"`
	QuoteVolume      decimal.Decimal `json:"quote_volume"`
	TakerBaseVolume  decimal.Decimal `json:"taker_base_volume"`
	TakerQuoteVolume decimal.Decimal `json:"taker_quote_volume"`

	// NTrades is the number of trades during the candle period.
	NTrades int64 `json:"n_trades"`

	// Corrupt marks candles assembled across a detected stream anomaly.
	Corrupt bool `json:"corrupt"`

	// InsertedAt is when the record was inserted into our database.
	InsertedAt time.Time `json:"inserted_at"`
}
