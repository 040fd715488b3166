// Package storage provides database storage implementations for candle data.
package storage

import (
	"context"
	"time"

	"bbot/internal/storage/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Storage defines the interface for persisting candle data.
// Implementations must be safe for concurrent use.
type Storage interface {
	// CreateCandles inserts a batch of closed candles into the database.
	CreateCandles(ctx context.Context, candles []*models.Candle) error

	// Close releases database connection resources.
	Close() error
}

// clickhouseStorage implements Storage using the native ClickHouse driver.
// Uses batch inserts for high-throughput data ingestion.
type clickhouseStorage struct {
	conn driver.Conn
}

// NewClickHouseStorage creates a new ClickHouse storage connection.
// It parses the DSN, opens a connection, and verifies connectivity with a ping.
// Returns an error if connection cannot be established within 5 seconds.
func NewClickHouseStorage(dsn string) (Storage, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &clickhouseStorage{conn: conn}, nil
}

// CreateCandles inserts candles using a ClickHouse batch insert.
// Batch insert is significantly faster than individual inserts for ClickHouse.
// All candles in the batch share the same inserted_at timestamp.
func (s *clickhouseStorage) CreateCandles(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candle (
			symbol, interval, open_time, close_time,
			open, high, low, close,
			base_volume, quote_volume, taker_base_volume, taker_quote_volume,
			n_trades, corrupt, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, c := range candles {
		err := batch.Append(
			c.Symbol,
			c.Interval,
			c.OpenTime,
			c.CloseTime,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.BaseVolume,
			c.QuoteVolume,
			c.TakerBaseVolume,
			c.TakerQuoteVolume,
			c.NTrades,
			c.Corrupt,
			now,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// Close closes the underlying ClickHouse connection.
func (s *clickhouseStorage) Close() error {
	return s.conn.Close()
}
