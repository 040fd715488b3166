// Package ingester provides Kafka-to-ClickHouse data ingestion for closed
// candles published by the aggregation engine.
package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bbot/internal/model"
	"bbot/internal/storage/models"

	"github.com/segmentio/kafka-go"
)

// CandleStorage defines the interface for persisting candle data.
type CandleStorage interface {
	CreateCandles(ctx context.Context, candles []*models.Candle) error
}

// CandleIngesterConfig holds candle ingester configuration.
type CandleIngesterConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// CandleIngester consumes closed candles from Kafka and writes them to
// ClickHouse in batches.
type CandleIngester struct {
	reader  *kafka.Reader
	storage CandleStorage
	logger  *slog.Logger
	cfg     CandleIngesterConfig
}

// NewCandleIngester creates a new candle ingester.
func NewCandleIngester(
	reader *kafka.Reader,
	storage CandleStorage,
	logger *slog.Logger,
	cfg CandleIngesterConfig,
) *CandleIngester {
	return &CandleIngester{
		reader:  reader,
		storage: storage,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start runs the candle ingestion loop until context is cancelled.
// Offsets are committed only after a batch lands in the database, so a crash
// replays rather than drops candles.
func (ci *CandleIngester) Start(ctx context.Context) error {
	ci.logger.Info("starting candle ingester", "batch_size", ci.cfg.BatchSize)

	batch := make([]*models.Candle, 0, ci.cfg.BatchSize)
	msgs := make([]kafka.Message, 0, ci.cfg.BatchSize)

	ticker := time.NewTicker(ci.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		for {
			if err := ci.storage.CreateCandles(ctx, batch); err != nil {
				ci.logger.Error("DB insert failed, retrying", "error", err, "count", len(batch))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(2 * time.Second):
					continue
				}
			}
			break
		}

		if err := ci.reader.CommitMessages(ctx, msgs...); err != nil {
			ci.logger.Warn("failed to commit offsets", "error", err)
		}

		batch = batch[:0]
		msgs = msgs[:0]
		ticker.Reset(ci.cfg.BatchTimeout)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return flush()

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}

		default:
			fetchCtx, cancel := context.WithTimeout(ctx, ci.cfg.BatchTimeout)
			m, err := ci.reader.FetchMessage(fetchCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				ci.logger.Error("Kafka fetch error", "error", err)
				select {
				case <-ctx.Done():
					return flush()
				case <-time.After(time.Second):
				}
				continue
			}

			candle, err := ci.parseMessage(m)
			if err != nil {
				ci.logger.Debug("parse error", "error", err)
				continue
			}

			batch = append(batch, candle)
			msgs = append(msgs, m)

			if len(batch) >= ci.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// parseMessage deserializes one Kafka message into a candle model and
// validates it.
func (ci *CandleIngester) parseMessage(msg kafka.Message) (*models.Candle, error) {
	var c models.Candle
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		return nil, fmt.Errorf("decode candle: %w", err)
	}

	if c.Symbol == "" || c.Interval == "" {
		return nil, fmt.Errorf("missing required fields")
	}
	if !model.Interval(c.Interval).Valid() {
		return nil, fmt.Errorf("unknown interval %q", c.Interval)
	}
	if c.CloseTime <= c.OpenTime {
		return nil, fmt.Errorf("invalid candle: close_time <= open_time")
	}
	if c.High.LessThan(c.Low) {
		return nil, fmt.Errorf("invalid candle: high < low")
	}

	return &c, nil
}

// NewReader builds a Kafka reader for the closed-candle topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}
