// Package sink publishes closed candles to Kafka so downstream consumers can
// persist or fan them out. The engine keeps working if publishing fails; a
// lost record is only a delivery report warning.
package sink

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"

	"bbot/internal/model"
	"bbot/internal/window"
)

// ClosedCandle is the wire record for a finished timeframe.
type ClosedCandle struct {
	Symbol           string `json:"symbol"`
	Interval         string `json:"interval"`
	OpenTime         int64  `json:"open_time"`
	CloseTime        int64  `json:"close_time"`
	Open             string `json:"open"`
	High             string `json:"high"`
	Low              string `json:"low"`
	Close            string `json:"close"`
	BaseVolume       string `json:"base_volume"`
	QuoteVolume      string `json:"quote_volume"`
	TakerBaseVolume  string `json:"taker_base_volume"`
	TakerQuoteVolume string `json:"taker_quote_volume"`
	NTrades          int64  `json:"n_trades"`
	Corrupt          bool   `json:"corrupt"`
}

// Sink owns a Kafka producer for closed-candle records.
type Sink struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

// New creates a producer connected to broker and starts its delivery report
// loop.
func New(broker, topic string, logger *logrus.Logger) (*Sink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s := &Sink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
	go s.deliveryReport()
	logger.Info("Kafka producer initialized successfully")
	return s, nil
}

// deliveryReport drains the producer's event channel and logs failures.
func (s *Sink) deliveryReport() {
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				s.logger.Errorf("Message delivery failed: %v", ev.TopicPartition.Error)
			}
		}
	}
}

// Publish enqueues one closed candle. It is safe to call from the engine's
// consumer goroutine; the producer's internal queue absorbs the write.
func (s *Sink) Publish(symbol string, iv model.Interval, tf window.TimeFrame) {
	c := tf.Candle
	record := ClosedCandle{
		Symbol:           symbol,
		Interval:         iv.String(),
		OpenTime:         tf.OpenTime,
		CloseTime:        tf.CloseTime,
		Open:             c.Open.String(),
		High:             c.High.String(),
		Low:              c.Low.String(),
		Close:            c.Close.String(),
		BaseVolume:       c.BaseVolume.String(),
		QuoteVolume:      c.QuoteVolume.String(),
		TakerBaseVolume:  c.TakerBaseVolume.String(),
		TakerQuoteVolume: c.TakerQuoteVolume.String(),
		NTrades:          c.NTrades,
		Corrupt:          c.Corrupt,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		s.logger.Errorf("failed to marshal closed candle: %v", err)
		return
	}

	if err := s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Value:          payload,
	}, nil); err != nil {
		s.logger.Errorf("failed to produce closed candle: %v", err)
	}
}

// Close flushes pending records and releases the producer.
func (s *Sink) Close() {
	s.producer.Flush(5000)
	s.producer.Close()
	s.logger.Info("Kafka producer closed")
}
