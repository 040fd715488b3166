// Package server exposes the engine's window state over HTTP. Reads travel
// through the ingestion queue as snapshot requests, so handlers never touch
// window memory directly.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bbot/internal/feed"
	"bbot/internal/model"
	"bbot/internal/pipeline"
	"bbot/internal/window"
)

const snapshotTimeout = 5 * time.Second

// CandleResponse is one candle in an API reply.
type CandleResponse struct {
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

// CandleHandler serves window snapshots and engine health.
type CandleHandler struct {
	coordinator *feed.Coordinator
	registry    *window.Registry
	counters    *pipeline.Counters
}

func NewCandleHandler(co *feed.Coordinator, reg *window.Registry, counters *pipeline.Counters) *CandleHandler {
	return &CandleHandler{
		coordinator: co,
		registry:    reg,
		counters:    counters,
	}
}

// GetCandles returns the most recent candles for a (symbol, interval) pair,
// oldest first. An optional limit query parameter trims the tail.
func (h *CandleHandler) GetCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	iv, err := model.ParseInterval(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown interval"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	frames, err := h.coordinator.Snapshot(ctx, symbol, iv)
	if err != nil {
		if ctx.Err() != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "snapshot timed out"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	limit := len(frames)
	if n, ok := intQuery(c, "limit"); ok && n < limit {
		limit = n
	}
	frames = frames[len(frames)-limit:]

	out := make([]CandleResponse, 0, len(frames))
	for _, tf := range frames {
		if tf.Candle == nil {
			continue
		}
		out = append(out, toResponse(tf))
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": iv.String(),
		"candles":  out,
	})
}

// GetSymbols lists the symbols currently tracked by the engine.
func (h *CandleHandler) GetSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.registry.Symbols()})
}

// GetHealth reports the processing counters.
func (h *CandleHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"counters": h.counters.Snapshot(),
	})
}

func toResponse(tf window.TimeFrame) CandleResponse {
	cd := tf.Candle
	return CandleResponse{
		OpenTime:         tf.OpenTime,
		CloseTime:        tf.CloseTime,
		Open:             cd.Open.String(),
		High:             cd.High.String(),
		Low:              cd.Low.String(),
		Close:            cd.Close.String(),
		BaseVolume:       cd.BaseVolume.String(),
		QuoteVolume:      cd.QuoteVolume.String(),
		TakerBaseVolume:  cd.TakerBaseVolume.String(),
		TakerQuoteVolume: cd.TakerQuoteVolume.String(),
		NTrades:          cd.NTrades,
		Corrupt:          cd.Corrupt,
	}
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
