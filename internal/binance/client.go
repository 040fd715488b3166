// Package binance implements the market data source: REST backfill and the
// live 1m kline websocket stream. It is the only package that talks to the
// exchange; every numeric wire field stays a string until the model parses
// it exactly once.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bbot/internal/feed"
	"bbot/internal/model"
)

const (
	DefaultBaseURL   = "https://api.binance.com/api/v3"
	DefaultStreamURL = "wss://stream.binance.com:9443/ws"
	MaxKlinesLimit   = 1000

	requestTimeout = 30 * time.Second
)

// Config holds client settings.
type Config struct {
	BaseURL           string
	StreamURL         string
	RequestsPerSecond float64
}

// Client talks to the exchange REST API and websocket stream. It implements
// feed.MarketSource.
type Client struct {
	baseURL    string
	streamURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a rate-limited exchange client.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		streamURL: cfg.StreamURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 10),
		logger:  logger,
	}
}

// tickerPrice is one /ticker/price entry.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// AllSymbols lists every trading pair on the exchange with its last price.
func (c *Client) AllSymbols(ctx context.Context) ([]feed.SymbolPrice, error) {
	body, err := c.get(ctx, c.baseURL+"/ticker/price")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var tickers []tickerPrice
	if err := json.NewDecoder(body).Decode(&tickers); err != nil {
		return nil, fmt.Errorf("decode ticker prices: %w", err)
	}

	out := make([]feed.SymbolPrice, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, feed.SymbolPrice{Symbol: t.Symbol, Price: t.Price})
	}
	return out, nil
}

// History downloads up to limit klines for (symbol, interval), oldest first.
// Numbers are decoded with json.Number so the model converts them once.
func (c *Client) History(ctx context.Context, symbol string, iv model.Interval, limit int) ([]model.RESTKline, error) {
	if limit > MaxKlinesLimit {
		limit = MaxKlinesLimit
	}

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", iv.String())
	params.Add("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, c.baseURL+"/klines?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw []model.RESTKline
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"interval": iv.String(),
		"candles":  len(raw),
	}).Debug("downloaded klines")
	return raw, nil
}

func (c *Client) get(ctx context.Context, reqURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("exchange returned status %d: %s", resp.StatusCode, msg)
	}
	return resp.Body, nil
}
