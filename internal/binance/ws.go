package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"bbot/internal/model"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
)

// StreamKlines subscribes to the symbol's 1m kline stream and calls handle
// for every event. It reconnects with exponential backoff until the context
// is cancelled; handle runs on the stream goroutine, so it must not block.
func (c *Client) StreamKlines(ctx context.Context, symbol string, handle func(model.StreamKline)) error {
	streamURL := fmt.Sprintf("%s/%s@kline_1m", c.streamURL, strings.ToLower(symbol))
	log := c.logger.WithField("symbol", symbol)

	reconnectDelay := initialReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.readStream(ctx, streamURL, handle)
		if ctx.Err() != nil {
			return nil
		}

		log.WithError(err).WithField("reconnectDelay", reconnectDelay).
			Warn("kline stream dropped, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}

		// Exponential backoff with max limit.
		reconnectDelay *= 2
		if reconnectDelay > maxReconnectDelay {
			reconnectDelay = maxReconnectDelay
		}
	}
}

// readStream holds one connection open and pumps events until it fails.
func (c *Client) readStream(ctx context.Context, streamURL string, handle func(model.StreamKline)) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", streamURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	// Binance pings from the server side; answering keeps the session alive.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteTimeout))
	})

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go c.pingLoop(conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var ev model.StreamKline
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.WithError(err).Warn("unparseable stream payload")
			continue
		}
		if ev.EventType != "kline" {
			continue
		}
		handle(ev)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
