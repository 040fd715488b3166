package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bbot/configs"
	"bbot/internal/binance"
	"bbot/internal/feed"
	"bbot/internal/pipeline"
	"bbot/internal/server"
	"bbot/internal/sink"
	"bbot/internal/window"
)

func main() {
	appConfig := configs.AppLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := appConfig.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	exchangeLogger := logrus.New()
	exchangeLogger.SetLevel(logrus.InfoLevel)
	exchangeLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	client := binance.NewClient(binance.Config{
		BaseURL:           appConfig.Exchange.BaseURL,
		StreamURL:         appConfig.Exchange.StreamURL,
		RequestsPerSecond: appConfig.Exchange.RequestsPerSecond,
	}, exchangeLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Select symbols from the live exchange listing.
	tickers, err := client.AllSymbols(ctx)
	if err != nil {
		logger.Error("Failed to list exchange symbols", "error", err)
		os.Exit(1)
	}
	all := make([]string, 0, len(tickers))
	for _, t := range tickers {
		all = append(all, t.Symbol)
	}
	symbols := window.FilterSymbols(all, appConfig.Engine.BaseAssets, appConfig.Engine.QuoteAssets)
	logger.Info("Selected symbols", "available", len(all), "selected", len(symbols))

	registry := window.NewRegistry(appConfig.Engine.Intervals, appConfig.Engine.WindowLength)
	registry.CreatePairs(symbols)

	counters := &pipeline.Counters{}
	router := pipeline.NewRouter(registry, counters)

	// Optional closed-candle publishing to Kafka.
	if appConfig.Kafka.Enabled {
		candleSink, err := sink.New(appConfig.Kafka.Broker, appConfig.Kafka.Topic, exchangeLogger)
		if err != nil {
			logger.Error("Failed to create Kafka sink", "error", err)
			os.Exit(1)
		}
		defer candleSink.Close()
		router.OnClosedCandle(candleSink.Publish)
	}

	coordinator := feed.NewCoordinator(feed.Config{
		QueueSize:      appConfig.Engine.QueueSize,
		WindowLength:   appConfig.Engine.WindowLength,
		PacingDelay:    appConfig.Engine.PacingDelay,
		HistoryRetries: appConfig.Engine.HistoryRetries,
	}, client, registry, router, logger)

	// Surface per-symbol structural failures.
	go func() {
		for symErr := range coordinator.Errors() {
			logger.Error("Symbol halted", "symbol", symErr.Symbol, "error", symErr.Err)
		}
	}()

	// HTTP API.
	handler := server.NewCandleHandler(coordinator, registry, counters)
	apiRouter := server.NewRouter(&server.Config{CandleHandler: handler})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.ServerPort),
		Handler: apiRouter,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	logger.Info("Engine started", "port", appConfig.ServerPort)

	if err := coordinator.Run(ctx); err != nil {
		logger.Error("Coordinator stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}

	logger.Info("Engine shutdown complete")
}
