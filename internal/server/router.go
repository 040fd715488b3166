package server

import (
	"github.com/gin-gonic/gin"
)

type Config struct {
	CandleHandler *CandleHandler
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	api := router.Group("/v1/")
	registerCandleRoutes(api, cfg.CandleHandler)

	return router
}

func registerCandleRoutes(router *gin.RouterGroup, h *CandleHandler) {
	candles := router.Group("/candles")
	{
		candles.GET("/:symbol/:interval", h.GetCandles)
	}
	router.GET("/symbols", h.GetSymbols)
	router.GET("/health", h.GetHealth)
}
