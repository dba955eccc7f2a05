// Package api exposes the read-only status surface and the operator
// actions over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iBuild-ts/Binance-trading-bot/internal/engine"
	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
	"github.com/iBuild-ts/Binance-trading-bot/internal/ledger"
	"github.com/iBuild-ts/Binance-trading-bot/internal/monitor"
	"github.com/iBuild-ts/Binance-trading-bot/internal/risk"
)

// Server wires HTTP endpoints around the engine state.
type Server struct {
	Router  *gin.Engine
	Book    *engine.Book
	Breaker *risk.Breaker
	Journal *ledger.Ledger
	Metrics *monitor.Metrics
	Bus     *events.Bus

	JWTSecret        string
	OperatorPassword string
	Meta             SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	Venue       string
	Testnet     bool
	Instruments []string
	Version     string
	StartedAt   time.Time
}

// NewServer builds the router with the full middleware stack.
func NewServer(book *engine.Book, breaker *risk.Breaker, journal *ledger.Ledger,
	metrics *monitor.Metrics, bus *events.Bus, meta SystemMeta,
	jwtSecret, operatorPassword string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:           r,
		Book:             book,
		Breaker:          breaker,
		Journal:          journal,
		Metrics:          metrics,
		Bus:              bus,
		JWTSecret:        jwtSecret,
		OperatorPassword: operatorPassword,
		Meta:             meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/trades", s.getTrades)
		api.GET("/metrics", s.getMetrics)

		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signal", s.postSignal)
			protected.POST("/risk/reset", s.resetRiskPause)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getStatus returns the breaker state and a snapshot of the live trades.
func (s *Server) getStatus(c *gin.Context) {
	riskState := s.Breaker.Snapshot()
	trades := s.Book.Snapshot()

	type tradeView struct {
		ID         string  `json:"id"`
		Instrument string  `json:"instrument"`
		Direction  string  `json:"direction"`
		State      string  `json:"state"`
		EntryPrice float64 `json:"entry_price"`
		Qty        float64 `json:"qty"`
		Leverage   int     `json:"leverage"`
		OpenedAt   string  `json:"opened_at,omitempty"`
	}
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		v := tradeView{
			ID:         t.ID,
			Instrument: t.Instrument,
			Direction:  string(t.Direction),
			State:      string(t.State),
			EntryPrice: t.EntryPrice,
			Qty:        t.Qty,
			Leverage:   t.Leverage,
		}
		if !t.OpenedAt.IsZero() {
			v.OpenedAt = t.OpenedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{
			"venue":       s.Meta.Venue,
			"testnet":     s.Meta.Testnet,
			"instruments": s.Meta.Instruments,
			"version":     s.Meta.Version,
			"started_at":  s.Meta.StartedAt.Format(time.RFC3339),
		},
		"risk": gin.H{
			"trading_day":         riskState.TradingDay,
			"trades_count":        riskState.TradesCount,
			"realized_pnl_usd":    riskState.RealizedPnlUsd,
			"realized_pnl_pct":    riskState.RealizedPnlPct,
			"consecutive_losses":  riskState.ConsecutiveLosses,
			"paused_until":        formatPause(riskState.PausedUntil),
			"pause_reason":        riskState.PauseReason,
			"paused_indefinitely": riskState.PausedIndefinitely,
		},
		"trades": views,
	})
}

// getTrades returns the most recent journal rows.
func (s *Server) getTrades(c *gin.Context) {
	recs, err := s.Journal.Recent(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": recs})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// postSignal accepts an external directional signal and hands it to the
// intake loop over the bus. Acceptance gates run asynchronously; a 202 means
// queued, not opened.
func (s *Server) postSignal(c *gin.Context) {
	var req struct {
		Instrument string  `json:"instrument" binding:"required"`
		Direction  string  `json:"direction" binding:"required"`
		Price      float64 `json:"price" binding:"required"`
		Strength   float64 `json:"strength"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument, direction and price are required"})
		return
	}
	dir := engine.Direction(strings.ToUpper(req.Direction))
	if dir != engine.DirectionLong && dir != engine.DirectionShort {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be LONG or SHORT"})
		return
	}
	if req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
		return
	}
	if s.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal intake not running"})
		return
	}
	sig := engine.Signal{
		Instrument: strings.ToUpper(req.Instrument),
		Direction:  dir,
		Strength:   req.Strength,
		Price:      req.Price,
		Time:       time.Now().UTC(),
	}
	s.Bus.Publish(events.EventSignalReceived, sig)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// resetRiskPause clears an active breaker pause.
func (s *Server) resetRiskPause(c *gin.Context) {
	if err := s.Breaker.ResetPause(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func formatPause(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
