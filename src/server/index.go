package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ecotrader/src/portfolio"
	"ecotrader/src/strategy"
)

// ===============================================================================
// Status HTTP server
// ===============================================================================

// Status is the top-level snapshot exposed at /api/status.
type Status struct {
	Running        bool      `json:"running"`
	Paper          bool      `json:"paper"`
	Strategy       string    `json:"strategy"`
	Cycles         int       `json:"cycles"`
	LastCycle      time.Time `json:"last_cycle"`
	PortfolioValue float64   `json:"portfolio_value"`
	Cash           float64   `json:"cash"`
	OpenPositions  int       `json:"open_positions"`
	DrawdownPct    float64   `json:"drawdown_pct"`
}

// Source is what the server reads its snapshots from. The trading loop
// satisfies it.
type Source interface {
	Status() Status
	Positions() []portfolio.Position
	RecentTrades(limit int) ([]portfolio.Trade, error)
	LastSignals() map[string]strategy.Signal
}

type Server struct {
	engine *gin.Engine
	server *http.Server
	source Source
}

func NewServer(source Source, listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggerMiddleware())

	s := &Server{
		engine: engine,
		source: source,
		server: &http.Server{Addr: listen, Handler: engine},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/signals", s.getSignals)
	}

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Printf("status server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": s.source.Status()})
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.source.Positions()
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(positions), "data": positions})
}

func (s *Server) getTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	trades, err := s.source.RecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(trades), "data": trades})
}

func (s *Server) getSignals(c *gin.Context) {
	signals := s.source.LastSignals()
	c.JSON(http.StatusOK, gin.H{"code": 0, "count": len(signals), "data": signals})
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Printf("api %s %s %d %v", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
