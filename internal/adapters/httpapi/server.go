// Package httpapi serves health, Prometheus metrics and read-only instrument
// state over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

const defaultTradeLimit = 50

// StateSource exposes instrument snapshots.
type StateSource interface {
	Symbols() []string
	Snapshot(symbol string) (domain.InstrumentState, bool)
}

type instrumentResponse struct {
	Symbol           string     `json:"symbol"`
	Status           string     `json:"status"`
	BuyThreshold     float64    `json:"buy_threshold"`
	SellThreshold    float64    `json:"sell_threshold"`
	PreviousMomentum *float64   `json:"previous_momentum"`
	HighWaterMark    *float64   `json:"high_water_mark"`
	EntryPrice       *float64   `json:"entry_price"`
	EntryTime        *time.Time `json:"entry_time,omitempty"`
	Quantity         float64    `json:"quantity"`
}

func newInstrumentResponse(st domain.InstrumentState) instrumentResponse {
	r := instrumentResponse{
		Symbol:           st.Symbol,
		Status:           string(st.Status()),
		BuyThreshold:     st.BuyThreshold,
		SellThreshold:    st.SellThreshold,
		PreviousMomentum: st.PreviousMomentum,
		HighWaterMark:    st.HighWaterMark,
		EntryPrice:       st.EntryPrice,
		Quantity:         st.Quantity,
	}
	if !st.EntryTime.IsZero() {
		t := st.EntryTime
		r.EntryTime = &t
	}
	return r
}

// Server wraps a gin engine and its http.Server.
type Server struct {
	router *gin.Engine
	http   *http.Server
	states StateSource
	trades ports.TradeRepository
	logger ports.Logger
}

// NewServer builds the routes. trades may be nil, in which case the trades
// route is not registered.
func NewServer(addr string, states StateSource, trades ports.TradeRepository, logger ports.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, states: states, trades: trades, logger: logger}
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api := r.Group("/api/v1")
	{
		api.GET("/instruments", s.handleListInstruments)
		api.GET("/instruments/:symbol", s.handleGetInstrument)
		if trades != nil {
			api.GET("/instruments/:symbol/trades", s.handleListTrades)
		}
	}
	s.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP status server listening", map[string]interface{}{"addr": s.http.Addr})
		errC <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleListInstruments(c *gin.Context) {
	out := make([]instrumentResponse, 0)
	for _, symbol := range s.states.Symbols() {
		if st, ok := s.states.Snapshot(symbol); ok {
			out = append(out, newInstrumentResponse(st))
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetInstrument(c *gin.Context) {
	st, ok := s.states.Snapshot(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, newInstrumentResponse(st))
}

func (s *Server) handleListTrades(c *gin.Context) {
	symbol := c.Param("symbol")
	if _, ok := s.states.Snapshot(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	trades, err := s.trades.FindBySymbol(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "HTTP: Failed to list trades", map[string]interface{}{"symbol": symbol})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}
