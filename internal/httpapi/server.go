package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the query surface the API exposes.
type Service interface {
	LastPrice(symbol string) (decimal.Decimal, bool)
	TickerData(symbol string) (market.Ticker, bool)
	KlineData(ctx context.Context, q memorystore.KlineQuery) (memorystore.KlineSeries, bool)
	ActiveStreams() []stream.StreamMeta
	OpenStream(spec market.StreamSpec) (string, error)
	CloseStream(id string) (stream.StreamMeta, bool)
	NeededStreams() []market.StreamSpec
	AddNeededStream(spec market.StreamSpec) (bool, error)
	RemoveNeededStream(symbol, interval string) int
	StoreHealth(ctx context.Context) error
}

type Config struct {
	Addr           string
	WSPushInterval time.Duration
}

type Server struct {
	addr         string
	pushInterval time.Duration
	svc          Service
	router       *gin.Engine
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

func NewServer(cfg Config, svc Service, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WSPushInterval <= 0 {
		cfg.WSPushInterval = time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))

	s := &Server{
		addr:         cfg.Addr,
		pushInterval: cfg.WSPushInterval,
		svc:          svc,
		router:       router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/price/:symbol", s.handlePrice)
	api.GET("/ticker/:symbol", s.handleTicker)
	api.GET("/klines", s.handleKlines)

	api.GET("/streams", s.handleStreams)
	api.POST("/streams", s.handleOpenStream)
	api.DELETE("/streams/:id", s.handleCloseStream)

	api.GET("/needed", s.handleNeeded)
	api.POST("/needed", s.handleAddNeeded)
	api.DELETE("/needed", s.handleRemoveNeeded)

	api.GET("/ws/ticker/:symbol", s.handleTickerWS)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled or the listener fails. Request contexts derive from
// ctx, so open websocket pushes stop on shutdown too.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("http server listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
