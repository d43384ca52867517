package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/internal/stream"

	"github.com/gin-gonic/gin"
)

// maxTimestamp is 9999-12-31T23:59:59.999Z in epoch ms; bounds outside [0, maxTimestamp] are
// rejected.
const maxTimestamp int64 = 253402300799999

type streamRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Interval string `json:"interval"`
}

func (r streamRequest) spec() (market.StreamSpec, error) {
	kind, err := market.ParseStreamKind(r.Kind)
	if err != nil {
		return market.StreamSpec{}, err
	}
	spec := market.StreamSpec{Symbol: r.Symbol, Kind: kind, Interval: r.Interval}.Normalize()
	return spec, spec.Validate()
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.svc.StoreHealth(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePrice(c *gin.Context) {
	symbol := c.Param("symbol")
	price, ok := s.svc.LastPrice(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price for " + symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (s *Server) handleTicker(c *gin.Context) {
	symbol := c.Param("symbol")
	t, ok := s.svc.TickerData(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ticker for " + symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": t})
}

func (s *Server) handleKlines(c *gin.Context) {
	q := memorystore.KlineQuery{
		Symbol:   c.Query("symbol"),
		Interval: c.Query("interval"),
	}
	if q.Symbol == "" || q.Interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	var err error
	if q.From, err = optionalInt64(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if q.To, err = optionalInt64(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if raw, ok := c.GetQuery("limit"); ok {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = &limit
	}

	series, ok := s.svc.KlineData(c.Request.Context(), q)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no klines in range"})
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) handleStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": s.svc.ActiveStreams()})
}

func (s *Server) handleOpenStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := req.spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.svc.OpenStream(spec)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, stream.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleCloseStream(c *gin.Context) {
	meta, ok := s.svc.CloseStream(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": meta})
}

func (s *Server) handleNeeded(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"needed": s.svc.NeededStreams()})
}

func (s *Server) handleAddNeeded(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := req.spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := s.svc.AddNeededStream(spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"id": spec.ID(), "added": added})
}

func (s *Server) handleRemoveNeeded(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	removed := s.svc.RemoveNeededStream(symbol, c.Query("interval"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func optionalInt64(c *gin.Context, name string) (*int64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	if v < 0 || v > maxTimestamp {
		return nil, fmt.Errorf("%s out of range", name)
	}
	return &v, nil
}
