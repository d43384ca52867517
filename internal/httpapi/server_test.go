package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketfeed/internal/httpapi"
	"marketfeed/internal/market"
	"marketfeed/internal/memorystore"
	"marketfeed/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeService struct {
	mu        sync.Mutex
	tickers   map[string]market.Ticker
	lastQuery memorystore.KlineQuery
	series    memorystore.KlineSeries
	opened    []market.StreamSpec
	needed    []market.StreamSpec
	removed   []string
	healthErr error
}

func newFakeService() *fakeService {
	return &fakeService{tickers: make(map[string]market.Ticker)}
}

func (f *fakeService) setTicker(t market.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers[t.Symbol] = t
}

func (f *fakeService) LastPrice(symbol string) (decimal.Decimal, bool) {
	t, ok := f.TickerData(symbol)
	return t.LastPrice, ok
}

func (f *fakeService) TickerData(symbol string) (market.Ticker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[symbol]
	return t, ok
}

func (f *fakeService) KlineData(ctx context.Context, q memorystore.KlineQuery) (memorystore.KlineSeries, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.series, len(f.series.Klines) > 0
}

func (f *fakeService) ActiveStreams() []stream.StreamMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stream.StreamMeta, 0, len(f.opened))
	for _, s := range f.opened {
		out = append(out, stream.StreamMeta{ID: s.ID(), Symbol: s.Symbol, Kind: s.Kind, Interval: s.Interval})
	}
	return out
}

func (f *fakeService) OpenStream(spec market.StreamSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, spec)
	return spec.ID(), nil
}

func (f *fakeService) CloseStream(id string) (stream.StreamMeta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.opened {
		if s.ID() == id {
			f.opened = append(f.opened[:i], f.opened[i+1:]...)
			return stream.StreamMeta{ID: id, Status: stream.StateCancelled}, true
		}
	}
	return stream.StreamMeta{}, false
}

func (f *fakeService) NeededStreams() []market.StreamSpec { return f.needed }

func (f *fakeService) AddNeededStream(spec market.StreamSpec) (bool, error) {
	f.needed = append(f.needed, spec)
	return true, nil
}

func (f *fakeService) RemoveNeededStream(symbol, interval string) int {
	f.removed = append(f.removed, market.StreamID(symbol, interval))
	return 1
}

func (f *fakeService) StoreHealth(ctx context.Context) error { return f.healthErr }

func newTestServer(t *testing.T, svc httpapi.Service) *httptest.Server {
	t.Helper()
	s, err := httpapi.NewServer(httpapi.Config{WSPushInterval: 10 * time.Millisecond}, svc, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// go test -v --run TestHealthEndpoint
func TestHealthEndpoint(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthy: status %d body %v", resp.StatusCode, body)
	}

	svc.healthErr = errors.New("connection refused")
	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || body["error"] != "connection refused" {
		t.Errorf("unhealthy: status %d body %v", resp.StatusCode, body)
	}
}

// go test -v --run TestPriceEndpoint
func TestPriceEndpoint(t *testing.T) {
	svc := newFakeService()
	svc.setTicker(market.Ticker{Symbol: "BTC-USDT", LastPrice: decimal.RequireFromString("64000.5"), Timestamp: 1})
	ts := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/price/BTC-USDT", nil)
	if resp.StatusCode != http.StatusOK || body["price"] != "64000.5" {
		t.Errorf("status %d body %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/price/ETH-USDT", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d", resp.StatusCode)
	}
}

// go test -v --run TestKlinesEndpointParsesBounds
func TestKlinesEndpointParsesBounds(t *testing.T) {
	svc := newFakeService()
	svc.series = memorystore.KlineSeries{
		Meta:   memorystore.SeriesMeta{Symbol: "BTC-USDT", Interval: "1m", Count: 1},
		Klines: []market.Kline{{Symbol: "BTC-USDT", Interval: "1m", OpenTime: 200}},
	}
	ts := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/klines?symbol=BTC-USDT&interval=1m&from=150&to=350&limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	q := svc.lastQuery
	if q.From == nil || *q.From != 150 || q.To == nil || *q.To != 350 || q.Limit == nil || *q.Limit != 2 {
		t.Errorf("unexpected query: %+v", q)
	}
	if klines, ok := body["klines"].([]any); !ok || len(klines) != 1 {
		t.Errorf("unexpected body: %v", body)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/klines?symbol=BTC-USDT&interval=1m", nil)
	if resp.StatusCode != http.StatusOK || svc.lastQuery.From != nil || svc.lastQuery.Limit != nil {
		t.Errorf("unbounded query: status %d query %+v", resp.StatusCode, svc.lastQuery)
	}

	for _, bad := range []string{"from=abc", "limit=-1", "to=1.5", "from=-5", "from=0&to=4611686018427387904"} {
		resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/klines?symbol=BTC-USDT&interval=1m&"+bad, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", bad, resp.StatusCode)
		}
	}
}

// go test -v --run TestStreamLifecycleEndpoints
func TestStreamLifecycleEndpoints(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/streams", map[string]string{"symbol": "BTC-USDT", "kind": "kline", "interval": "1m"})
	if resp.StatusCode != http.StatusCreated || body["id"] != "BTC-USDT@kline_1m" {
		t.Fatalf("open: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/streams", map[string]string{"symbol": "BTC-USDT", "kind": "kline"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("kline without interval: status %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/streams", nil)
	if streams, _ := body["streams"].([]any); resp.StatusCode != http.StatusOK || len(streams) != 1 {
		t.Errorf("list: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/streams/BTC-USDT@kline_1m", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("close: status %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/streams/BTC-USDT@kline_1m", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close: status %d", resp.StatusCode)
	}
}

// go test -v --run TestNeededEndpoints
func TestNeededEndpoints(t *testing.T) {
	svc := newFakeService()
	ts := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/needed", map[string]string{"symbol": "ETH-USDT", "kind": "ticker"})
	if resp.StatusCode != http.StatusCreated || body["id"] != "ETH-USDT@ticker" {
		t.Fatalf("add: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/needed?symbol=ETH-USDT", nil)
	if resp.StatusCode != http.StatusOK || len(svc.removed) != 1 || svc.removed[0] != "ETH-USDT@ticker" {
		t.Errorf("remove: status %d removed %v", resp.StatusCode, svc.removed)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/needed", map[string]string{"symbol": "ETH-USDT", "kind": "candle"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind: status %d", resp.StatusCode)
	}
}

// go test -v --run TestTickerWebsocketPushesChanges
func TestTickerWebsocketPushesChanges(t *testing.T) {
	svc := newFakeService()
	svc.setTicker(market.Ticker{Symbol: "BTC-USDT", LastPrice: decimal.NewFromInt(1), Timestamp: 1})
	ts := newTestServer(t, svc)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/ticker/BTC-USDT"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first market.Ticker
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if !first.LastPrice.Equal(decimal.NewFromInt(1)) {
		t.Errorf("first price = %s", first.LastPrice)
	}

	svc.setTicker(market.Ticker{Symbol: "BTC-USDT", LastPrice: decimal.NewFromInt(2), Timestamp: 2})
	var second market.Ticker
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Timestamp != 2 || !second.LastPrice.Equal(decimal.NewFromInt(2)) {
		t.Errorf("second ticker = %+v", second)
	}
}

// go test -v --run TestTickerWebsocketClosesOnShutdown
func TestTickerWebsocketClosesOnShutdown(t *testing.T) {
	svc := newFakeService()
	svc.setTicker(market.Ticker{Symbol: "BTC-USDT", LastPrice: decimal.NewFromInt(1), Timestamp: 1})
	s, err := httpapi.NewServer(httpapi.Config{WSPushInterval: 10 * time.Millisecond}, svc, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	ts.Start()
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/ticker/BTC-USDT"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read first: %v", err)
	}
	cancel()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close frame, got %v", err)
	}
}
