package bingx

import (
	"encoding/json"
	"fmt"
)

// Response is the envelope every BingX public endpoint answers with.
type Response struct {
	Code int             `json:"code"` // 0 means success
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"` // delay decoding; shape varies per endpoint
}

// APIError is a non-zero code in the response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bingx error %d: %s", e.Code, e.Msg)
}

type TickerResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Time      int64  `json:"time"` // ms
}

// KlineResponse is one candle. Prices arrive as strings.
type KlineResponse struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
	Time   int64  `json:"time"` // open time, ms
}
