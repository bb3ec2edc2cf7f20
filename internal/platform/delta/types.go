package delta

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// envelope is the common response wrapper of the REST API.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiError       `json:"error,omitempty"`
	Meta    *pageMeta       `json:"meta,omitempty"`
}

// apiError is the error object returned with success=false.
type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *apiError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// pageMeta carries the pagination cursor.
type pageMeta struct {
	After  *string `json:"after"`
	Before *string `json:"before"`
}

// bookLevel is one price level. The API sends prices as strings; decimal
// accepts both strings and numbers.
type bookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// apiOrderbook is the result of GET /v2/l2orderbook/{symbol}.
type apiOrderbook struct {
	Symbol string      `json:"symbol"`
	Buy    []bookLevel `json:"buy"`
	Sell   []bookLevel `json:"sell"`
}

// apiProduct is a single product from GET /v2/products.
type apiProduct struct {
	ID           int    `json:"id"`
	Symbol       string `json:"symbol"`
	ContractType string `json:"contract_type"`
	State        string `json:"state"`
}

// ToDomain converts the API product into a domain.Product.
func (p apiProduct) ToDomain() domain.Product {
	return domain.Product{
		ID:           p.ID,
		Symbol:       strings.ToUpper(p.Symbol),
		ContractType: p.ContractType,
		State:        p.State,
	}
}

// apiOrderRequest is the body of POST /v2/orders.
type apiOrderRequest struct {
	ProductID  int         `json:"product_id"`
	Size       json.Number `json:"size"`
	Side       string      `json:"side"`
	OrderType  string      `json:"order_type"`
	LimitPrice string      `json:"limit_price,omitempty"`
}

// apiOrder is the order object returned by POST /v2/orders.
type apiOrder struct {
	ID    json.Number `json:"id"`
	State string      `json:"state"`
}
