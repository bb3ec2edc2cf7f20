// Package delta is a REST client for a Delta-Exchange-style derivatives API:
// order books, product discovery, and signed order placement.
package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/signalbot/internal/crypto"
	"github.com/alanyoungcy/signalbot/internal/domain"
)

const (
	userAgent       = "signalbot-go"
	productPageSize = 100
	maxProductPages = 50
	maxResponseSize = 4 << 20
)

var restJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the exchange REST client. Public endpoints are called without
// signing; private endpoints require credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	now        func() time.Time
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.india.delta.exchange".
// auth may be nil for read-only use.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
		now:  time.Now,
	}
}

// HasCredentials reports whether the client can call private endpoints.
func (c *Client) HasCredentials() bool {
	return c.auth.Enabled()
}

// GetOrderbook returns the top of book for symbol.
func (c *Client) GetOrderbook(ctx context.Context, symbol string) (domain.Quote, error) {
	path := "/v2/l2orderbook/" + url.PathEscape(symbol)

	result, _, err := c.do(ctx, http.MethodGet, path, nil, nil, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("delta: get orderbook %s: %w", symbol, err)
	}

	var book apiOrderbook
	if err := restJSON.Unmarshal(result, &book); err != nil {
		return domain.Quote{}, fmt.Errorf("delta: decode orderbook %s: %w", symbol, err)
	}
	if len(book.Buy) == 0 || len(book.Sell) == 0 {
		return domain.Quote{}, fmt.Errorf("delta: orderbook %s: empty side: %w", symbol, domain.ErrExchange)
	}

	return domain.Quote{
		Symbol:  symbol,
		BestBid: book.Buy[0].Price.InexactFloat64(),
		BestAsk: book.Sell[0].Price.InexactFloat64(),
		Time:    c.now().UTC(),
	}, nil
}

// ListProducts pages through GET /v2/products and returns every product.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	after := ""

	for page := 0; page < maxProductPages; page++ {
		q := url.Values{}
		q.Set("page_size", fmt.Sprint(productPageSize))
		if after != "" {
			q.Set("after", after)
		}

		result, meta, err := c.do(ctx, http.MethodGet, "/v2/products", q, nil, false)
		if err != nil {
			return nil, fmt.Errorf("delta: list products: %w", err)
		}

		var products []apiProduct
		if err := restJSON.Unmarshal(result, &products); err != nil {
			return nil, fmt.Errorf("delta: decode products: %w", err)
		}
		for _, p := range products {
			out = append(out, p.ToDomain())
		}

		if meta == nil || meta.After == nil || *meta.After == "" || len(products) == 0 {
			break
		}
		after = *meta.After
	}

	return out, nil
}

// FindPerpetual scans the product list for a perpetual contract whose symbol
// matches. It returns domain.ErrUnknownProduct when none does.
func (c *Client) FindPerpetual(ctx context.Context, symbol string) (domain.Product, error) {
	products, err := c.ListProducts(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	want := strings.ToUpper(symbol)
	for _, p := range products {
		if p.Symbol == want && p.IsPerpetual() {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("delta: find perpetual %s: %w", symbol, domain.ErrUnknownProduct)
}

// PlaceLimitOrder submits a signed limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, productID int, side domain.Side, size, limitPrice float64) (domain.PlacedOrder, error) {
	if !c.HasCredentials() {
		return domain.PlacedOrder{}, fmt.Errorf("delta: place order: %w", domain.ErrUnauthorized)
	}
	if !side.Valid() || size <= 0 || limitPrice <= 0 {
		return domain.PlacedOrder{}, fmt.Errorf("delta: place order: %w", domain.ErrInvalidOrder)
	}

	body := apiOrderRequest{
		ProductID:  productID,
		Size:       json.Number(decimal.NewFromFloat(size).String()),
		Side:       side.Lower(),
		OrderType:  "limit_order",
		LimitPrice: decimal.NewFromFloat(limitPrice).String(),
	}

	result, _, err := c.do(ctx, http.MethodPost, "/v2/orders", nil, body, true)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("delta: place order: %w", err)
	}

	var order apiOrder
	if err := restJSON.Unmarshal(result, &order); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("delta: decode order: %w", err)
	}

	return domain.PlacedOrder{ID: order.ID.String(), State: order.State}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, optionally signs, sends, and reads a request. It returns the
// unwrapped result payload and pagination metadata.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (json.RawMessage, *pageMeta, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := restJSON.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	queryStr := ""
	if len(query) > 0 {
		queryStr = "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+queryStr, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed || c.auth.Enabled() {
		if !c.auth.Enabled() {
			return nil, nil, domain.ErrUnauthorized
		}
		headers := c.auth.HeadersAt(method, path, queryStr, bodyStr, c.now().Unix())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, nil, err
	}

	var env envelope
	if err := restJSON.Unmarshal(respBody, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrExchange, env.Error.String())
	}

	return env.Result, env.Meta, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := errorDetail(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrExchange, statusCode, bodyStr)
	}
}

// errorDetail prefers the structured error code over the raw body.
func errorDetail(body []byte) string {
	var env envelope
	if err := restJSON.Unmarshal(body, &env); err == nil && env.Error != nil {
		return env.Error.String()
	}
	s := string(body)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
