// Package coinbase implements the exchange adapter and level2 book stream
// for Coinbase Pro.
package coinbase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/tarbot/internal/crypto"
	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/exchange"
)

const (
	DefaultRESTURL = "https://api.pro.coinbase.com"
	SandboxRESTURL = "https://api-public.sandbox.pro.coinbase.com"

	// APISlippage covers the fee rounding Coinbase applies to buy fills.
	APISlippage = 0.00009999
)

// Config configures the Coinbase adapter.
type Config struct {
	RESTURL     string
	Auth        crypto.HMACAuth
	Precision   int32 // decimals kept on order price and size
	HTTPTimeout time.Duration
	DepthLevel  int // REST book level, 2 for aggregated top 50
	APISlippage float64
}

// DefaultConfig returns the production endpoint settings.
func DefaultConfig() Config {
	return Config{
		RESTURL:     DefaultRESTURL,
		Precision:   8,
		HTTPTimeout: 30 * time.Second,
		DepthLevel:  2,
		APISlippage: APISlippage,
	}
}

// Client is the REST side of the Coinbase adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

var _ domain.ExchangeAdapter = (*Client)(nil)

// NewClient creates a Coinbase REST client. limiter may be nil; book fetches
// are admitted by the caller, every other call is admitted here.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.RESTURL == "" {
		cfg.RESTURL = DefaultRESTURL
	}
	if cfg.Precision <= 0 {
		cfg.Precision = 8
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.DepthLevel == 0 {
		cfg.DepthLevel = 2
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "coinbase")),
	}
}

func (c *Client) ID() domain.ExchangeID { return domain.ExchangeCoinbase }

func (c *Client) Tweaks() domain.AdapterTweaks {
	return domain.AdapterTweaks{
		MarketDepthLevels: 50,
		NewOrderQueryWait: time.Second,
		OrderbookBatch:    1,
		APISlippage:       c.cfg.APISlippage,
		TakerFeeRate:      0.005,
		MakerFeeRate:      0.005,
	}
}

// Coinbase uses the canonical BASE-QUOTE form.
func (c *Client) ToLocalPair(pair string) string      { return strings.ToUpper(pair) }
func (c *Client) ToCanonicalPair(local string) string { return strings.ToUpper(local) }

// TakerFee follows the Coinbase volume tiers. Buys are charged in the base
// currency, sells in the quote currency.
func (c *Client) TakerFee(t domain.OrderType, _ string, size, price float64) float64 {
	funds := size * price
	pct := 0.0025
	switch {
	case funds < 10000:
		pct = 0.005
	case funds < 50000:
		pct = 0.0035
	}
	if t == domain.OrderLimitBuy {
		return size * pct
	}
	return funds * pct
}

func (c *Client) WithdrawalFee(float64) float64 { return 0 }

func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	var raw []cbAccount
	if err := c.do(ctx, "accounts", http.MethodGet, "/accounts", nil, &raw); err != nil {
		return nil, fmt.Errorf("coinbase: get accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(raw))
	for _, a := range raw {
		out = append(out, domain.Account{
			Currency:  a.Currency,
			Balance:   exchange.ParseNumber(a.Balance),
			Hold:      exchange.ParseNumber(a.Hold),
			Available: exchange.ParseNumber(a.Available),
		})
	}
	return out, nil
}

// GetOrderByID returns the order. Coinbase forgets cancelled orders, so a 404
// is reported as a closed order.
func (c *Client) GetOrderByID(ctx context.Context, extID, pair string) (domain.ExchangeOrder, error) {
	var raw cbOrder
	err := c.do(ctx, "order", http.MethodGet, "/orders/"+url.PathEscape(extID), nil, &raw)
	if err != nil {
		if isNotFound(err) {
			return domain.ExchangeOrder{ID: extID, Pair: pair, Status: domain.OrderClosed, DoneReason: "canceled"}, nil
		}
		return domain.ExchangeOrder{}, fmt.Errorf("coinbase: get order %s: %w", extID, err)
	}
	return toExchangeOrder(raw), nil
}

func (c *Client) GetAllOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	var raw []cbOrder
	if err := c.do(ctx, "orders", http.MethodGet, "/orders?status=all", nil, &raw); err != nil {
		return nil, fmt.Errorf("coinbase: get orders: %w", err)
	}
	out := make([]domain.ExchangeOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, toExchangeOrder(o))
	}
	return out, nil
}

// GetOrderbook fetches a REST snapshot. It is not rate limited here.
func (c *Client) GetOrderbook(ctx context.Context, pair string) (domain.Orderbook, error) {
	path := fmt.Sprintf("/products/%s/book?level=%d", url.PathEscape(c.ToLocalPair(pair)), c.cfg.DepthLevel)
	var raw cbBook
	if err := c.do(ctx, "", http.MethodGet, path, nil, &raw); err != nil {
		return domain.Orderbook{}, fmt.Errorf("coinbase: get orderbook %s: %w", pair, err)
	}
	book := domain.Orderbook{
		ExchangeID: domain.ExchangeCoinbase,
		Pair:       domain.MakePair(domain.SplitPair(pair)),
		Sequence:   raw.Sequence,
		Asks:       toLevels(raw.Asks),
		Bids:       toLevels(raw.Bids),
		FetchedAt:  time.Now(),
	}
	book.SortLevels()
	return book, nil
}

func (c *Client) GetProductTicker(ctx context.Context, pair string) (domain.Ticker, error) {
	var raw cbTicker
	path := "/products/" + url.PathEscape(c.ToLocalPair(pair)) + "/ticker"
	if err := c.do(ctx, "product-ticker", http.MethodGet, path, nil, &raw); err != nil {
		return domain.Ticker{}, fmt.Errorf("coinbase: get ticker %s: %w", pair, err)
	}
	return domain.Ticker{
		Pair:   pair,
		Price:  exchange.ParseNumber(raw.Price),
		Bid:    exchange.ParseNumber(raw.Bid),
		Ask:    exchange.ParseNumber(raw.Ask),
		Volume: exchange.ParseNumber(raw.Volume),
		Time:   raw.Time,
	}, nil
}

// GetAllProducts lists every pair. Coinbase does not report volume here, so
// Volume24h stays 0 until the catalog sync fills it from tickers.
func (c *Client) GetAllProducts(ctx context.Context) ([]domain.Product, error) {
	var raw []cbProduct
	if err := c.do(ctx, "products", http.MethodGet, "/products", nil, &raw); err != nil {
		return nil, fmt.Errorf("coinbase: get products: %w", err)
	}
	out := make([]domain.Product, 0, len(raw))
	for _, p := range raw {
		status := domain.ProductOffline
		if p.Status == "online" && !p.TradingDis {
			status = domain.ProductOnline
		}
		out = append(out, domain.Product{
			ExchangeID:      domain.ExchangeCoinbase,
			ExtID:           p.ID,
			BaseCurrency:    strings.ToUpper(p.BaseCurrency),
			QuoteCurrency:   strings.ToUpper(p.QuoteCurrency),
			Volume24hStable: -1,
			Status:          status,
		})
	}
	return out, nil
}

// LimitOrder places a good-till-cancelled limit order. localID is sent as the
// client order id; self trades decrement and cancel.
func (c *Client) LimitOrder(ctx context.Context, t domain.OrderType, localID, pair string, size, price float64) (domain.ExchangeOrder, error) {
	side := "sell"
	if t == domain.OrderLimitBuy {
		side = "buy"
	}
	req := cbLimitOrder{
		Type:        "limit",
		ClientOID:   localID,
		Side:        side,
		Price:       exchange.FormatNumber(price, c.cfg.Precision),
		Size:        exchange.FormatNumber(size, c.cfg.Precision),
		ProductID:   c.ToLocalPair(pair),
		TimeInForce: "GTC",
		STP:         "dc",
	}
	var raw cbOrder
	if err := c.do(ctx, "limit-order", http.MethodPost, "/orders", req, &raw); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("coinbase: limit order %s %s: %w", side, pair, err)
	}
	return toExchangeOrder(raw), nil
}

func (c *Client) CancelOrder(ctx context.Context, extID, _ string) error {
	err := c.do(ctx, "cancel-order", http.MethodDelete, "/orders/"+url.PathEscape(extID), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("coinbase: cancel order %s: %w", extID, domain.ErrNotFound)
		}
		return fmt.Errorf("coinbase: cancel order %s: %w", extID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.Code == http.StatusNotFound
}

// do signs and sends one request. token names the rate-limit bucket; an
// empty token skips admission.
func (c *Client) do(ctx context.Context, token, method, path string, reqBody, out any) error {
	if token != "" && c.limiter != nil {
		if err := c.limiter.Admit(ctx, token); err != nil {
			return err
		}
	}

	var body []byte
	if reqBody != nil {
		b, err := sonnet.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RESTURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Auth.Enabled() {
		c.cfg.Auth.Sign(req, body, time.Now())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr cbError
		_ = sonnet.Unmarshal(respBody, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strconv.Quote(string(respBody))
		}
		return &statusError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := sonnet.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toLevels(raw []cbLevel) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, l := range raw {
		out = append(out, domain.Level{
			Price: exchange.ParseNumber(l.Price),
			Size:  exchange.ParseNumber(l.Size),
		})
	}
	return out
}

func toExchangeOrder(o cbOrder) domain.ExchangeOrder {
	filled := exchange.ParseNumber(o.FilledSize)
	return domain.ExchangeOrder{
		ID:         o.ID,
		Pair:       o.ProductID,
		Side:       o.Side,
		Price:      exchange.ParseNumber(o.Price),
		Size:       exchange.ParseNumber(o.Size),
		FilledSize: filled,
		FillFees:   exchange.ParseNumber(o.FillFees),
		Status:     orderStatus(o, filled),
		DoneReason: o.DoneReason,
		CreatedAt:  o.CreatedAt,
		DoneAt:     o.DoneAt,
	}
}

// orderStatus maps a Coinbase order onto the local lifecycle.
func orderStatus(o cbOrder, filled float64) domain.OrderStatus {
	if o.Settled {
		return domain.OrderSettled
	}
	switch o.Status {
	case "open", "pending", "received", "active":
		return domain.OrderOpen
	case "done":
		switch o.DoneReason {
		case "filled":
			return domain.OrderFilled
		case "canceled":
			return domain.OrderClosed
		}
		if filled > 0 {
			return domain.OrderFilled
		}
		return domain.OrderUnknown
	case "rejected":
		return domain.OrderFailed
	}
	return domain.OrderUnknown
}
