// Package binance implements the exchange adapter and diff-depth book stream
// for Binance spot on top of go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/exchange"
)

const (
	codeUnknownOrder = -2013
	codeCancelReject = -2011

	defaultTakerFee = 0.001
)

// quoteAssets is consulted when a symbol has not been seen in exchange info.
var quoteAssets = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// Config configures the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	BaseURL    string // empty for the production API
	DepthLimit int
	Precision  int32
	TakerFee   float64 // flat rate, 0 for the default tier
	// APISlippage is subtracted from estimated buy fills. Binance charges
	// fees in the quote asset, so it is normally 0.
	APISlippage float64
	// Testnet points REST and websocket traffic at the spot testnet. The
	// switch is process wide in go-binance.
	Testnet bool
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{DepthLimit: 100, Precision: 8, TakerFee: defaultTakerFee}
}

// Client is the REST side of the Binance adapter.
type Client struct {
	api     *gobinance.Client
	cfg     Config
	limiter domain.RateLimiter
	logger  *slog.Logger

	mu      sync.RWMutex
	symbols map[string]string // BTCUSDT -> BTC-USDT
}

var _ domain.ExchangeAdapter = (*Client)(nil)

// NewClient creates a Binance REST client. limiter may be nil; book fetches
// are admitted by the caller, every other call is admitted here.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 100
	}
	if cfg.Precision <= 0 {
		cfg.Precision = 8
	}
	if cfg.TakerFee <= 0 {
		cfg.TakerFee = defaultTakerFee
	}
	if cfg.Testnet {
		gobinance.UseTestnet = true
	}
	api := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     api,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "binance")),
		symbols: make(map[string]string),
	}
}

func (c *Client) ID() domain.ExchangeID { return domain.ExchangeBinance }

func (c *Client) Tweaks() domain.AdapterTweaks {
	return domain.AdapterTweaks{
		MarketDepthLevels: c.cfg.DepthLimit,
		NewOrderQueryWait: time.Second,
		OrderbookBatch:    5,
		TakerFeeRate:      c.cfg.TakerFee,
		MakerFeeRate:      c.cfg.TakerFee,
		APISlippage:       c.cfg.APISlippage,
	}
}

// ToLocalPair turns BTC-USDT into BTCUSDT.
func (c *Client) ToLocalPair(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "-", ""))
}

// ToCanonicalPair turns BTCUSDT into BTC-USDT, using exchange info when it
// has been loaded and a known quote suffix otherwise.
func (c *Client) ToCanonicalPair(local string) string {
	local = strings.ToUpper(local)
	c.mu.RLock()
	pair, ok := c.symbols[local]
	c.mu.RUnlock()
	if ok {
		return pair
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(local, q) && len(local) > len(q) {
			return domain.MakePair(strings.TrimSuffix(local, q), q)
		}
	}
	return local
}

// TakerFee is a flat rate. Buys pay in the base currency, sells in the quote.
func (c *Client) TakerFee(t domain.OrderType, _ string, size, price float64) float64 {
	if t == domain.OrderLimitBuy {
		return size * c.cfg.TakerFee
	}
	return size * price * c.cfg.TakerFee
}

func (c *Client) WithdrawalFee(float64) float64 { return 0 }

func (c *Client) admit(ctx context.Context, token string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Admit(ctx, token)
}

func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := c.admit(ctx, "accounts"); err != nil {
		return nil, err
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free := exchange.ParseNumber(b.Free)
		locked := exchange.ParseNumber(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, domain.Account{
			Currency:  b.Asset,
			Balance:   free + locked,
			Hold:      locked,
			Available: free,
		})
	}
	return out, nil
}

func (c *Client) GetOrderByID(ctx context.Context, extID, pair string) (domain.ExchangeOrder, error) {
	id, err := strconv.ParseInt(extID, 10, 64)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: order id %q: %w", extID, domain.ErrInvalidOrder)
	}
	if err := c.admit(ctx, "order"); err != nil {
		return domain.ExchangeOrder{}, err
	}
	o, err := c.api.NewGetOrderService().Symbol(c.ToLocalPair(pair)).OrderID(id).Do(ctx)
	if err != nil {
		if apiCode(err) == codeUnknownOrder {
			return domain.ExchangeOrder{}, fmt.Errorf("binance: get order %s: %w", extID, domain.ErrNotFound)
		}
		return domain.ExchangeOrder{}, fmt.Errorf("binance: get order %s: %w", extID, err)
	}
	return c.toExchangeOrder(o), nil
}

// GetAllOrders returns the open orders across every symbol.
func (c *Client) GetAllOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	if err := c.admit(ctx, "orders"); err != nil {
		return nil, err
	}
	orders, err := c.api.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get orders: %w", err)
	}
	out := make([]domain.ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, c.toExchangeOrder(o))
	}
	return out, nil
}

// GetOrderbook fetches a REST snapshot. LastUpdateID becomes the sequence the
// diff stream continues from.
func (c *Client) GetOrderbook(ctx context.Context, pair string) (domain.Orderbook, error) {
	res, err := c.api.NewDepthService().Symbol(c.ToLocalPair(pair)).Limit(c.cfg.DepthLimit).Do(ctx)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("binance: get orderbook %s: %w", pair, err)
	}
	book := domain.Orderbook{
		ExchangeID: domain.ExchangeBinance,
		Pair:       c.ToCanonicalPair(c.ToLocalPair(pair)),
		Sequence:   res.LastUpdateID,
		Asks:       make([]domain.Level, 0, len(res.Asks)),
		Bids:       make([]domain.Level, 0, len(res.Bids)),
		FetchedAt:  time.Now(),
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, domain.Level{Price: exchange.ParseNumber(a.Price), Size: exchange.ParseNumber(a.Quantity)})
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, domain.Level{Price: exchange.ParseNumber(b.Price), Size: exchange.ParseNumber(b.Quantity)})
	}
	book.SortLevels()
	return book, nil
}

func (c *Client) GetProductTicker(ctx context.Context, pair string) (domain.Ticker, error) {
	if err := c.admit(ctx, "product-ticker"); err != nil {
		return domain.Ticker{}, err
	}
	stats, err := c.api.NewListPriceChangeStatsService().Symbol(c.ToLocalPair(pair)).Do(ctx)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: get ticker %s: %w", pair, err)
	}
	if len(stats) == 0 {
		return domain.Ticker{}, fmt.Errorf("binance: get ticker %s: %w", pair, domain.ErrNotFound)
	}
	s := stats[0]
	return domain.Ticker{
		Pair:   pair,
		Price:  exchange.ParseNumber(s.LastPrice),
		Bid:    exchange.ParseNumber(s.BidPrice),
		Ask:    exchange.ParseNumber(s.AskPrice),
		Volume: exchange.ParseNumber(s.Volume),
		Time:   time.UnixMilli(s.CloseTime),
	}, nil
}

// GetAllProducts lists every symbol and remembers its canonical pair.
func (c *Client) GetAllProducts(ctx context.Context) ([]domain.Product, error) {
	if err := c.admit(ctx, "products"); err != nil {
		return nil, err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get products: %w", err)
	}
	out := make([]domain.Product, 0, len(info.Symbols))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		status := domain.ProductOffline
		if s.Status == "TRADING" {
			status = domain.ProductOnline
		}
		p := domain.Product{
			ExchangeID:      domain.ExchangeBinance,
			ExtID:           s.Symbol,
			BaseCurrency:    strings.ToUpper(s.BaseAsset),
			QuoteCurrency:   strings.ToUpper(s.QuoteAsset),
			Volume24hStable: -1,
			Status:          status,
		}
		c.symbols[s.Symbol] = p.Pair()
		out = append(out, p)
	}
	return out, nil
}

// LimitOrder places a good-till-cancelled limit order with localID as the
// client order id.
func (c *Client) LimitOrder(ctx context.Context, t domain.OrderType, localID, pair string, size, price float64) (domain.ExchangeOrder, error) {
	if err := c.admit(ctx, "limit-order"); err != nil {
		return domain.ExchangeOrder{}, err
	}
	side := gobinance.SideTypeSell
	if t == domain.OrderLimitBuy {
		side = gobinance.SideTypeBuy
	}
	res, err := c.api.NewCreateOrderService().
		Symbol(c.ToLocalPair(pair)).
		Side(side).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(exchange.FormatNumber(size, c.cfg.Precision)).
		Price(exchange.FormatNumber(price, c.cfg.Precision)).
		NewClientOrderID(localID).
		Do(ctx)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("binance: limit order %s %s: %w", side, pair, err)
	}

	executed := exchange.ParseNumber(res.ExecutedQuantity)
	fees := 0.0
	for _, f := range res.Fills {
		fees += exchange.ParseNumber(f.Commission)
	}
	return domain.ExchangeOrder{
		ID:         strconv.FormatInt(res.OrderID, 10),
		Pair:       pair,
		Side:       string(res.Side),
		Price:      fillPrice(res.Price, res.CummulativeQuoteQuantity, executed),
		Size:       exchange.ParseNumber(res.OrigQuantity),
		FilledSize: executed,
		FillFees:   fees,
		Status:     orderStatus(res.Status),
		CreatedAt:  time.UnixMilli(res.TransactTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, extID, pair string) error {
	id, err := strconv.ParseInt(extID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: order id %q: %w", extID, domain.ErrInvalidOrder)
	}
	if err := c.admit(ctx, "cancel-order"); err != nil {
		return err
	}
	if _, err := c.api.NewCancelOrderService().Symbol(c.ToLocalPair(pair)).OrderID(id).Do(ctx); err != nil {
		if code := apiCode(err); code == codeUnknownOrder || code == codeCancelReject {
			return fmt.Errorf("binance: cancel order %s: %w", extID, domain.ErrNotFound)
		}
		return fmt.Errorf("binance: cancel order %s: %w", extID, err)
	}
	return nil
}

func (c *Client) toExchangeOrder(o *gobinance.Order) domain.ExchangeOrder {
	executed := exchange.ParseNumber(o.ExecutedQuantity)
	pair := c.ToCanonicalPair(o.Symbol)
	price := fillPrice(o.Price, o.CummulativeQuoteQuantity, executed)
	out := domain.ExchangeOrder{
		ID:         strconv.FormatInt(o.OrderID, 10),
		Pair:       pair,
		Side:       string(o.Side),
		Price:      price,
		Size:       exchange.ParseNumber(o.OrigQuantity),
		FilledSize: executed,
		Status:     orderStatus(o.Status),
		CreatedAt:  time.UnixMilli(o.Time),
	}
	// order queries carry no commission; charge the taker rate
	if executed > 0 {
		typ := domain.OrderLimitSell
		if o.Side == gobinance.SideTypeBuy {
			typ = domain.OrderLimitBuy
		}
		out.FillFees = c.TakerFee(typ, pair, executed, price)
	}
	if out.Status.IsFilled() || out.Status.IsClosed() {
		done := time.UnixMilli(o.UpdateTime)
		out.DoneAt = &done
	}
	return out
}

// fillPrice is the average execution price once anything filled.
func fillPrice(limit, quoteQty string, executed float64) float64 {
	if executed > 0 {
		if q := exchange.ParseNumber(quoteQty); q > 0 {
			return q / executed
		}
	}
	return exchange.ParseNumber(limit)
}

func orderStatus(s gobinance.OrderStatusType) domain.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypeNew, gobinance.OrderStatusTypePartiallyFilled, gobinance.OrderStatusTypePendingCancel:
		return domain.OrderOpen
	case gobinance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired:
		return domain.OrderClosed
	case gobinance.OrderStatusTypeRejected:
		return domain.OrderFailed
	}
	return domain.OrderUnknown
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
