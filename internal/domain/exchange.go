package domain

import (
	"strings"
	"time"
)

// ExchangeID identifies a supported exchange. Values match the ids stored in
// the exchanges table.
type ExchangeID int

const (
	ExchangeCoinbase  ExchangeID = 1
	ExchangeCoinex    ExchangeID = 2
	ExchangeCexio     ExchangeID = 3
	ExchangeBittrex   ExchangeID = 4
	ExchangeRobinhood ExchangeID = 5
	ExchangeAltilly   ExchangeID = 6
	ExchangeBitso     ExchangeID = 7
	ExchangeKuCoin    ExchangeID = 8
	ExchangeBitforex  ExchangeID = 9
	ExchangeBitflyer  ExchangeID = 10
	ExchangeFatbtc    ExchangeID = 11
	ExchangeBilaxy    ExchangeID = 12
	ExchangeIdcm      ExchangeID = 13
	ExchangeBinance   ExchangeID = 14
)

var exchangeNames = map[ExchangeID]string{
	ExchangeCoinbase:  "coinbase",
	ExchangeCoinex:    "coinex",
	ExchangeCexio:     "cexio",
	ExchangeBittrex:   "bittrex",
	ExchangeRobinhood: "robinhood",
	ExchangeAltilly:   "altilly",
	ExchangeBitso:     "bitso",
	ExchangeKuCoin:    "kucoin",
	ExchangeBitforex:  "bitforex",
	ExchangeBitflyer:  "bitflyer",
	ExchangeFatbtc:    "fatbtc",
	ExchangeBilaxy:    "bilaxy",
	ExchangeIdcm:      "idcm",
	ExchangeBinance:   "binance",
}

func (id ExchangeID) String() string {
	if n, ok := exchangeNames[id]; ok {
		return n
	}
	return "unknown"
}

// ParseExchangeID resolves a lower-case exchange name to its id.
func ParseExchangeID(name string) (ExchangeID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, n := range exchangeNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// ExchangeLock is the exchange-wide trade mutex stored on the exchange row.
type ExchangeLock int

const (
	ExchangeUnlocked   ExchangeLock = 0
	ExchangeLockTarbit ExchangeLock = 1
	ExchangeLockArbit  ExchangeLock = 2
)

// LocalizeType selects how live books are maintained for an exchange.
type LocalizeType int

const (
	LocalizeWebSocket LocalizeType = 1
	LocalizeRestAPI   LocalizeType = 2
)

// Exchange is the persisted configuration and lock state of one venue.
type Exchange struct {
	ID            ExchangeID
	Name          string
	Active        bool
	Funds         float64 // trading funds allocated to triangles
	FundsCurrency string  // currency the funds are denominated in, e.g. USD
	Lock          ExchangeLock
	LocalizeType  LocalizeType
	Sandbox       bool
	UpdatedAt     time.Time
}

// ProductStatus marks whether a pair is currently tradable.
type ProductStatus int

const (
	ProductOnline  ProductStatus = 1
	ProductOffline ProductStatus = 2
)

// Product is one tradable currency pair on an exchange.
type Product struct {
	ID                int64
	ExchangeID        ExchangeID
	ExtID             string // pair in the exchange's own format
	BaseCurrency      string
	QuoteCurrency     string
	Volume24h         float64
	Volume24hStable   float64 // -1 when no conversion was available
	Status            ProductStatus
	InsufficientFills int
	UpdatedAt         time.Time
}

// Pair returns the canonical BASE-QUOTE form.
func (p Product) Pair() string {
	return MakePair(p.BaseCurrency, p.QuoteCurrency)
}

// MakePair joins base and quote in canonical form.
func MakePair(base, quote string) string {
	return strings.ToUpper(base) + "-" + strings.ToUpper(quote)
}

// SplitPair returns the base and quote of a canonical pair.
func SplitPair(pair string) (base, quote string) {
	b, q, ok := strings.Cut(pair, "-")
	if !ok {
		return pair, ""
	}
	return b, q
}

// Ticker is the last trade and top of book for a pair.
type Ticker struct {
	Pair   string
	Price  float64
	Bid    float64
	Ask    float64
	Volume float64
	Time   time.Time
}

// Account is a single currency balance held at an exchange.
type Account struct {
	Currency  string
	Balance   float64
	Hold      float64
	Available float64
}

// CurrencyConvert is a stored conversion rate from base into quote.
type CurrencyConvert struct {
	BaseCurrency  string
	QuoteCurrency string
	Rate          float64
	Source        string
	UpdatedAt     time.Time
}

// StableRate is the resolved rate used to express a currency in a stable unit.
type StableRate struct {
	BaseCurrency  string
	QuoteCurrency string
	Rate          float64
	Source        string
}
