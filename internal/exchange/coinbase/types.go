package coinbase

import (
	"fmt"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

type cbAccount struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Hold      string `json:"hold"`
	Available string `json:"available"`
}

type cbProduct struct {
	ID            string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Status        string `json:"status"`
	TradingDis    bool   `json:"trading_disabled"`
}

type cbTicker struct {
	Price  string    `json:"price"`
	Bid    string    `json:"bid"`
	Ask    string    `json:"ask"`
	Volume string    `json:"volume"`
	Time   time.Time `json:"time"`
}

type cbOrder struct {
	ID         string     `json:"id"`
	Price      string     `json:"price"`
	Size       string     `json:"size"`
	ProductID  string     `json:"product_id"`
	Side       string     `json:"side"`
	Type       string     `json:"type"`
	CreatedAt  time.Time  `json:"created_at"`
	DoneAt     *time.Time `json:"done_at"`
	DoneReason string     `json:"done_reason"`
	FillFees   string     `json:"fill_fees"`
	FilledSize string     `json:"filled_size"`
	Status     string     `json:"status"`
	Settled    bool       `json:"settled"`
}

type cbLimitOrder struct {
	Type        string `json:"type"`
	ClientOID   string `json:"client_oid"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	ProductID   string `json:"product_id"`
	TimeInForce string `json:"time_in_force"`
	STP         string `json:"stp"`
}

type cbBook struct {
	Sequence int64     `json:"sequence"`
	Bids     []cbLevel `json:"bids"`
	Asks     []cbLevel `json:"asks"`
}

// cbLevel is a [price, size, ...] array whose trailing entries vary by
// endpoint.
type cbLevel struct {
	Price string
	Size  string
}

func (l *cbLevel) UnmarshalJSON(b []byte) error {
	var arr []any
	if err := sonnet.Unmarshal(b, &arr); err != nil {
		return err
	}
	if len(arr) < 2 {
		return fmt.Errorf("coinbase: level has %d entries", len(arr))
	}
	l.Price = fmt.Sprint(arr[0])
	l.Size = fmt.Sprint(arr[1])
	return nil
}

type cbError struct {
	Message string `json:"message"`
}

// wsMessage covers every feed message the stream reads.
type wsMessage struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Bids      []cbLevel   `json:"bids"`
	Asks      []cbLevel   `json:"asks"`
	Changes   [][3]string `json:"changes"`
	Message   string      `json:"message"`
	Reason    string      `json:"reason"`
}

type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}
