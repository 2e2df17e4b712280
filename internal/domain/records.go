package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Request is the durable record of every accepted user action (place or
// cancel). Its Seq is assigned at insertion time and, for a place, becomes
// the seq of the order it admitted.
type Request struct {
	Seq       int64           `json:"seq"`
	AccountID int64           `json:"account_id"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// TradeRecord is the durable record of one executed Deal.
type TradeRecord struct {
	Ack       int64           `json:"ack"`
	Code      string          `json:"code"`
	BuyerID   int64           `json:"buyer_id"`
	SellerID  int64           `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// Message is one outbound event for one account.
type Message struct {
	Ack        int64           `json:"ack"`
	AccountID  int64           `json:"account_id"`
	EventType  string          `json:"event_type"`
	Data       json.RawMessage `json:"data"`
	HappenedAt time.Time       `json:"happened_at"`
}

// CancelBody is the JSON shape recorded in a Request.Body when the request
// was a cancel, matching route.rs's `{"cancel": {"seq", "quantity"}}`.
type CancelBody struct {
	Cancel struct {
		Seq      int64  `json:"seq"`
		Quantity *int64 `json:"quantity"`
	} `json:"cancel"`
}
