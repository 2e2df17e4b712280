// Package domain holds the plain data types shared by the book, the
// security worker and the durable store. None of it performs I/O.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Dir is the side of an order or a fill.
type Dir int

const (
	Buy Dir = iota
	Sell
)

func (d Dir) String() string {
	if d == Buy {
		return "Buy"
	}
	return "Sell"
}

func (d Dir) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Dir) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Buy":
		*d = Buy
	case "Sell":
		*d = Sell
	default:
		return fmt.Errorf("domain: unknown direction %q", s)
	}
	return nil
}

// Order is an intent to buy or sell a given instrument. The tuple
// (Code, Dir, Price, Seq) is immutable once the order is placed; the
// remaining quantity resting on the book is tracked separately, inside
// the Vol that holds the order (see orderbook.Vol), not on this struct.
type Order struct {
	Seq      int64           `json:"seq"`
	Code     string          `json:"code"`
	Dir      Dir             `json:"dir"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}
