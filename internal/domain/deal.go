package domain

import "github.com/shopspring/decimal"

// DealValue is the seq/quantity payload of one executed match, independent
// of the price it cleared at (the Book fills this in per §4.1's matches).
type DealValue struct {
	SeqBid   int64 `json:"seq_bid"`
	SeqOffer int64 `json:"seq_offer"`
	Quantity int64 `json:"quantity"`
}

// Deal is one executed match: a DealValue plus the price it cleared at.
type Deal struct {
	Price decimal.Decimal `json:"price"`
	Value DealValue       `json:"value"`
}

// DealCall is a batch of Deals produced by one call-auction sweep, all
// attributed to the final cross's price (see DESIGN.md open question i for
// the chosen resolution).
type DealCall struct {
	Price  decimal.Decimal `json:"price"`
	Values []DealValue     `json:"values"`
}

// TotalQuantity sums the quantity of every value in the batch, used for the
// aggregate call-auction deal event broadcast on bc_deal.
func (c DealCall) TotalQuantity() int64 {
	var total int64
	for _, v := range c.Values {
		total += v.Quantity
	}
	return total
}
