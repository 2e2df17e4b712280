// Package orderbook implements the in-memory, two-sided price ladder for a
// single instrument (§4.1 of SPEC_FULL.md). It is a pure data structure: no
// I/O, no locking, no goroutines. Callers (the security worker) are
// responsible for serializing access.
package orderbook

import (
	"github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"

	"secmatch/internal/domain"
)

func priceComparator(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

func seqComparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Vol is all resting orders at one price on one side of one book: an
// insertion-ordered (= arrival-ordered, since seq is monotonic) map of
// seq to remaining quantity, plus a cached sum kept in lockstep with it.
type Vol struct {
	prices *redblacktree.Tree[int64, int64]
	sum    int64
}

func newVol() *Vol {
	return &Vol{prices: redblacktree.NewWith[int64, int64](seqComparator)}
}

// Sum is the aggregate remaining quantity resting at this price level.
func (v *Vol) Sum() int64 { return v.sum }

// Book is the two-sided price ladder for one instrument.
type Book struct {
	bids      *redblacktree.Tree[decimal.Decimal, *Vol] // best = highest price
	offers    *redblacktree.Tree[decimal.Decimal, *Vol] // best = lowest price
	priceCall *decimal.Decimal
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{
		bids:   redblacktree.NewWith[decimal.Decimal, *Vol](priceComparator),
		offers: redblacktree.NewWith[decimal.Decimal, *Vol](priceComparator),
	}
}

func (b *Book) side(dir domain.Dir) *redblacktree.Tree[decimal.Decimal, *Vol] {
	if dir == domain.Buy {
		return b.bids
	}
	return b.offers
}

// Insert adds (seq -> quantity) to the price level on the order's side and
// price, creating the level if it does not already exist. Duplicate
// insertion of the same seq is a caller bug; it is not guarded against.
func (b *Book) Insert(o *domain.Order) {
	side := b.side(o.Dir)
	vol, found := side.Get(o.Price)
	if !found {
		vol = newVol()
		side.Put(o.Price, vol)
	}
	vol.sum += o.Quantity
	vol.prices.Put(o.Seq, o.Quantity)
}

// Remove deletes seq from its side/price level if present, collapsing the
// level if it empties out. It reports the quantity that was removed.
func (b *Book) Remove(o *domain.Order) (quantity int64, found bool) {
	side := b.side(o.Dir)
	vol, ok := side.Get(o.Price)
	if !ok {
		return 0, false
	}
	qty, ok := vol.prices.Get(o.Seq)
	if !ok {
		return 0, false
	}
	vol.prices.Remove(o.Seq)
	vol.sum -= qty
	if vol.sum == 0 {
		side.Remove(o.Price)
	}
	return qty, true
}

// PriceRule computes the clearing price of one cross given the best bid
// and best offer price.
type PriceRule func(bestBid, bestOffer decimal.Decimal) decimal.Decimal

// BidRests and OfferRests are the continuous-phase price rules: the
// aggressor pays the resting side's price. The caller picks BidRests or OfferRests according
// to which side the incoming order was on (see security.Security).
func BidRests(bestBid, bestOffer decimal.Decimal) decimal.Decimal   { return bestBid }
func OfferRests(bestBid, bestOffer decimal.Decimal) decimal.Decimal { return bestOffer }

// Midpoint is the call-auction price rule.
func Midpoint(bestBid, bestOffer decimal.Decimal) decimal.Decimal {
	return bestBid.Add(bestOffer).Div(decimal.NewFromInt(2))
}

// Matches attempts one cross. If the best bid price is at least the best
// offer price, it matches the two oldest (lowest seq) orders at those best
// prices for min(remaining_bid, remaining_offer), trims or removes both,
// collapses any level that empties out, and returns the resulting Deal.
// It returns found=false if no cross is currently possible.
func (b *Book) Matches(rule PriceRule) (deal domain.Deal, found bool) {
	bidNode := b.bids.Right() // highest price
	if bidNode == nil {
		return domain.Deal{}, false
	}
	offerNode := b.offers.Left() // lowest price
	if offerNode == nil {
		return domain.Deal{}, false
	}
	if bidNode.Key.LessThan(offerNode.Key) {
		return domain.Deal{}, false
	}

	bidVol := bidNode.Value
	offerVol := offerNode.Value

	bidSeqNode := bidVol.prices.Left()
	offerSeqNode := offerVol.prices.Left()
	if bidSeqNode == nil || offerSeqNode == nil {
		// No-empty-levels invariant means this cannot happen in practice.
		return domain.Deal{}, false
	}

	quantity := bidSeqNode.Value
	if offerSeqNode.Value < quantity {
		quantity = offerSeqNode.Value
	}
	price := rule(bidNode.Key, offerNode.Key)
	seqBid := bidSeqNode.Key
	seqOffer := offerSeqNode.Key

	remainBid := bidSeqNode.Value - quantity
	if remainBid == 0 {
		bidVol.prices.Remove(seqBid)
	} else {
		bidVol.prices.Put(seqBid, remainBid)
	}
	remainOffer := offerSeqNode.Value - quantity
	if remainOffer == 0 {
		offerVol.prices.Remove(seqOffer)
	} else {
		offerVol.prices.Put(seqOffer, remainOffer)
	}

	bidVol.sum -= quantity
	offerVol.sum -= quantity
	if bidVol.sum == 0 {
		b.bids.Remove(bidNode.Key)
	}
	if offerVol.sum == 0 {
		b.offers.Remove(offerNode.Key)
	}

	return domain.Deal{
		Price: price,
		Value: domain.DealValue{SeqBid: seqBid, SeqOffer: seqOffer, Quantity: quantity},
	}, true
}

// Calc repeatedly crosses at the midpoint rule until no more crosses exist,
// accumulating every Deal's value into one DealCall and recording the
// price of the *last* cross as PriceCall (see DESIGN.md open question i:
// this repository follows the source's "last midpoint wins" behaviour
// rather than inventing a single pre-computed equilibrium price).
func (b *Book) Calc() (domain.DealCall, bool) {
	var values []domain.DealValue
	var lastPrice decimal.Decimal
	any := false
	for {
		deal, ok := b.Matches(Midpoint)
		if !ok {
			break
		}
		values = append(values, deal.Value)
		lastPrice = deal.Price
		any = true
	}
	if !any {
		return domain.DealCall{}, false
	}
	b.priceCall = &lastPrice
	return domain.DealCall{Price: lastPrice, Values: values}, true
}

// PriceDepth is one row of a view() snapshot.
type PriceDepth struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Picture is a snapshot of per-price aggregate depth on both sides, plus
// the last call-auction clearing price if one has ever been recorded.
type Picture struct {
	Bids      []PriceDepth     `json:"bids"`
	Offers    []PriceDepth     `json:"offers"`
	PriceCall *decimal.Decimal `json:"price_call,omitempty"`
}

// View takes a snapshot of the book. Bids are ordered best-first (highest
// price first), offers best-first (lowest price first).
func (b *Book) View() Picture {
	pic := Picture{PriceCall: b.priceCall}
	bidKeys := b.bids.Keys()
	for i := len(bidKeys) - 1; i >= 0; i-- {
		vol, _ := b.bids.Get(bidKeys[i])
		pic.Bids = append(pic.Bids, PriceDepth{Price: bidKeys[i], Quantity: vol.Sum()})
	}
	for _, price := range b.offers.Keys() {
		vol, _ := b.offers.Get(price)
		pic.Offers = append(pic.Offers, PriceDepth{Price: price, Quantity: vol.Sum()})
	}
	return pic
}
