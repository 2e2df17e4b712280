// Package security implements the per-instrument serializing worker (§4.2):
// it owns one Book and one order-arrival queue, applies continuous matching
// when the phase allows it, and broadcasts book/trade deltas to
// subscribers. External callers never touch the Book directly.
package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"secmatch/internal/broadcast"
	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/orderbook"
	"secmatch/internal/phase"
)

// DefaultRingSize is the capacity of the bc_order/bc_deal broadcast rings
// used when New is called with ringSize <= 0.
const DefaultRingSize = 1024

// DefaultSettleDelay is how long Calc waits before checking for idleness,
// to absorb any placements already in flight when the call auction fires,
// used when New is called with settleDelay <= 0.
const DefaultSettleDelay = 3 * time.Second

// OrderDelta is one entry broadcast on bc_order: a signed quantity change
// at a price on a side. A negative Quantity signals a cancellation.
type OrderDelta struct {
	Dir      domain.Dir      `json:"dir"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// DealEvent is one entry broadcast on bc_deal. Dir is nil for a call-auction
// aggregate (the "None" tag in §4.2's calc()), and set to the aggressor's
// direction for a continuous cross.
type DealEvent struct {
	Dir      *domain.Dir     `json:"dir,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// StoreFunc durably persists a newly placed order before it becomes
// eligible to match. It receives the order's seq (already assigned by the
// request journal that created it).
type StoreFunc func(ctx context.Context, order *domain.Order) error

// TradeFunc durably records one executed Deal (decrementing the resting
// orders, inserting a trade row, notifying the two participants). It is
// invoked once per Deal, continuous or call.
type TradeFunc func(ctx context.Context, code string, deal domain.Deal) error

// CancelFunc journals a cancel's outcome. quantity is nil if the target
// seq was not found anywhere (neither pending nor resting).
type CancelFunc func(ctx context.Context, quantity *int64) error

// Security is the single logical owner of one instrument's Book and
// pending-order queue.
type Security struct {
	code        string
	phase       *phase.Controller
	trade       TradeFunc
	pool        *compute.Pool
	log         zerolog.Logger
	settleDelay time.Duration

	bookMu sync.Mutex
	book   *orderbook.Book

	mu    sync.Mutex // guards queue and idle, paired with cond
	cond  *sync.Cond
	queue []*domain.Order
	idle  bool

	bcOrder *broadcast.Ring[OrderDelta]
	bcDeal  *broadcast.Ring[DealEvent]

	wake chan struct{} // closed on Stop to unblock the run loop
	once sync.Once
}

// New creates a Security bound to the given phase controller and trade
// sink, and starts its serializing worker goroutine. ringSize and
// settleDelay fall back to DefaultRingSize/DefaultSettleDelay when <= 0.
func New(ctx context.Context, code string, p *phase.Controller, trade TradeFunc, pool *compute.Pool, log zerolog.Logger, ringSize int, settleDelay time.Duration) *Security {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	s := &Security{
		code:        code,
		phase:       p,
		trade:       trade,
		pool:        pool,
		log:         log.With().Str("code", code).Logger(),
		book:        orderbook.NewBook(),
		idle:        true,
		bcOrder:     broadcast.NewRing[OrderDelta](ringSize),
		bcDeal:      broadcast.NewRing[DealEvent](ringSize),
		wake:        make(chan struct{}),
		settleDelay: settleDelay,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run(ctx)
	return s
}

// Code returns the instrument this Security serializes.
func (s *Security) Code() string { return s.code }

// SubscribeOrders returns a live feed of book deltas (§6's "order" event).
func (s *Security) SubscribeOrders() *broadcast.Subscriber[OrderDelta] { return s.bcOrder.Subscribe() }

// SubscribeDeals returns a live feed of trades (§6's "trade" event).
func (s *Security) SubscribeDeals() *broadcast.Subscriber[DealEvent] { return s.bcDeal.Subscribe() }

// View snapshots the current book depth.
func (s *Security) View() orderbook.Picture {
	s.bookMu.Lock()
	defer s.bookMu.Unlock()
	return s.book.View()
}

// Stop tears down the worker goroutine. Safe to call multiple times.
func (s *Security) Stop() {
	s.once.Do(func() {
		close(s.wake)
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
		s.bcOrder.Close()
		s.bcDeal.Close()
	})
}

// run is the control loop described in §4.2: wait for work, apply it to
// the book, and continuously match while the phase allows it.
func (s *Security) run(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			select {
			case <-s.wake:
				s.mu.Unlock()
				return
			default:
			}
			s.cond.Wait()
		}
		select {
		case <-s.wake:
			s.mu.Unlock()
			return
		default:
		}
		order := s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.idle = true
			s.cond.Broadcast()
		}
		s.mu.Unlock()

		s.applyAndMatch(ctx, order)
	}
}

func (s *Security) applyAndMatch(ctx context.Context, order *domain.Order) {
	s.bookMu.Lock()
	s.book.Insert(order)
	s.bookMu.Unlock()
	s.bcOrder.Publish(OrderDelta{Dir: order.Dir, Price: order.Price, Quantity: order.Quantity})

	rule := orderbook.OfferRests
	if order.Dir == domain.Sell {
		rule = orderbook.BidRests
	}

	for s.phase.Current().MatchesContinuously() {
		s.bookMu.Lock()
		deal, ok := s.book.Matches(rule)
		s.bookMu.Unlock()
		if !ok {
			break
		}
		if err := s.trade(ctx, s.code, deal); err != nil {
			s.log.Error().Err(err).Int64("seq_bid", deal.Value.SeqBid).Int64("seq_offer", deal.Value.SeqOffer).
				Msg("failed to durably record continuous trade")
			continue
		}
		dir := order.Dir
		s.bcDeal.Publish(DealEvent{Dir: &dir, Price: deal.Price, Quantity: deal.Value.Quantity})
	}
}

// Place enqueues a newly admitted order. Under the queue lock it first
// awaits store(order), the durable write that must complete before the
// order is eligible to match; two concurrent Place calls are totally
// ordered by acquisition of this lock.
func (s *Security) Place(ctx context.Context, order *domain.Order, store StoreFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store(ctx, order); err != nil {
		return fmt.Errorf("security: store order: %w", err)
	}
	s.queue = append(s.queue, order)
	s.idle = false
	s.cond.Broadcast()
	return nil
}

// Cancel removes order from wherever it currently is: the pending queue
// (not yet applied to the book), the book itself, or neither. cancelFn is
// invoked with the removed quantity (nil if the order was not found), so
// the caller can journal the outcome and notify.
func (s *Security) Cancel(ctx context.Context, order *domain.Order, cancelFn CancelFunc) error {
	s.mu.Lock()
	var quantity *int64
	for i, pending := range s.queue {
		if pending.Seq == order.Seq {
			q := pending.Quantity
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			quantity = &q
			if len(s.queue) == 0 {
				s.idle = true
				s.cond.Broadcast()
			}
			break
		}
	}
	s.mu.Unlock()

	if quantity == nil {
		s.bookMu.Lock()
		removed, found := s.book.Remove(order)
		s.bookMu.Unlock()
		if found {
			quantity = &removed
			s.bcOrder.Publish(OrderDelta{Dir: order.Dir, Price: order.Price, Quantity: -removed})
		}
	}

	if err := cancelFn(ctx, quantity); err != nil {
		return fmt.Errorf("security: journal cancel: %w", err)
	}
	return nil
}

// Push seeds the book directly, bypassing the queue and persistence. Used
// only by the recovery loader to rehydrate from durable storage.
func (s *Security) Push(order *domain.Order) {
	s.bookMu.Lock()
	defer s.bookMu.Unlock()
	s.book.Insert(order)
}

// Calc runs the call-auction batch match: it waits s.settleDelay to absorb
// any in-flight placements, waits for the queue to fully drain, then takes
// exclusive ownership of the book and runs Book.Calc on the compute pool.
func (s *Security) Calc(ctx context.Context) (domain.DealCall, bool) {
	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return domain.DealCall{}, false
	}

	s.mu.Lock()
	for !s.idle {
		s.cond.Wait()
	}
	s.mu.Unlock()

	var call domain.DealCall
	var ok bool
	err := s.pool.Run(ctx, func() {
		s.bookMu.Lock()
		defer s.bookMu.Unlock()
		call, ok = s.book.Calc()
	})
	// pool.Run only ever returns an error (ctx.Err()) either before the
	// sweep started, in which case ok is false and there is nothing to
	// settle, or after Book.Calc has already run to completion and
	// committed its crosses to the book. In the latter case the crosses
	// must still be durably settled: the book's in-memory state has
	// already moved, so treating this as a no-op would silently lose
	// quantity (Testable Property 2).
	if err != nil {
		s.log.Warn().Err(err).Bool("committed", ok).Msg("call auction context cancelled; settling any already-committed crosses")
	}
	if ok {
		s.bcDeal.Publish(DealEvent{Dir: nil, Price: call.Price, Quantity: call.TotalQuantity()})
	}
	return call, ok
}
