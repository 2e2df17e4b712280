// Package registry implements the lazy instrument-code to Security mapping
// of §4.6: the single dispatch point the transport layer uses, and the home
// of the trade-callback closure that glues the pure matching engine to
// durability and notification.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/security"
	"secmatch/internal/store"
)

// Registry is a concurrent map from instrument code to Security, supporting
// concurrent lookup and first-insert-wins creation (§5).
type Registry struct {
	mu    sync.Mutex
	table map[string]*security.Security

	phase       *phase.Controller
	store       store.Store
	out         *outbox.Outbox
	pool        *compute.Pool
	log         zerolog.Logger
	ringSize    int
	settleDelay time.Duration
}

// New returns an empty registry bound to the shared phase controller,
// durable store, outbox and compute pool every created Security will
// share. ringSize and settleDelay are forwarded to security.New for every
// Security this registry creates; pass 0 for either to use its default.
func New(p *phase.Controller, st store.Store, out *outbox.Outbox, pool *compute.Pool, log zerolog.Logger, ringSize int, settleDelay time.Duration) *Registry {
	return &Registry{
		table:       make(map[string]*security.Security),
		phase:       p,
		store:       st,
		out:         out,
		pool:        pool,
		log:         log,
		ringSize:    ringSize,
		settleDelay: settleDelay,
	}
}

// EntryOrDefault returns the existing Security for code, or creates one
// bound to the registry's phase controller and trade-sink closure.
func (r *Registry) EntryOrDefault(ctx context.Context, code string) *security.Security {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sec, ok := r.table[code]; ok {
		return sec
	}
	sec := security.New(ctx, code, r.phase, r.tradeSink, r.pool, r.log, r.ringSize, r.settleDelay)
	r.table[code] = sec
	return sec
}

// Lookup returns the Security for code without creating one.
func (r *Registry) Lookup(code string) (*security.Security, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sec, ok := r.table[code]
	return sec, ok
}

// All returns a snapshot of every registered (code, Security) pair, used by
// the Call->Suspense fan-out (§4.3) to run every book's auction.
func (r *Registry) All() map[string]*security.Security {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*security.Security, len(r.table))
	for k, v := range r.table {
		out[k] = v
	}
	return out
}

// tradeSink is the trade-callback closure of §4.6: it durably executes the
// deal, then sends one "trade" message to each of the buyer and seller.
func (r *Registry) tradeSink(ctx context.Context, code string, deal domain.Deal) error {
	rec, err := r.store.ExecuteDeal(ctx, code, deal)
	if err != nil {
		return fmt.Errorf("registry: execute deal: %w", err)
	}
	return r.notifyTrade(ctx, code, deal.Value, rec)
}

// notifyTrade builds and sends the two-sided trade message pair described
// by state.rs's msg_deal: one message per participant, each carrying that
// side's own seq and direction.
func (r *Registry) notifyTrade(ctx context.Context, code string, value domain.DealValue, rec domain.TradeRecord) error {
	buyerMsg, err := tradeMessage(code, domain.Buy, value.SeqBid, rec)
	if err != nil {
		return err
	}
	sellerMsg, err := tradeMessage(code, domain.Sell, value.SeqOffer, rec)
	if err != nil {
		return err
	}
	if err := r.out.Send(ctx, rec.BuyerID, buyerMsg); err != nil {
		return fmt.Errorf("registry: notify buyer: %w", err)
	}
	if err := r.out.Send(ctx, rec.SellerID, sellerMsg); err != nil {
		return fmt.Errorf("registry: notify seller: %w", err)
	}
	return nil
}

func tradeMessage(code string, dir domain.Dir, seq int64, rec domain.TradeRecord) (domain.Message, error) {
	payload := struct {
		Seq      int64           `json:"seq"`
		Code     string          `json:"code"`
		Dir      domain.Dir      `json:"dir"`
		Price    json.RawMessage `json:"price"`
		Quantity int64           `json:"quantity"`
	}{Seq: seq, Code: code, Dir: dir, Quantity: rec.Quantity}
	priceJSON, err := rec.Price.MarshalJSON()
	if err != nil {
		return domain.Message{}, fmt.Errorf("registry: marshal trade price: %w", err)
	}
	payload.Price = priceJSON

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Message{}, fmt.Errorf("registry: marshal trade message: %w", err)
	}
	accountID := rec.BuyerID
	if dir == domain.Sell {
		accountID = rec.SellerID
	}
	return domain.Message{
		AccountID:  accountID,
		EventType:  "trade",
		Data:       data,
		HappenedAt: rec.CreatedAt,
	}, nil
}

// RunCallAuction executes the Call->Suspense side effect of §4.3: for
// every registered Security, run calc() and, for each resulting Deal, the
// same durable-execute-then-notify path as continuous trades.
//
// ctx only governs the sweep itself (security.Calc's settle wait and the
// matching compute). Once Calc reports a committed DealCall, settling it is
// done against context.Background() rather than ctx: Calc may still return
// ok==true after ctx was cancelled (see its doc comment), and by that point
// the book's in-memory quantities are already gone, so the durable write
// and notification must not be skipped just because ctx (or a sibling
// errgroup member) was cancelled in the meantime.
func (r *Registry) RunCallAuction(ctx context.Context, g callGroup) {
	for code, sec := range r.All() {
		code, sec := code, sec
		g.Go(func() error {
			call, ok := sec.Calc(ctx)
			if !ok {
				return nil
			}
			for _, v := range call.Values {
				deal := domain.Deal{Price: call.Price, Value: v}
				if err := r.tradeSink(context.Background(), code, deal); err != nil {
					r.log.Error().Err(err).Str("code", code).Msg("failed to settle call auction deal")
				}
			}
			return nil
		})
	}
}

// callGroup is the minimal surface RunCallAuction needs from an
// errgroup.Group, so this package does not have to import it directly.
type callGroup interface {
	Go(func() error)
}
