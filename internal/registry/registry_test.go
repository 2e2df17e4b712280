package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store, *outbox.Outbox) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	require.NoError(t, db.Create(&store.Account{ID: 1, Pwd: "x", Name: "buyer"}).Error)
	require.NoError(t, db.Create(&store.Account{ID: 2, Pwd: "x", Name: "seller"}).Error)

	out := outbox.New(st)
	p := phase.NewController(domain.Continuous)
	reg := New(p, st, out, compute.NewPool(2), zerolog.Nop(), 0, time.Millisecond)
	return reg, st, out
}

// TestTradeSinkNotifiesBothSides exercises §4.6's tradeSink end to end: a
// continuous cross durably executes and each side receives a "trade"
// message carrying its own seq.
func TestTradeSinkNotifiesBothSides(t *testing.T) {
	reg, st, out := newTestRegistry(t)
	ctx := context.Background()

	buyerSeq, err := st.RecordRequest(ctx, 1, json.RawMessage(`{}`))
	require.NoError(t, err)
	sellerSeq, err := st.RecordRequest(ctx, 2, json.RawMessage(`{}`))
	require.NoError(t, err)

	bid := &domain.Order{Seq: buyerSeq, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(100), Quantity: 5}
	offer := &domain.Order{Seq: sellerSeq, Code: "X", Dir: domain.Sell, Price: decimal.NewFromInt(100), Quantity: 5}
	require.NoError(t, st.RecordOrder(ctx, bid))
	require.NoError(t, st.RecordOrder(ctx, offer))

	var buyerLive, sellerLive recordingLive
	out.Online(1, &buyerLive)
	out.Online(2, &sellerLive)

	deal := domain.Deal{
		Price: decimal.NewFromInt(100),
		Value: domain.DealValue{SeqBid: buyerSeq, SeqOffer: sellerSeq, Quantity: 5},
	}
	require.NoError(t, reg.tradeSink(ctx, "X", deal))

	require.Len(t, buyerLive.got, 1)
	require.Len(t, sellerLive.got, 1)

	var buyerPayload struct {
		Seq int64      `json:"seq"`
		Dir domain.Dir `json:"dir"`
	}
	require.NoError(t, json.Unmarshal(buyerLive.got[0].Data, &buyerPayload))
	require.Equal(t, buyerSeq, buyerPayload.Seq)
	require.Equal(t, domain.Buy, buyerPayload.Dir)

	var sellerPayload struct {
		Seq int64      `json:"seq"`
		Dir domain.Dir `json:"dir"`
	}
	require.NoError(t, json.Unmarshal(sellerLive.got[0].Data, &sellerPayload))
	require.Equal(t, sellerSeq, sellerPayload.Seq)
	require.Equal(t, domain.Sell, sellerPayload.Dir)
}

// TestRunCallAuctionSettlesEveryRegisteredSecurity exercises §4.3's
// Call->Suspense fan-out: every registered instrument's Calc runs
// concurrently and any resulting deals settle through tradeSink.
func TestRunCallAuctionSettlesEveryRegisteredSecurity(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()

	buyerSeq, err := st.RecordRequest(ctx, 1, json.RawMessage(`{}`))
	require.NoError(t, err)
	sellerSeq, err := st.RecordRequest(ctx, 2, json.RawMessage(`{}`))
	require.NoError(t, err)

	// Call phase: the crossing orders rest on the book until the auction.
	reg.phase.Set(domain.Call)
	sec := reg.EntryOrDefault(ctx, "Y")
	require.NoError(t, sec.Place(ctx, &domain.Order{Seq: buyerSeq, Code: "Y", Dir: domain.Buy, Price: decimal.NewFromInt(102), Quantity: 3},
		func(ctx context.Context, o *domain.Order) error { return st.RecordOrder(ctx, o) }))
	require.NoError(t, sec.Place(ctx, &domain.Order{Seq: sellerSeq, Code: "Y", Dir: domain.Sell, Price: decimal.NewFromInt(98), Quantity: 3},
		func(ctx context.Context, o *domain.Order) error { return st.RecordOrder(ctx, o) }))
	require.Eventually(t, func() bool {
		pic := sec.View()
		return len(pic.Bids) == 1 && len(pic.Offers) == 1
	}, time.Second, time.Millisecond)

	g, gctx := errgroup.WithContext(ctx)
	reg.RunCallAuction(gctx, g)
	require.NoError(t, g.Wait())

	// Both orders were fully filled by the auction, so tradeSink deleted
	// their durable rows.
	orders, err := st.OrdersByAccount(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, orders)
}

type recordingLive struct {
	got []domain.Message
}

func (r *recordingLive) Send(m domain.Message) error {
	r.got = append(r.got, m)
	return nil
}
