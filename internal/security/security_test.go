package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/phase"
)

func noopStore(context.Context, *domain.Order) error { return nil }

func newTestSecurity(t *testing.T, ph *phase.Controller) *Security {
	t.Helper()
	return newTestSecurityWithSettleDelay(t, ph, time.Millisecond)
}

func newTestSecurityWithSettleDelay(t *testing.T, ph *phase.Controller, settleDelay time.Duration) *Security {
	t.Helper()
	var trades []domain.Deal
	var mu sync.Mutex
	trade := func(_ context.Context, _ string, deal domain.Deal) error {
		mu.Lock()
		trades = append(trades, deal)
		mu.Unlock()
		return nil
	}
	s := New(context.Background(), "X", ph, trade, compute.NewPool(2), zerolog.Nop(), 0, settleDelay)
	t.Cleanup(s.Stop)
	return s
}

func waitIdle(t *testing.T, s *Security) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.idle
	}, time.Second, time.Millisecond)
}

func TestPlaceContinuousMatch(t *testing.T) {
	ph := phase.NewController(domain.Continuous)
	s := newTestSecurity(t, ph)
	ctx := context.Background()

	sub := s.SubscribeDeals()

	require.NoError(t, s.Place(ctx, &domain.Order{Seq: 1, Code: "X", Dir: domain.Sell, Price: decimal.NewFromInt(100), Quantity: 10}, noopStore))
	require.NoError(t, s.Place(ctx, &domain.Order{Seq: 2, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(101), Quantity: 4}, noopStore))

	waitIdle(t, s)

	ev, ok := sub.Next()
	require.True(t, ok)
	assert.True(t, ev.Price.Equal(decimal.NewFromInt(100)))
	assert.EqualValues(t, 4, ev.Quantity)

	pic := s.View()
	require.Len(t, pic.Offers, 1)
	assert.EqualValues(t, 6, pic.Offers[0].Quantity)
}

func TestCancelRestingThenNotFound(t *testing.T) {
	ph := phase.NewController(domain.Prepare) // no continuous matching
	s := newTestSecurity(t, ph)
	ctx := context.Background()

	order := &domain.Order{Seq: 1, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(50), Quantity: 10}
	require.NoError(t, s.Place(ctx, order, noopStore))
	waitIdle(t, s)

	var gotQty *int64
	require.NoError(t, s.Cancel(ctx, order, func(_ context.Context, q *int64) error {
		gotQty = q
		return nil
	}))
	require.NotNil(t, gotQty)
	assert.EqualValues(t, 10, *gotQty)
	assert.Empty(t, s.View().Bids)

	// Cancelling again: not found anywhere.
	var second *int64
	require.NoError(t, s.Cancel(ctx, order, func(_ context.Context, q *int64) error {
		second = q
		return nil
	}))
	assert.Nil(t, second)
}

func TestPushSeedsBookWithoutPersistence(t *testing.T) {
	ph := phase.NewController(domain.Suspense)
	s := newTestSecurity(t, ph)
	s.Push(&domain.Order{Seq: 1, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(10), Quantity: 5})
	pic := s.View()
	require.Len(t, pic.Bids, 1)
	assert.EqualValues(t, 5, pic.Bids[0].Quantity)
}

func TestCalcReportsNothingWhenCancelledDuringSettleDelay(t *testing.T) {
	ph := phase.NewController(domain.Call)
	s := newTestSecurityWithSettleDelay(t, ph, DefaultSettleDelay)
	ctx := context.Background()

	require.NoError(t, s.Place(ctx, &domain.Order{Seq: 1, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(102), Quantity: 5}, noopStore))
	require.NoError(t, s.Place(ctx, &domain.Order{Seq: 2, Code: "X", Dir: domain.Sell, Price: decimal.NewFromInt(98), Quantity: 5}, noopStore))

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, ok := s.Calc(ctx)
	// The settle delay (3s) exceeds our test timeout, so Calc should report
	// cancellation rather than hang the test suite.
	assert.False(t, ok)
}
