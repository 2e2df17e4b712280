package recovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"secmatch/internal/compute"
	"secmatch/internal/domain"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/registry"
	"secmatch/internal/store"
)

// TestLoadRehydratesBookOutboxAndForcesSuspense exercises §4.7/Testable
// Property 7 (recovery equivalence) and spec.md's S6 scenario: seed a
// durable store as if a prior process had an order resting on the book and
// one undelivered message, run Load against a brand-new registry/outbox/
// phase controller (standing in for the freshly-started process that holds
// no in-memory state), and assert the rehydrated state matches what was
// durable, that the phase is forced to Suspense regardless of its prior
// value, and that a crossing order placed immediately after recovery
// matches the rehydrated remainder.
func TestLoadRehydratesBookOutboxAndForcesSuspense(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	require.NoError(t, db.Create(&store.Account{ID: 1, Pwd: "x", Name: "buyer"}).Error)
	require.NoError(t, db.Create(&store.Account{ID: 2, Pwd: "x", Name: "seller"}).Error)

	// A resting order durably recorded by the "prior process".
	restingSeq, err := st.RecordRequest(ctx, 1, json.RawMessage(`{}`))
	require.NoError(t, err)
	resting := &domain.Order{Seq: restingSeq, Code: "X", Dir: domain.Buy, Price: decimal.NewFromInt(100), Quantity: 7}
	require.NoError(t, st.RecordOrder(ctx, resting))

	// An undelivered message durably recorded for account 2.
	require.NoError(t, st.InsertMessage(ctx, domain.Message{
		AccountID: 2,
		EventType: "trade",
		Data:      json.RawMessage(`{"seq":1}`),
	}))

	// A new process: empty registry, empty outbox, phase left wherever it
	// was when the process died (Continuous here, to prove Load overrides
	// it rather than trusting stale in-memory state).
	p := phase.NewController(domain.Continuous)
	out := outbox.New(st)
	reg := registry.New(p, st, out, compute.NewPool(2), zerolog.Nop(), 0, time.Millisecond)

	require.NoError(t, Load(ctx, st, reg, out, p, zerolog.Nop()))

	require.Equal(t, domain.Suspense, p.Current(), "recovery must force Suspense regardless of the prior phase")

	sec, ok := reg.Lookup("X")
	require.True(t, ok, "Load must create a Security for every code seen in the order log")
	pic := sec.View()
	require.Len(t, pic.Bids, 1)
	require.True(t, pic.Bids[0].Price.Equal(decimal.NewFromInt(100)))
	require.EqualValues(t, 7, pic.Bids[0].Quantity)

	backlog := out.Online(2, &recordingLive{})
	require.Len(t, backlog, 1)
	require.Equal(t, "trade", backlog[0].EventType)

	// S6: a new crossing order placed right after recovery immediately
	// matches the rehydrated remainder once trading resumes.
	p.Set(domain.Continuous)
	crossSeq, err := st.RecordRequest(ctx, 2, json.RawMessage(`{}`))
	require.NoError(t, err)
	cross := &domain.Order{Seq: crossSeq, Code: "X", Dir: domain.Sell, Price: decimal.NewFromInt(99), Quantity: 3}
	require.NoError(t, sec.Place(ctx, cross, func(ctx context.Context, o *domain.Order) error { return st.RecordOrder(ctx, o) }))

	require.Eventually(t, func() bool {
		pic := sec.View()
		return len(pic.Bids) == 1 && pic.Bids[0].Quantity == 4
	}, time.Second, time.Millisecond, "rehydrated remainder must absorb the crossing order")
}

type recordingLive struct{}

func (r *recordingLive) Send(domain.Message) error { return nil }
