package store

import (
	"context"
	"encoding/json"
	"time"

	"secmatch/internal/domain"
)

// Store is the narrow interface the rest of the engine depends on (§9's
// "Callback-on-store closures" note). The registry, outbox, recovery loader
// and transport hold a Store; the Security itself only receives the
// StoreFunc/TradeFunc/CancelFunc closures those packages build over it.
type Store interface {
	// RecordRequest inserts a request row and returns its assigned seq.
	RecordRequest(ctx context.Context, accountID int64, body json.RawMessage) (int64, error)

	// RecordOrder inserts the order row for a just-admitted order, whose
	// seq matches the request that placed it.
	RecordOrder(ctx context.Context, order *domain.Order) error

	// ExecuteDeal, in one transaction: looks up the buyer/seller account
	// ids from the two request seqs, loads both resting orders, decrements
	// them by the deal quantity (deleting any that reach zero), inserts one
	// trade record, and returns it.
	ExecuteDeal(ctx context.Context, code string, deal domain.Deal) (domain.TradeRecord, error)

	// RecordCancel, in one transaction: inserts a cancel request row and
	// deletes the order row.
	RecordCancel(ctx context.Context, accountID, seq int64, quantity *int64) error

	// InsertMessage durably persists one outbox message.
	InsertMessage(ctx context.Context, msg domain.Message) error

	// StreamOrders yields every order row in insertion (seq) order, for
	// the recovery loader.
	StreamOrders(ctx context.Context, fn func(domain.Order) error) error

	// StreamMessages yields every message row, for the recovery loader.
	StreamMessages(ctx context.Context, fn func(domain.Message) error) error

	// RequestsByAccount returns that account's requests, most recent first.
	RequestsByAccount(ctx context.Context, accountID int64) ([]domain.Request, error)

	// OrdersByAccount returns the orders currently on the book that were
	// placed by the given account.
	OrdersByAccount(ctx context.Context, accountID int64) ([]domain.Order, error)

	// OrderBySeq returns the resting order with the given seq, so a cancel
	// request (which names only a seq) can be routed to the instrument and
	// side that owns it. found is false if no such order currently rests.
	OrderBySeq(ctx context.Context, seq int64) (order domain.Order, found bool, err error)
}

// now is a replaceable clock. Nothing in the package reads it: row
// timestamps are filled in by gorm's autoCreateTime tags.
var now = time.Now
