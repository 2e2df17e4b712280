// Package outbox implements the per-account message outbox of §4.5: a
// durable list of undelivered messages plus, when the account is online, a
// live channel to the connected subscriber. Delivery is at-least-once: a
// message is either handed to a live channel or persisted, never both, and
// never neither.
package outbox

import (
	"context"
	"fmt"
	"sync"

	"secmatch/internal/domain"
	"secmatch/internal/store"
)

// Live is the subscriber-facing sink for one connected account. Implemented
// by the transport layer's SSE writer.
type Live interface {
	Send(domain.Message) error
}

// Outbox is the concurrent map from account id to live channel and
// in-memory backlog described by §5: "concurrent map from account id to
// live channel and to durable backlog".
type Outbox struct {
	mu      sync.Mutex
	live    map[int64]Live
	backlog map[int64][]domain.Message
	st      store.Store
}

// New returns an empty outbox backed by st for durable fallback storage.
func New(st store.Store) *Outbox {
	return &Outbox{
		live:    make(map[int64]Live),
		backlog: make(map[int64][]domain.Message),
		st:      st,
	}
}

// Send delivers msg to accountID. If a live channel is registered and the
// send succeeds, the message is considered delivered and is not durably
// stored. Otherwise it is appended to the account's durable unsent list
// and to the in-memory backlog for fast replay on the next connect.
func (o *Outbox) Send(ctx context.Context, accountID int64, msg domain.Message) error {
	o.mu.Lock()
	live, hasLive := o.live[accountID]
	o.mu.Unlock()

	if hasLive {
		if err := live.Send(msg); err == nil {
			return nil
		}
		// The subscriber disconnected between lookup and send; fall
		// through to the durable path, same as having no live channel.
	}

	if err := o.st.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("outbox: persist message for account %d: %w", accountID, err)
	}
	o.mu.Lock()
	o.backlog[accountID] = append(o.backlog[accountID], msg)
	o.mu.Unlock()
	return nil
}

// Online registers live as accountID's current live endpoint and
// atomically takes and clears the in-memory backlog, to be replayed as the
// first frame on the new connection.
func (o *Outbox) Online(accountID int64, live Live) []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live[accountID] = live
	pending := o.backlog[accountID]
	delete(o.backlog, accountID)
	return pending
}

// Offline clears the live endpoint for accountID if it is still the one
// passed in, so a later reconnect is not shadowed by a stale registration.
func (o *Outbox) Offline(accountID int64, live Live) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live[accountID] == live {
		delete(o.live, accountID)
	}
}

// SeedBacklog appends a durably stored message to accountID's in-memory
// backlog without persisting it again. Used only by the recovery loader
// (§4.7) to rehydrate the backlog from durable storage at startup.
func (o *Outbox) SeedBacklog(accountID int64, msg domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backlog[accountID] = append(o.backlog[accountID], msg)
}
