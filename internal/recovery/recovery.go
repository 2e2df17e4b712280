// Package recovery implements the startup rehydration loader of §4.7: on
// process start the engine holds no state in memory, so every resting
// order and every undelivered message must be replayed from the durable
// store before the phase controller is allowed to leave Suspense.
package recovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"secmatch/internal/domain"
	"secmatch/internal/outbox"
	"secmatch/internal/phase"
	"secmatch/internal/registry"
	"secmatch/internal/store"
)

// Load streams every resting order into its instrument's Security via
// Push (bypassing persistence, since the rows are already durable) and
// every outbox message into the in-memory backlog via SeedBacklog, then
// forces the phase controller to Suspense so an operator must explicitly
// transition the engine before trading resumes.
//
// Load must run to completion before the transport layer starts accepting
// requests: EntryOrDefault is used to create a Security for a code seen
// only in the order log, same as a live placement would.
func Load(ctx context.Context, st store.Store, reg *registry.Registry, out *outbox.Outbox, p *phase.Controller, log zerolog.Logger) error {
	var orders int
	if err := st.StreamOrders(ctx, func(o domain.Order) error {
		sec := reg.EntryOrDefault(ctx, o.Code)
		order := o
		sec.Push(&order)
		orders++
		return nil
	}); err != nil {
		return fmt.Errorf("recovery: stream orders: %w", err)
	}

	var messages int
	if err := st.StreamMessages(ctx, func(m domain.Message) error {
		out.SeedBacklog(m.AccountID, m)
		messages++
		return nil
	}); err != nil {
		return fmt.Errorf("recovery: stream messages: %w", err)
	}

	p.Set(domain.Suspense)
	log.Info().Int("orders", orders).Int("messages", messages).Msg("recovery: rehydrated from durable store")
	return nil
}
