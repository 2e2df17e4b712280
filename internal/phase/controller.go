// Package phase holds the process-wide trading phase cell (§4.3): many
// readers, one writer, readers suspended only for the instant of the
// atomic swap.
package phase

import (
	"sync"

	"secmatch/internal/domain"
)

// Controller is a concurrency-safe cell holding the current Phase.
type Controller struct {
	mu    sync.RWMutex
	phase domain.Phase
}

// NewController starts the controller in the given phase.
func NewController(initial domain.Phase) *Controller {
	return &Controller{phase: initial}
}

// Current returns the phase as of this read. Workers re-read it at every
// matching decision, so a concurrent transition is honoured on the worker's
// next check, never mid-decision.
func (c *Controller) Current() domain.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Set installs a new phase and returns the phase that was active just
// before the swap, so the caller (the /ctrl handler) can detect the
// Call->Suspense edge that fires the auction.
func (c *Controller) Set(next domain.Phase) (previous domain.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.phase
	c.phase = next
	return previous
}
