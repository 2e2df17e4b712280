// Package compute offloads CPU-bound work (a deep call-auction sweep) off
// of whatever goroutine requested it, so a long Book.Calc() doesn't run on
// a goroutine a caller is also using to drive I/O. This is the Go analogue
// of the source's rayon::spawn hand-off in security.rs's calc(): Go has no
// ecosystem-standard CPU worker-pool library the way Rust leans on rayon
// (the goroutine scheduler already multiplexes M:N onto OS threads), so a
// small bounded-concurrency pool over plain goroutines is the idiomatic
// substitute, grounded on the dedicated-goroutine-per-engine pattern in
// matching/engine.go's MatchingEngine.Start.
package compute

import "context"

// Pool bounds how many submitted functions may run at once.
type Pool struct {
	sem chan struct{}
}

// NewPool returns a pool that runs at most n functions concurrently.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{sem: make(chan struct{}, n)}
}

// Run executes fn on a pool goroutine. ctx only gates the wait for a free
// slot: once fn has been handed a slot, Run always blocks until fn returns
// before reporting anything, so a caller never observes Run returning while
// fn is still mutating whatever state it closed over. If ctx is cancelled
// before a slot frees up, fn never runs and Run returns ctx.Err()
// immediately. If ctx is cancelled while fn is already running, Run still
// waits for fn to finish and then returns ctx.Err(), so the caller can tell
// cancellation happened but can trust that any side effect fn already
// performed is complete and visible.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { <-p.sem }()
		fn()
	}()
	<-done
	return ctx.Err()
}
