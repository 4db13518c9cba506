// Package worker runs cancellable background loops owned by the process lifecycle.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Periodic invokes a function on a fixed interval until stopped.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPeriodic constructs a task; it does nothing until Start.
func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
	}
}

// Start launches the loop. The first run happens one interval after Start.
// Cancelling ctx stops the loop as well as Stop.
func (p *Periodic) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight run to return.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
}

func (p *Periodic) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("background task stopped", "task", p.name)
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Periodic) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panicked", "task", p.name, "panic", r)
		}
	}()
	p.fn(ctx)
}
