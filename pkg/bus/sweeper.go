package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/autoqa/autoqa/pkg/config"
)

// Sweeper periodically removes subscriptions whose last activity is older
// than the configured subscription timeout. Sweeps are idempotent.
type Sweeper struct {
	cfg *config.BusConfig
	bus *Bus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper for bus.
func NewSweeper(cfg *config.BusConfig, bus *Bus) *Sweeper {
	return &Sweeper{cfg: cfg, bus: bus}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Subscription sweeper started",
		"subscription_timeout", s.cfg.SubscriptionTimeout,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Subscription sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count := s.bus.sweepExpired(s.cfg.SubscriptionTimeout); count > 0 {
				slog.Info("Swept inactive subscriptions", "count", count)
			}
		}
	}
}
