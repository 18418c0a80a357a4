// Package retention implements the background sweep that prunes terminal
// plans out of the State Store once they age past the deployment's
// configured retention window. Grounded on the teacher's pkg/cleanup
// service (ticker-driven loop, idempotent sweep, Start/Stop lifecycle with
// a done channel), generalised from session/event soft-deletes to a single
// hard-delete sweep over plans.Store.PruneTerminal.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmos-bridge/daemon/internal/config"
)

// Pruner is the subset of *statestore.Store the sweep needs.
type Pruner interface {
	PruneTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// Service periodically prunes plans that have been terminal for longer than
// the configured retention window. All operations are idempotent.
type Service struct {
	cfg    config.RetentionConfig
	store  Pruner
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweep service.
func NewService(cfg config.RetentionConfig, store Pruner) *Service {
	return &Service{cfg: cfg, store: store}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention sweep started",
		"plan_retention", s.cfg.PlanRetention, "sweep_interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.PlanRetention)
	n, err := s.store.PruneTerminal(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention sweep pruned terminal plans", "count", n, "cutoff", cutoff)
	}
}
