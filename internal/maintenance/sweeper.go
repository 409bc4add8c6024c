// Package maintenance runs periodic background upkeep. It has its own
// lifecycle and is never invoked from request or event handling paths.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-core/internal/hub"
	"github.com/capitalize-ai/messaging-core/internal/store"
	"github.com/capitalize-ai/messaging-core/pkg/logger"
)

// Sweeper periodically reports fan-out state and verifies the store is
// reachable. Room registries clean themselves up as sessions leave; the
// sweeper exists to surface drift, not to own correctness.
type Sweeper struct {
	hub      *hub.Hub
	store    *store.Store
	interval time.Duration
	logger   *logger.Logger
}

// New creates a sweeper.
func New(h *hub.Hub, st *store.Store, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{hub: h, store: st, interval: interval, logger: log}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
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

func (s *Sweeper) sweep(ctx context.Context) {
	sessions, rooms := s.hub.Stats()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("maintenance: store unreachable", zap.Error(err))
		return
	}
	s.logger.Info("maintenance sweep",
		zap.Int("active_sessions", sessions),
		zap.Int("active_rooms", rooms),
	)
}
