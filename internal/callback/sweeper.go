package callback

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/sourcing"
)

// SweepStore lists requests whose callbacks failed long enough ago to be
// worth another try.
type SweepStore interface {
	ListSweepableRequests(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]sourcing.Request, error)
}

// Sweeper periodically re-delivers callbacks for requests stuck in
// callback_failed. At most one cycle runs at a time.
type Sweeper struct {
	store     SweepStore
	deliverer *Deliverer
	cfg       config.Callback
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
}

func NewSweeper(store SweepStore, deliverer *Deliverer, cfg config.Callback, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run ticks until the context is canceled. TenantID narrows the sweep to one
// tenant; empty sweeps all.
func (s *Sweeper) Run(ctx context.Context, tenantID string) {
	if !s.cfg.RedeliveryEnabled {
		return
	}
	interval := time.Duration(s.cfg.RedeliveryIntervalMn) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, tenantID)
		}
	}
}

// Sweep runs one re-delivery cycle. Overlapping calls are dropped, not
// queued.
func (s *Sweeper) Sweep(ctx context.Context, tenantID string) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("callback sweep already running, skipping cycle")
		return
	}
	defer s.running.Store(false)

	olderThan := s.now().Add(-time.Duration(s.cfg.RedeliveryMaxAgeMn) * time.Minute)
	reqs, err := s.store.ListSweepableRequests(ctx, tenantID, olderThan, s.cfg.RedeliveryBatchSize)
	if err != nil {
		s.logger.Error("callback sweep list failed", "error", err)
		return
	}
	if len(reqs) == 0 {
		return
	}

	s.logger.Info("callback sweep started", "count", len(reqs))
	var delivered int
	for i := range reqs {
		req := &reqs[i]
		payload := Payload{
			Version:        1,
			RequestID:      req.ID,
			ExternalJobID:  req.ExternalJobID,
			Status:         PayloadComplete,
			CandidateCount: req.ResultCount,
			EnrichedCount:  req.EnrichedCount,
		}
		if err := s.deliverer.Deliver(ctx, req, payload, true); err != nil {
			s.logger.Warn("callback sweep re-delivery failed",
				"request_id", req.ID, "error", err)
			continue
		}
		delivered++
	}
	s.logger.Info("callback sweep finished",
		"count", len(reqs),
		"delivered", delivered,
	)
}
