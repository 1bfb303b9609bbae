package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/config"
	"github.com/tbourn/go-inquiry-backend/internal/queue"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
)

// reconcileBatch bounds how many stranded inquiries one sweep re-enqueues.
const reconcileBatch = 100

// Reconciler periodically re-enqueues inquiries whose analysis job was lost
// after commit (enqueue failure, broker outage, process crash). The grace
// period keeps it from racing jobs that are simply still in flight.
type Reconciler struct {
	DB    *gorm.DB
	Queue queue.Queue
	Cfg   config.WorkerConfig
	Log   zerolog.Logger
}

// NewReconciler wires a sweep.
func NewReconciler(db *gorm.DB, q queue.Queue, cfg config.WorkerConfig, log zerolog.Logger) *Reconciler {
	return &Reconciler{DB: db, Queue: q, Cfg: cfg, Log: log}
}

// Run sweeps on the configured interval until ctx is cancelled. A zero
// interval disables the sweep entirely.
func (r *Reconciler) Run(ctx context.Context) {
	if r.Cfg.ReconcileInterval <= 0 {
		r.Log.Info().Msg("reconciliation sweep disabled")
		return
	}
	ticker := time.NewTicker(r.Cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.SweepOnce(ctx); err != nil {
				r.Log.Error().Err(err).Msg("reconciliation sweep failed")
			} else if n > 0 {
				r.Log.Info().Int("requeued", n).Msg("reconciliation sweep recovered stranded inquiries")
			}
		}
	}
}

// SweepOnce re-enqueues one batch of stranded inquiries and returns how many
// jobs it published.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.Cfg.ReconcileGrace)
	stranded, err := repo.ListUnanalyzedBefore(ctx, r.DB, cutoff, reconcileBatch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, inq := range stranded {
		job := queue.Job{
			InquiryID:  inq.ID,
			BusinessID: inq.BusinessID,
			Attempt:    1,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := r.Queue.Enqueue(ctx, job); err != nil {
			// Stop the batch; the next sweep picks up where this one failed.
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
