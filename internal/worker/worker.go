// Package worker runs the analysis consumer pool and the reconciliation
// sweep. The pool pulls jobs off the queue, hands them to the analysis
// service with bounded concurrency, and owns the retry policy: failed jobs
// re-enter the queue with exponential backoff until the attempt cap, then
// park on the dead-letter queue with a persisted error record.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/config"
	"github.com/tbourn/go-inquiry-backend/internal/queue"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
	"github.com/tbourn/go-inquiry-backend/internal/services"
)

// Pool consumes analysis jobs and drives retries.
type Pool struct {
	Queue   queue.Queue
	Service *services.AnalysisService
	DB      *gorm.DB
	Cfg     config.WorkerConfig
	Log     zerolog.Logger
}

// NewPool wires a consumer pool.
func NewPool(q queue.Queue, svc *services.AnalysisService, db *gorm.DB, cfg config.WorkerConfig, log zerolog.Logger) *Pool {
	return &Pool{Queue: q, Service: svc, DB: db, Cfg: cfg, Log: log}
}

// Run consumes until ctx is cancelled or the delivery channel closes. It
// blocks; callers run it in a goroutine and cancel ctx to stop.
func (p *Pool) Run(ctx context.Context) error {
	deliveries, err := p.Queue.Consume(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Cfg.Concurrency)

	for d := range deliveries {
		d := d
		g.Go(func() error {
			p.handle(ctx, d)
			return nil
		})
	}
	return g.Wait()
}

// handle settles exactly one delivery. The delivery is always acked: retry
// and dead-letter routing is explicit re-publication, never broker redelivery,
// so the attempt counter stays authoritative.
func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	job := d.Job
	err := p.Service.Process(ctx, job)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			p.Log.Warn().Err(ackErr).Str("inquiry_id", job.InquiryID).Msg("ack failed")
		}
		return
	}

	p.Log.Error().Err(err).
		Str("inquiry_id", job.InquiryID).
		Int("attempt", job.Attempt).
		Msg("analysis job failed")

	if job.Attempt >= p.Cfg.MaxAttempts {
		p.deadLetter(ctx, job, err)
	} else {
		delay := Backoff(p.Cfg.BackoffBase, p.Cfg.BackoffCap, job.Attempt)
		if rErr := p.Queue.EnqueueRetry(ctx, job.NextAttempt(), delay); rErr != nil {
			p.Log.Error().Err(rErr).Str("inquiry_id", job.InquiryID).Msg("retry enqueue failed; job will be recovered by the sweep")
		}
	}

	if ackErr := d.Ack(); ackErr != nil {
		p.Log.Warn().Err(ackErr).Str("inquiry_id", job.InquiryID).Msg("ack failed")
	}
}

// deadLetter parks an exhausted job and records the terminal failure.
func (p *Pool) deadLetter(ctx context.Context, job queue.Job, cause error) {
	p.Log.Error().
		Str("inquiry_id", job.InquiryID).
		Int("attempt", job.Attempt).
		Msg("analysis job exhausted retries; dead-lettering")

	if err := p.Queue.EnqueueDead(ctx, job, cause.Error()); err != nil {
		p.Log.Error().Err(err).Str("inquiry_id", job.InquiryID).Msg("dead-letter enqueue failed")
	}
	if err := repo.CreateErrorLog(ctx, p.DB, "analysis", cause.Error(),
		`{"inquiry_id":"`+job.InquiryID+`"}`); err != nil {
		p.Log.Warn().Err(err).Msg("error log write failed")
	}
}

// Backoff returns the retry delay for the given completed attempt:
// base doubled per attempt, capped. Attempt 1 yields base, attempt 2 yields
// 2*base, and so on.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
