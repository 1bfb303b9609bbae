// Package queue decouples webhook ingestion from AI analysis. It defines the
// analysis job, the queue contract, and two implementations: a durable
// RabbitMQ queue for production and an in-process queue for tests and
// queue-less development.
//
// Delivery semantics are at-least-once. Consumers acknowledge every
// delivery exactly once; retry scheduling is explicit (EnqueueRetry with a
// delay) rather than broker-side redelivery, so the attempt counter always
// travels with the job.
package queue

import (
	"context"
	"time"
)

// Job is one unit of analysis work. Attempt starts at 1 and is incremented
// by the worker on each retry.
type Job struct {
	InquiryID  string    `json:"inquiry_id"`
	BusinessID string    `json:"business_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NextAttempt returns a copy of the job with the attempt counter bumped.
func (j Job) NextAttempt() Job {
	j.Attempt++
	j.EnqueuedAt = time.Now().UTC()
	return j
}

// Delivery is one received job plus its settlement callbacks. Exactly one of
// Ack or Nack must be called per delivery.
type Delivery struct {
	Job  Job
	Ack  func() error
	Nack func(requeue bool) error
}

// Queue is the job transport contract shared by the dispatcher and the
// worker. Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue publishes a job to the work queue.
	Enqueue(ctx context.Context, job Job) error

	// EnqueueRetry schedules a job to re-enter the work queue after delay.
	EnqueueRetry(ctx context.Context, job Job, delay time.Duration) error

	// EnqueueDead parks a job on the dead-letter queue for operator
	// attention. Dead jobs are never retried automatically.
	EnqueueDead(ctx context.Context, job Job, reason string) error

	// Consume returns a channel of deliveries. The channel closes when ctx
	// is cancelled or the underlying transport shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Close releases the transport.
	Close() error
}
