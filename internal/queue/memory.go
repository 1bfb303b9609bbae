// In-process queue.
//
// Mirrors the AMQP semantics closely enough for tests and single-process
// development: buffered work channel, timer-based retry delays, and a dead
// list inspectable by tests. Not durable; production uses AMQP.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by enqueue operations after Close.
var ErrClosed = errors.New("queue closed")

// DeadJob is one parked job plus the reason it was given up on.
type DeadJob struct {
	Job    Job
	Reason string
}

// Memory is the in-process implementation of Queue.
type Memory struct {
	mu     sync.Mutex
	work   chan Job
	dead   []DeadJob
	timers []*time.Timer
	closed bool
}

// NewMemory constructs a Memory queue with a bounded work buffer.
func NewMemory(buffer int) *Memory {
	if buffer < 1 {
		buffer = 64
	}
	return &Memory{work: make(chan Job, buffer)}
}

// Enqueue places the job on the work buffer, failing fast when full so the
// caller observes backpressure instead of blocking the webhook path.
func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	select {
	case m.work <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("work queue full")
	}
}

// EnqueueRetry re-enqueues the job after delay via a timer.
func (m *Memory) EnqueueRetry(ctx context.Context, job Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t := time.AfterFunc(delay, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.work <- job:
		default:
			// Buffer full on redelivery; park it instead of dropping.
			m.mu.Lock()
			m.dead = append(m.dead, DeadJob{Job: job, Reason: "retry buffer full"})
			m.mu.Unlock()
		}
	})
	m.timers = append(m.timers, t)
	return nil
}

// EnqueueDead records the job on the dead list.
func (m *Memory) EnqueueDead(ctx context.Context, job Job, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dead = append(m.dead, DeadJob{Job: job, Reason: reason})
	return nil
}

// Dead returns a snapshot of the dead list.
func (m *Memory) Dead() []DeadJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadJob, len(m.dead))
	copy(out, m.dead)
	return out
}

// Consume returns a delivery channel fed from the work buffer. Ack/Nack are
// no-ops except that Nack(requeue=true) puts the job back.
func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-m.work:
				if !ok {
					return
				}
				d := Delivery{
					Job: job,
					Ack: func() error { return nil },
					Nack: func(requeue bool) error {
						if requeue {
							return m.Enqueue(context.Background(), job)
						}
						return nil
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops timers and rejects further enqueues.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.timers {
		t.Stop()
	}
	return nil
}
