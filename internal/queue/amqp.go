// RabbitMQ-backed queue.
//
// Topology: one durable topic exchange ("inquiry") with three queues.
// The work queue holds live jobs; the retry queue has no consumer and
// dead-letters expired messages back to the work queue, so a per-message TTL
// becomes the backoff delay; the dead queue is the operator-facing parking
// lot for exhausted jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeName = "inquiry"

	workQueue  = "inquiry.analysis"
	retryQueue = "inquiry.analysis.retry"
	deadQueue  = "inquiry.analysis.dead"

	workKey  = "inquiry.analysis"
	retryKey = "inquiry.analysis.retry"
	deadKey  = "inquiry.analysis.dead"
)

// AMQP is the RabbitMQ implementation of Queue.
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefetch int
	log      zerolog.Logger
}

// DialAMQP connects, opens a channel, and declares the full topology.
func DialAMQP(url string, prefetch int, log zerolog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if prefetch < 1 {
		prefetch = 1
	}
	q := &AMQP{conn: conn, ch: ch, prefetch: prefetch, log: log}
	if err := q.declareTopology(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQP) declareTopology() error {
	if err := q.ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchangeName, err)
	}

	queues := []struct {
		name string
		key  string
		args amqp.Table
	}{
		{workQueue, workKey, nil},
		// Expired retry messages re-enter the work queue via the exchange.
		{retryQueue, retryKey, amqp.Table{
			"x-dead-letter-exchange":    exchangeName,
			"x-dead-letter-routing-key": workKey,
		}},
		{deadQueue, deadKey, nil},
	}
	for _, spec := range queues {
		if _, err := q.ch.QueueDeclare(
			spec.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			spec.args,
		); err != nil {
			return fmt.Errorf("declare queue %q: %w", spec.name, err)
		}
		if err := q.ch.QueueBind(spec.name, spec.key, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %q: %w", spec.name, err)
		}
	}
	return nil
}

// Enqueue publishes a job to the work queue as a persistent message.
func (q *AMQP) Enqueue(ctx context.Context, job Job) error {
	return q.publish(ctx, workKey, job, amqp.Table(nil), "")
}

// EnqueueRetry publishes to the retry queue with a per-message TTL; when the
// TTL fires, the broker routes the message back onto the work queue.
func (q *AMQP) EnqueueRetry(ctx context.Context, job Job, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	return q.publish(ctx, retryKey, job, nil, expiration)
}

// EnqueueDead parks a job on the dead queue with the failure reason in a
// header so operators can inspect it without decoding the body.
func (q *AMQP) EnqueueDead(ctx context.Context, job Job, reason string) error {
	return q.publish(ctx, deadKey, job, amqp.Table{"x-dead-reason": reason}, "")
}

func (q *AMQP) publish(ctx context.Context, key string, job Job, headers amqp.Table, expiration string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	err = q.ch.PublishWithContext(
		ctx,
		exchangeName,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %q: %w", key, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on the work queue with the configured
// prefetch as the in-flight ceiling per instance.
func (q *AMQP) Consume(ctx context.Context) (<-chan Delivery, error) {
	if err := q.ch.Qos(q.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := q.ch.Consume(
		workQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %q: %w", workQueue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var job Job
				if err := json.Unmarshal(d.Body, &job); err != nil {
					// A malformed body can never succeed; drop it with a trace.
					q.log.Error().Err(err).Msg("discarding undecodable analysis job")
					_ = d.Nack(false, false)
					continue
				}
				select {
				case out <- Delivery{
					Job:  job,
					Ack:  func() error { return d.Ack(false) },
					Nack: func(requeue bool) error { return d.Nack(false, requeue) },
				}:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the channel and connection.
func (q *AMQP) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
