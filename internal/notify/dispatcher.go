// Package notify pushes station status changes to Firebase Cloud Messaging,
// retrying server-side failures with exponential backoff.
package notify

import (
	"context"
	"time"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bixbrother/backend-go/internal/metrics"
)

const (
	// DefaultMaxBackoff is the longest wait before a retry. A delivery whose
	// next wait would exceed it is abandoned.
	DefaultMaxBackoff = 300 * time.Second

	initialBackoff = time.Second
)

// Sender delivers a single message. *messaging.Client implements it.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Dispatcher delivers one message per notification. Each message runs its
// own retry state machine: transient failures are retried after 1s, 2s,
// 4s, ... until the next wait would exceed the maximum backoff; any other
// failure is returned immediately.
type Dispatcher struct {
	sender      Sender
	isTransient func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error
	maxBackoff  time.Duration
	concurrency int
	metrics     *metrics.Metrics
}

type Option func(*Dispatcher)

// WithTransientClassifier replaces the default classification, which treats
// FCM INTERNAL (HTTP 500) errors as transient.
func WithTransientClassifier(fn func(error) bool) Option {
	return func(d *Dispatcher) {
		d.isTransient = fn
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.sleep = fn
	}
}

func WithMaxBackoff(maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithConcurrency sets how many notifications of one batch may be in flight
// at once. 1 keeps delivery strictly sequential.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		isTransient: errorutils.IsInternal,
		sleep:       sleepContext,
		maxBackoff:  DefaultMaxBackoff,
		concurrency: 1,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch delivers every notification and returns the first failure.
// Sequential dispatch stops at the first failure; concurrent dispatch lets
// deliveries already in flight finish.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []Notification) error {
	if d.concurrency <= 1 {
		for _, n := range notifications {
			if err := d.Deliver(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, n := range notifications {
		g.Go(func() error {
			return d.Deliver(gctx, n)
		})
	}
	return g.Wait()
}

// Deliver sends a single notification, retrying transient failures.
func (d *Dispatcher) Deliver(ctx context.Context, n Notification) error {
	message := BuildMessage(n)
	schedule := newSchedule()

	for attempt := 1; ; attempt++ {
		_, err := d.sender.Send(ctx, message)
		if err == nil {
			d.metrics.RecordPushAttempt(metrics.PushDelivered)
			log.Trace().Str("topic", message.Topic).Int("attempts", attempt).Msg("Delivered status message")
			return nil
		}

		if !d.isTransient(err) {
			d.metrics.RecordPushAttempt(metrics.PushPermanent)
			return &DeliveryError{ExternalID: n.ExternalID, Attempts: attempt, Err: err}
		}
		d.metrics.RecordPushAttempt(metrics.PushTransient)

		wait := schedule.NextBackOff()
		if wait > d.maxBackoff {
			return &DeliveryError{ExternalID: n.ExternalID, Attempts: attempt, Transient: true, Err: err}
		}

		log.Warn().
			Err(err).
			Str("topic", message.Topic).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Transient FCM failure, retrying")

		if err := d.sleep(ctx, wait); err != nil {
			return &DeliveryError{ExternalID: n.ExternalID, Attempts: attempt, Transient: true, Err: err}
		}
	}
}

// newSchedule yields 1s, 2s, 4s, ... with no jitter.
func newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
