// Package poller keeps the station registry in sync with the GBFS status
// feed. Every cycle it fetches statuses, records which stations changed,
// publishes a fresh snapshot and pushes one notification per change.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bixbrother/backend-go/internal/broadcast"
	"github.com/bixbrother/backend-go/internal/gbfs"
	"github.com/bixbrother/backend-go/internal/metrics"
	"github.com/bixbrother/backend-go/internal/models"
	"github.com/bixbrother/backend-go/internal/notify"
	"github.com/bixbrother/backend-go/internal/station"
)

const DefaultInterval = 10 * time.Second

// StatusFeed is the per-cycle source of station statuses. *gbfs.Feed
// implements it.
type StatusFeed interface {
	StationStatus(ctx context.Context) (*gbfs.StatusCollection, error)
}

type Publisher interface {
	Publish(s *broadcast.Snapshot)
}

// Notifier delivers a cycle's notifications before the cycle ends.
// *notify.Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, notifications []notify.Notification) error
}

// Poller is the only writer of its registry.
type Poller struct {
	feed      StatusFeed
	registry  *station.Registry
	publisher Publisher
	notifier  Notifier
	interval  time.Duration
	policy    Policy
	metrics   *metrics.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPolicy(policy Policy) Option {
	return func(p *Poller) {
		p.policy = policy
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.sleep = fn
	}
}

func New(feed StatusFeed, registry *station.Registry, publisher Publisher, notifier Notifier, opts ...Option) *Poller {
	p := &Poller{
		feed:      feed,
		registry:  registry,
		publisher: publisher,
		notifier:  notifier,
		interval:  DefaultInterval,
		policy:    PolicyFatal,
		now:       time.Now,
		sleep:     sleepContext,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls until ctx is done or a cycle fails. Cancellation is only
// observed between cycles: a cycle in progress always runs to completion,
// and shutdown is not an error.
func (p *Poller) Run(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)

	log.Info().
		Dur("interval", p.interval).
		Str("policy", p.policy.String()).
		Int("station_count", p.registry.Len()).
		Msg("Starting poll loop")

	for {
		if err := p.Cycle(cycleCtx); err != nil {
			return err
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			log.Info().Msg("Poll loop stopped")
			return nil
		}
	}
}

// Cycle runs one fetch, publish and dispatch. Under PolicyRetry a
// retryable feed failure skips the cycle and returns nil.
func (p *Poller) Cycle(ctx context.Context) error {
	changes, err := p.Update(ctx)
	if err != nil {
		if p.policy == PolicyRetry && IsRetryable(err) {
			p.metrics.RecordCycle(metrics.CycleSkipped, 0)
			log.Warn().Err(err).Msg("Skipping poll cycle")
			return nil
		}
		p.metrics.RecordCycle(metrics.CycleFailed, 0)
		return err
	}

	if err := p.publishAndNotify(ctx, changes); err != nil {
		p.metrics.RecordCycle(metrics.CycleFailed, len(changes))
		return err
	}

	p.metrics.RecordCycle(metrics.CycleOK, len(changes))
	return nil
}

// Update fetches statuses and applies them to the registry, returning the
// ids of the stations that changed.
func (p *Poller) Update(ctx context.Context) ([]int, error) {
	collection, err := p.feed.StationStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching station statuses: %w", err)
	}
	return ApplyStatuses(p.registry, collection.Data.Stations)
}

// ApplyStatuses writes each status into the registry and returns, in feed
// order, the ids whose bikes, ebikes or docks counter changed. A status for
// a station the registry does not know is an error.
func ApplyStatuses(registry *station.Registry, statuses []gbfs.StationStatus) ([]int, error) {
	var changes []int
	for _, s := range statuses {
		changed, err := registry.UpdateStatus(s.StationID, models.StationStatus{
			BikesAvailable:  s.NumBikesAvailable,
			EbikesAvailable: s.NumEbikesAvailable,
			DocksAvailable:  s.NumDocksAvailable,
		})
		if err != nil {
			return nil, fmt.Errorf("applying station statuses: %w", err)
		}
		if changed {
			changes = append(changes, s.StationID)
		}
	}
	return changes, nil
}

func (p *Poller) publishAndNotify(ctx context.Context, changes []int) error {
	now := p.now()

	snapshot, err := p.Snapshot(now.Unix())
	if err != nil {
		return err
	}
	p.publisher.Publish(snapshot)
	p.metrics.RecordPublished(now)

	log.Debug().
		Int("station_count", snapshot.StationCount).
		Int("change_count", len(changes)).
		Msg("Published station statuses")

	notifications := make([]notify.Notification, 0, len(changes))
	for _, id := range changes {
		s, ok := p.registry.GetByID(id)
		if !ok {
			return &station.UnknownStationError{ID: id}
		}
		log.Trace().
			Str("station", s.Name).
			Int("bikes", s.CurrentStatus.BikesAvailable).
			Int("ebikes", s.CurrentStatus.EbikesAvailable).
			Int("docks", s.CurrentStatus.DocksAvailable).
			Msg("Station changed")

		notifications = append(notifications, notify.Notification{
			ExternalID: s.ExternalID,
			Status:     s.CurrentStatus,
			Timestamp:  now.Unix(),
		})
	}

	if err := p.notifier.Dispatch(ctx, notifications); err != nil {
		return fmt.Errorf("sending message to FCM: %w", err)
	}
	return nil
}

// Snapshot serializes the whole registry as of updatedAt.
func (p *Poller) Snapshot(updatedAt int64) (*broadcast.Snapshot, error) {
	stations := make([]models.IdentifiedStationStatus, 0, p.registry.Len())
	for s := range p.registry.All() {
		stations = append(stations, models.NewIdentifiedStationStatus(&s))
	}
	return broadcast.NewSnapshot(models.StationsResponse{
		UpdatedAt: updatedAt,
		Stations:  stations,
	})
}

// IsRetryable reports whether err is a feed failure that may clear up on a
// later cycle. Unknown stations and schema mismatches are structural.
func IsRetryable(err error) bool {
	var feedErr *gbfs.FeedError
	if errors.As(err, &feedErr) {
		return feedErr.Retryable()
	}
	return false
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
