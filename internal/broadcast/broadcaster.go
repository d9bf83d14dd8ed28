// Package broadcast distributes the latest status snapshot to any number of
// readers. It holds exactly one value: publishing replaces it, and readers
// only ever see whole snapshots.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bixbrother/backend-go/internal/models"
)

// Snapshot is an immutable, already serialized statuses response.
type Snapshot struct {
	UpdatedAt    int64
	StationCount int
	Body         []byte
}

// Empty reports whether this is the placeholder served before the first
// publication.
func (s *Snapshot) Empty() bool {
	return s == emptySnapshot
}

// NewSnapshot serializes resp once so that every reader shares the same bytes.
func NewSnapshot(resp models.StationsResponse) (*Snapshot, error) {
	if resp.Stations == nil {
		resp.Stations = []models.IdentifiedStationStatus{}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return &Snapshot{
		UpdatedAt:    resp.UpdatedAt,
		StationCount: len(resp.Stations),
		Body:         body,
	}, nil
}

var emptySnapshot = &Snapshot{Body: []byte(`{"updated_at":0,"stations":[]}`)}

// Broadcaster is a single-slot, last-value-wins channel. Publish never blocks
// on readers and nothing is queued.
type Broadcaster struct {
	mu      sync.RWMutex
	current *Snapshot
	changed chan struct{}
}

func New() *Broadcaster {
	return &Broadcaster{
		current: emptySnapshot,
		changed: make(chan struct{}),
	}
}

// Publish replaces the current snapshot and wakes every watcher.
func (b *Broadcaster) Publish(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = s
	close(b.changed)
	b.changed = make(chan struct{})
}

// Latest returns the current snapshot.
func (b *Broadcaster) Latest() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.current
}

// Watch returns the current snapshot and a channel that is closed on the
// next publication. Watchers that fall behind skip straight to the latest
// value on their next call.
func (b *Broadcaster) Watch() (*Snapshot, <-chan struct{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.current, b.changed
}
