package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bixbrother/backend-go/internal/models"
)

func snapshotAt(t *testing.T, updatedAt int64, stations int) *Snapshot {
	t.Helper()

	resp := models.StationsResponse{UpdatedAt: updatedAt}
	for i := 0; i < stations; i++ {
		resp.Stations = append(resp.Stations, models.IdentifiedStationStatus{
			ExternalID: uuid.New(),
			Name:       fmt.Sprintf("station %d", i),
			// Every field carries the cycle stamp so mixed reads are detectable.
			StationStatus: models.StationStatus{
				BikesAvailable:  int(updatedAt),
				EbikesAvailable: int(updatedAt),
				DocksAvailable:  int(updatedAt),
			},
			Capacity: int(updatedAt),
		})
	}

	s, err := NewSnapshot(resp)
	require.NoError(t, err)
	return s
}

func TestBroadcaster_InitialPlaceholder(t *testing.T) {
	b := New()

	s := b.Latest()
	require.NotNil(t, s)
	assert.True(t, s.Empty())
	assert.JSONEq(t, `{"updated_at":0,"stations":[]}`, string(s.Body))
}

func TestNewSnapshot_NilStationsEncodeAsEmptyList(t *testing.T) {
	s, err := NewSnapshot(models.StationsResponse{UpdatedAt: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"updated_at":5,"stations":[]}`, string(s.Body))
	assert.False(t, s.Empty())
}

func TestBroadcaster_PublishedSnapshotIsNeverThePlaceholder(t *testing.T) {
	b := New()

	s, err := NewSnapshot(models.StationsResponse{})
	require.NoError(t, err)
	assert.Equal(t, b.Latest().Body, s.Body)

	b.Publish(s)
	assert.False(t, b.Latest().Empty())
}

func TestBroadcaster_LastValueWins(t *testing.T) {
	b := New()

	_, changed := b.Watch()

	b.Publish(snapshotAt(t, 1, 2))
	b.Publish(snapshotAt(t, 2, 2))
	b.Publish(snapshotAt(t, 3, 2))

	select {
	case <-changed:
	default:
		t.Fatal("watch channel was not closed by Publish")
	}

	latest, next := b.Watch()
	assert.Equal(t, int64(3), latest.UpdatedAt)

	select {
	case <-next:
		t.Fatal("new watch channel closed without a publication")
	default:
	}
}

func TestBroadcaster_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	b := New()
	const cycles = 200
	const readers = 8

	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				s := b.Latest()
				if s.Empty() {
					continue
				}

				var resp models.StationsResponse
				if !assert.NoError(t, json.Unmarshal(s.Body, &resp)) {
					return
				}
				for _, st := range resp.Stations {
					assert.Equal(t, int(resp.UpdatedAt), st.BikesAvailable)
					assert.Equal(t, int(resp.UpdatedAt), st.Capacity)
				}
			}
		}()
	}

	for i := int64(1); i <= cycles; i++ {
		b.Publish(snapshotAt(t, i, 5))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, int64(cycles), b.Latest().UpdatedAt)
}

func TestBroadcaster_WatcherWakesOnPublish(t *testing.T) {
	b := New()
	_, changed := b.Watch()

	got := make(chan int64, 1)
	go func() {
		<-changed
		got <- b.Latest().UpdatedAt
	}()

	b.Publish(snapshotAt(t, 42, 1))

	select {
	case v := <-got:
		assert.Equal(t, int64(42), v)
	case <-time.After(time.Second):
		t.Fatal("watcher was not woken")
	}
}
