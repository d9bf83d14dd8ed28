package station

import (
	"iter"

	"github.com/google/uuid"

	"github.com/bixbrother/backend-go/internal/gbfs"
	"github.com/bixbrother/backend-go/internal/models"
)

// Registry is the fixed set of known stations, indexed both by numeric id and
// by external id. Entries are never added or removed after construction.
//
// A Registry is not safe for concurrent use: it has a single owner, the
// poller, and everything else reads published snapshots instead.
type Registry struct {
	stations     []models.Station
	byID         map[int]int
	byExternalID map[uuid.UUID]int
}

// NewRegistry builds a registry from stations, in order. When two stations
// share an id, the later one wins in that index.
func NewRegistry(stations []models.Station) *Registry {
	r := &Registry{
		stations:     make([]models.Station, len(stations)),
		byID:         make(map[int]int, len(stations)),
		byExternalID: make(map[uuid.UUID]int, len(stations)),
	}
	copy(r.stations, stations)

	for idx, s := range r.stations {
		r.byID[s.ID] = idx
		r.byExternalID[s.ExternalID] = idx
	}

	return r
}

// NewRegistryFromInformation seeds every station with an empty status.
func NewRegistryFromInformation(infos []gbfs.StationInformation) *Registry {
	stations := make([]models.Station, len(infos))
	for i, info := range infos {
		stations[i] = models.Station{
			ID:            info.StationID,
			ExternalID:    info.ExternalID,
			Name:          info.Name,
			Latitude:      info.Lat,
			Longitude:     info.Lon,
			Capacity:      info.Capacity,
			CurrentStatus: models.EmptyStatus(info.Capacity),
		}
	}
	return NewRegistry(stations)
}

func (r *Registry) GetByID(id int) (models.Station, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return models.Station{}, false
	}
	return r.stations[idx], true
}

func (r *Registry) GetByExternalID(id uuid.UUID) (models.Station, bool) {
	idx, ok := r.byExternalID[id]
	if !ok {
		return models.Station{}, false
	}
	return r.stations[idx], true
}

// UpdateStatus overwrites the status of station id if it differs from the
// current one and reports whether it did.
func (r *Registry) UpdateStatus(id int, status models.StationStatus) (bool, error) {
	idx, ok := r.byID[id]
	if !ok {
		return false, &UnknownStationError{ID: id}
	}

	current := &r.stations[idx].CurrentStatus
	if *current == status {
		return false, nil
	}
	*current = status
	return true, nil
}

// All yields a copy of every station in construction order.
func (r *Registry) All() iter.Seq[models.Station] {
	return func(yield func(models.Station) bool) {
		for _, s := range r.stations {
			if !yield(s) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	return len(r.stations)
}
