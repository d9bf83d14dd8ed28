package station

import (
	"github.com/google/uuid"

	"github.com/bixbrother/backend-go/internal/gbfs"
)

type Location struct {
	Latitude  float64
	Longitude float64
}

// Locator resolves external ids to coordinates. It is built once at startup
// and never modified, so request handlers may share it freely.
type Locator struct {
	locations map[uuid.UUID]Location
}

func NewLocator(infos []gbfs.StationInformation) *Locator {
	locations := make(map[uuid.UUID]Location, len(infos))
	for _, info := range infos {
		locations[info.ExternalID] = Location{Latitude: info.Lat, Longitude: info.Lon}
	}
	return &Locator{locations: locations}
}

func (l *Locator) Locate(id uuid.UUID) (Location, bool) {
	loc, ok := l.locations[id]
	return loc, ok
}

func (l *Locator) Len() int {
	return len(l.locations)
}
