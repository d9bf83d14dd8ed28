package station

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bixbrother/backend-go/internal/gbfs"
)

// InformationSource provides the static station list.
type InformationSource interface {
	StationInformation(ctx context.Context) (*gbfs.InformationCollection, error)
}

// InformationCache persists the station list between restarts. GetStations
// returns nil, nil when nothing usable is cached.
type InformationCache interface {
	GetStations(ctx context.Context) ([]gbfs.StationInformation, error)
	SaveStations(ctx context.Context, stations []gbfs.StationInformation) error
}

// Loader fetches the station list once at startup. The feed is always asked
// first; a configured cache only stands in when the feed is unavailable.
type Loader struct {
	source InformationSource
	cache  InformationCache
}

func NewLoader(source InformationSource, cache InformationCache) *Loader {
	return &Loader{
		source: source,
		cache:  cache,
	}
}

// Load returns the current station list and refreshes the cache with it.
// A cached list never shadows the feed, so stations added upstream are known
// as soon as the service restarts.
func (l *Loader) Load(ctx context.Context) ([]gbfs.StationInformation, error) {
	info, err := l.source.StationInformation(ctx)
	if err != nil {
		if cached := l.cached(ctx); cached != nil {
			log.Warn().
				Err(err).
				Int("station_count", len(cached)).
				Msg("Station information feed failed, using cached station list")
			return cached, nil
		}
		return nil, fmt.Errorf("fetching station information: %w", err)
	}
	stations := info.Data.Stations

	if l.cache != nil {
		if err := l.cache.SaveStations(ctx, stations); err != nil {
			log.Warn().Err(err).Msg("Caching station list failed")
		}
	}

	log.Info().Int("station_count", len(stations)).Msg("Loaded station list")
	return stations, nil
}

func (l *Loader) cached(ctx context.Context) []gbfs.StationInformation {
	if l.cache == nil {
		return nil
	}
	stations, err := l.cache.GetStations(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Reading cached station list failed")
		return nil
	}
	if stations == nil {
		log.Debug().Msg("Cache MISS for station list")
	}
	return stations
}
