package gbfs

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/bixbrother/backend-go/pkg/http/client"
)

const (
	StationInformationPath = "/station_information.json"
	StationStatusPath      = "/station_status.json"
)

// Feed reads GBFS documents through an HTTP client whose base URL points at
// the system's feed root, e.g. https://gbfs.velobixi.com/gbfs/fr.
type Feed struct {
	httpClient client.Interface
}

func NewFeed(httpClient client.Interface) *Feed {
	return &Feed{httpClient: httpClient}
}

// StationInformation fetches the static station list.
func (f *Feed) StationInformation(ctx context.Context) (*InformationCollection, error) {
	collection, err := fetch[StationInformation](ctx, f.httpClient, StationInformationPath)
	if err != nil {
		return nil, err
	}
	for _, s := range collection.Data.Stations {
		if err := s.validate(); err != nil {
			return nil, &FeedError{Kind: KindDecode, Path: StationInformationPath, Err: err}
		}
	}
	return collection, nil
}

// StationStatus fetches the current status of every station.
func (f *Feed) StationStatus(ctx context.Context) (*StatusCollection, error) {
	collection, err := fetch[StationStatus](ctx, f.httpClient, StationStatusPath)
	if err != nil {
		return nil, err
	}
	for _, s := range collection.Data.Stations {
		if err := s.validate(); err != nil {
			return nil, &FeedError{Kind: KindDecode, Path: StationStatusPath, Err: err}
		}
	}
	return collection, nil
}

func fetch[S any](ctx context.Context, httpClient client.Interface, path string) (*StationCollection[S], error) {
	resp, err := httpClient.Get(ctx, path)
	if err != nil {
		return nil, &FeedError{Kind: KindTransport, Path: path, Err: err}
	}
	if !resp.OK() {
		return nil, &FeedError{Kind: KindStatus, Path: path, StatusCode: resp.StatusCode}
	}

	var collection StationCollection[S]
	if err := json.Unmarshal(resp.Body, &collection); err != nil {
		return nil, &FeedError{Kind: KindDecode, Path: path, Err: err}
	}

	log.Trace().
		Str("path", path).
		Int("station_count", len(collection.Data.Stations)).
		Int64("last_updated", collection.LastUpdated).
		Msg("Fetched GBFS document")

	return &collection, nil
}
