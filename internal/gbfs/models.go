// Package gbfs decodes the General Bikeshare Feed Specification documents the
// service consumes: station_information.json and station_status.json.
package gbfs

import (
	"fmt"

	"github.com/google/uuid"
)

// StationCollection is the common envelope of GBFS station documents.
type StationCollection[S any] struct {
	LastUpdated int64                    `json:"last_updated"`
	TTL         int64                    `json:"ttl"`
	Data        StationCollectionData[S] `json:"data"`
}

type StationCollectionData[S any] struct {
	Stations []S `json:"stations"`
}

// StationInformation is the static description of a station. The numeric id
// is encoded as a JSON string upstream.
type StationInformation struct {
	StationID  int       `json:"station_id,string"`
	ExternalID uuid.UUID `json:"external_id"`
	Name       string    `json:"name"`
	ShortName  string    `json:"short_name"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Capacity   int       `json:"capacity"`
	HasKiosk   bool      `json:"has_kiosk"`
}

// StationStatus is the real-time status of a station.
type StationStatus struct {
	StationID          int   `json:"station_id,string"`
	NumBikesAvailable  int   `json:"num_bikes_available"`
	NumEbikesAvailable int   `json:"num_ebikes_available"`
	NumBikesDisabled   int   `json:"num_bikes_disabled"`
	NumDocksAvailable  int   `json:"num_docks_available"`
	NumDocksDisabled   int   `json:"num_docks_disabled"`
	LastReported       int64 `json:"last_reported"`
}

type (
	InformationCollection = StationCollection[StationInformation]
	StatusCollection      = StationCollection[StationStatus]
)

func (s StationInformation) validate() error {
	if s.StationID < 0 || s.Capacity < 0 {
		return fmt.Errorf("station %d: negative id or capacity", s.StationID)
	}
	return nil
}

func (s StationStatus) validate() error {
	if s.NumBikesAvailable < 0 || s.NumEbikesAvailable < 0 || s.NumDocksAvailable < 0 {
		return fmt.Errorf("station %d: negative availability counter", s.StationID)
	}
	return nil
}
