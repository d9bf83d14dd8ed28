package models

import "github.com/google/uuid"

// StationStatus is the part of a station that changes from one poll to the next.
// Two statuses are equal only when all three counters are equal.
type StationStatus struct {
	BikesAvailable  int `json:"b"`
	EbikesAvailable int `json:"e"`
	DocksAvailable  int `json:"a"`
}

// EmptyStatus is the status a station starts with before the first poll:
// no bikes and every dock free.
func EmptyStatus(capacity int) StationStatus {
	return StationStatus{
		BikesAvailable:  0,
		EbikesAvailable: 0,
		DocksAvailable:  capacity,
	}
}

type Station struct {
	ID            int
	ExternalID    uuid.UUID
	Name          string
	Latitude      float64
	Longitude     float64
	Capacity      int
	CurrentStatus StationStatus
}

// IdentifiedStationStatus is one entry of the statuses response.
type IdentifiedStationStatus struct {
	ExternalID uuid.UUID `json:"i"`
	Name       string    `json:"n"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	StationStatus
	Capacity int `json:"c"`
}

type StationsResponse struct {
	UpdatedAt int64                     `json:"updated_at"`
	Stations  []IdentifiedStationStatus `json:"stations"`
}

func NewIdentifiedStationStatus(s *Station) IdentifiedStationStatus {
	return IdentifiedStationStatus{
		ExternalID:    s.ExternalID,
		Name:          s.Name,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		StationStatus: s.CurrentStatus,
		Capacity:      s.Capacity,
	}
}
