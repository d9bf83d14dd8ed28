package station

import "fmt"

// UnknownStationError is returned when the status feed references a station
// that was not part of the station list loaded at startup.
type UnknownStationError struct {
	ID int
}

func (e *UnknownStationError) Error() string {
	return fmt.Sprintf("no station with id %d", e.ID)
}
