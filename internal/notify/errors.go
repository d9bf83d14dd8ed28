package notify

import (
	"fmt"

	"github.com/google/uuid"
)

// DeliveryError is returned when a notification could not be delivered.
// Transient is set when the retry budget ran out on retryable failures.
type DeliveryError struct {
	ExternalID uuid.UUID
	Attempts   int
	Transient  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Transient {
		return fmt.Sprintf("delivering status of %s: gave up after %d attempts: %v", e.ExternalID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivering status of %s: %v", e.ExternalID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
