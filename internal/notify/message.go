package notify

import (
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"

	"github.com/bixbrother/backend-go/internal/models"
)

const (
	topicPrefix = "v1status_"
	messageTTL  = time.Hour
)

// Notification is one station status change to push to subscribers.
type Notification struct {
	ExternalID uuid.UUID
	Status     models.StationStatus
	Timestamp  int64
}

// Topic is the FCM topic clients subscribe to for a station.
func Topic(externalID uuid.UUID) string {
	return topicPrefix + externalID.String()
}

// BuildMessage encodes n as a data-only FCM message. Android collapses
// pending messages per station so an offline device only gets the latest.
func BuildMessage(n Notification) *messaging.Message {
	externalID := n.ExternalID.String()
	ttl := messageTTL

	return &messaging.Message{
		Topic: Topic(n.ExternalID),
		Data: map[string]string{
			"i": externalID,
			"b": strconv.Itoa(n.Status.BikesAvailable),
			"e": strconv.Itoa(n.Status.EbikesAvailable),
			"a": strconv.Itoa(n.Status.DocksAvailable),
			"u": strconv.FormatInt(n.Timestamp, 10),
		},
		Android: &messaging.AndroidConfig{
			CollapseKey: externalID,
			TTL:         &ttl,
		},
	}
}
