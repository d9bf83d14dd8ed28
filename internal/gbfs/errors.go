package gbfs

import (
	"fmt"
	"net/http"
)

// ErrorKind tells apart the ways a feed request can fail.
type ErrorKind int

const (
	// KindTransport covers network failures and timeouts.
	KindTransport ErrorKind = iota
	// KindStatus is a non-2xx answer from the feed.
	KindStatus
	// KindDecode is a body that is not a valid GBFS document.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FeedError represents a failed request to the GBFS feed
type FeedError struct {
	Kind       ErrorKind
	Path       string
	StatusCode int
	Err        error
}

func (e *FeedError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("GBFS feed %s: %s error: HTTP %d", e.Path, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("GBFS feed %s: %s error: %v", e.Path, e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later. Decode
// failures mean the upstream schema no longer matches and are not retryable.
func (e *FeedError) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindStatus:
		return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
