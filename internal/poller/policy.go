package poller

import "fmt"

// Policy decides what a failed feed fetch does to the poll loop.
type Policy int

const (
	// PolicyFatal stops the loop on any failure.
	PolicyFatal Policy = iota
	// PolicyRetry skips the cycle when the failure is retryable. Structural
	// failures still stop the loop.
	PolicyRetry
)

func (p Policy) String() string {
	switch p {
	case PolicyFatal:
		return "fatal"
	case PolicyRetry:
		return "retry"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fatal":
		return PolicyFatal, nil
	case "retry":
		return PolicyRetry, nil
	default:
		return PolicyFatal, fmt.Errorf("invalid feed error policy %q: want fatal or retry", s)
	}
}
