package ticket

import "fmt"

// FetchCause classifies why a source fetch failed.
type FetchCause string

// Fetch failure causes surfaced in per-source outcomes.
const (
	FetchTimeout   FetchCause = "timeout"
	FetchMalformed FetchCause = "malformed_response"
	FetchBlocked   FetchCause = "blocked"
	FetchUnknown   FetchCause = "unknown"
)

// FetchError is a per-source, non-fatal fetch failure. It never crosses
// the orchestrator boundary; the orchestrator converts it into that
// source's outcome for the cycle.
type FetchError struct {
	Source Source
	Cause  FetchCause
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Cause, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with a source and cause.
func NewFetchError(source Source, cause FetchCause, err error) *FetchError {
	if cause == "" {
		cause = FetchUnknown
	}
	return &FetchError{Source: source, Cause: cause, Err: err}
}

// ValidationError rejects a single raw listing during normalization. The
// record is dropped and counted; it is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid listing: " + e.Reason
}

// DedupStoreError signals a durable-write failure in the dedup store. The
// corresponding notification must not be treated as confirmed.
type DedupStoreError struct {
	Err error
}

func (e *DedupStoreError) Error() string {
	return fmt.Sprintf("dedup store: %v", e.Err)
}

func (e *DedupStoreError) Unwrap() error { return e.Err }

// DeliveryError is a per-ticket webhook delivery failure after in-cycle
// retries were exhausted. The ticket stays uncommitted and reappears as
// new in the next cycle.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transient reports whether another attempt could plausibly succeed.
// Network failures, rate limiting and 5xx responses qualify; any other
// 4xx means the request itself is bad.
func (e *DeliveryError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}
