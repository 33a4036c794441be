package asset

import (
	"errors"
	"fmt"

	"github.com/socialcdn/image-pipeline/pkg/schema"
)

// Registry-level sentinels. Callers branch on these with errors.Is
// instead of matching message text.
var (
	// ErrNotFound is returned when an asset or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when a claim races with another
	// worker; the losing worker moves on to the next message.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrActiveJobExists is returned when creating a job would violate
	// the one-active-job-per-asset invariant. The caller that loses the
	// race looks up the winning job instead.
	ErrActiveJobExists = errors.New("asset already has an active job")

	// ErrCircuitOpen is returned without touching the registry when the
	// circuit breaker is open. Callers back off instead of timing out.
	ErrCircuitOpen = errors.New("registry circuit open")
)

// RegistryError wraps a database failure so callers can distinguish
// "registry unavailable" from job-level failures. A registry error never
// marks a job failed, because no registry write happened.
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string { return fmt.Sprintf("registry %s: %v", e.Op, e.Err) }
func (e *RegistryError) Unwrap() error { return e.Err }

// UpstreamError is a non-retryable rejection from the image source:
// 4xx responses, unsupported content types, oversized bodies.
type UpstreamError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream rejected %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream rejected %s: %s", e.URL, e.Reason)
}

// TransientError is a retryable network-level failure: timeouts,
// connection refused, DNS errors, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// StorageError is a failed object-store write or probe. Retryable a
// small fixed number of times.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Key, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether a failed attempt should be requeued.
func Retryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return false
	}
	return true
}

// Classify maps an error onto the published failure taxonomy.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return schema.FailureTypePermanent
	}
	return schema.FailureTypeRetryable
}
