package backend

import (
	"errors"
	"fmt"
)

// Error kinds returned by the adapter. Callers map these to transport-level
// status codes; none of them is fatal to the process.
var (
	// ErrBackendUnavailable means no transport could be established at all.
	ErrBackendUnavailable = errors.New("no inference backend available")

	// ErrUnsupportedByMode means a backend is active but the operation
	// requires a richer transport than the active one.
	ErrUnsupportedByMode = errors.New("operation not supported by active backend")

	// ErrStreamingUnsupported is the streaming-specific case of
	// ErrUnsupportedByMode, kept distinct because it is the most common.
	ErrStreamingUnsupported = errors.New("streaming not supported by active backend")

	// ErrCliTimeout means the CLI subprocess exceeded its time budget and
	// was terminated.
	ErrCliTimeout = errors.New("cli invocation timed out")

	// ErrCliOutputTooLarge means the CLI subprocess exceeded the captured
	// output limit and was terminated.
	ErrCliOutputTooLarge = errors.New("cli output exceeded size limit")
)

// UpstreamError wraps a failure reported by the active transport itself.
// Message (and status code, when the transport is HTTP) are passed through
// verbatim so the operator can diagnose the real backend fault.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
	}
	return "upstream error: " + e.Message
}
