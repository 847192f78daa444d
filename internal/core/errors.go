package core

import (
	"errors"
	"fmt"
)

// Error kinds for the pipeline and chat surface. Callers classify failures
// with errors.Is; adapters wrap the underlying cause with fmt.Errorf("%w").
var (
	// ErrNotFound marks documents or sessions not visible under the caller's
	// tenant. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed marks a request whose prior stage has not
	// completed (e.g. embedding before extraction). Never retried
	// automatically; the caller must re-trigger the missing stage.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrTransient marks timeouts and upstream 5xx-style failures from OCR,
	// vision, embedding or completion backends. Retried with bounded
	// exponential backoff by the orchestrator.
	ErrTransient = errors.New("transient service failure")

	// ErrInvalidConfig marks programmer or configuration errors (missing
	// tenant, bad chunk/overlap values, missing credentials). Fatal.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NotFoundf builds a tenant-scoped not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// PreconditionFailedf builds a precondition error.
func PreconditionFailedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

// InvalidConfigf builds a fatal configuration error.
func InvalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Transientf wraps err as a retryable transient failure, keeping the
// original cause in the chain.
func Transientf(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// IsRetryable reports whether the orchestrator may retry the failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
