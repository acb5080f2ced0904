package governor

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrQuotaExceeded means a rule is Closed. Recoverable by waiting
	// until the decision's RetryAfter.
	ErrQuotaExceeded = errors.New("warden: quota hard stop reached")

	// ErrNoUsableAuthSource means every credential for the provider is
	// exhausted or rejected until its owning window resets.
	ErrNoUsableAuthSource = errors.New("warden: no usable auth source")

	// ErrStorageFailure means the ledger could not be read or written.
	// Fatal to the current call: an un-logged external call risks
	// silently exceeding a hard external limit, so the governor
	// refuses to admit when it cannot durably record.
	ErrStorageFailure = errors.New("warden: usage ledger storage failure")
)

// DeniedError is the operator-facing form of a denial: the provider
// name and the computed reset time, not a raw internal state dump.
type DeniedError struct {
	Provider   string
	Reason     DenyReason
	RetryAfter time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("warden: provider %s denied (%s), retry after %s",
		e.Provider, e.Reason, e.RetryAfter.UTC().Format(time.RFC3339))
}

func (e *DeniedError) Unwrap() error {
	if e.Reason == DenyNoUsableAuthSource {
		return ErrNoUsableAuthSource
	}
	return ErrQuotaExceeded
}

// IsRecoverable reports whether the caller can retry after waiting.
// Storage failures are not recoverable by waiting; the ledger must be
// healthy before any further admission.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrNoUsableAuthSource)
}
