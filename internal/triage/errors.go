package triage

import (
	"errors"
	"fmt"
	"time"
)

// ExtractionTimeout reports that a classifier call exceeded its stage
// timeout. Timeouts bias toward safety: the caller escalates or flags the
// case for review, never treats the silence as a clear decision.
type ExtractionTimeout struct {
	Stage   string
	Timeout time.Duration
	Err     error
}

func (e *ExtractionTimeout) Error() string {
	return fmt.Sprintf("%s extraction timed out after %s", e.Stage, e.Timeout)
}

func (e *ExtractionTimeout) Unwrap() error {
	return e.Err
}

// ExtractionFailure reports a non-timeout classifier failure: malformed
// response, schema violation, or backend unavailable.
type ExtractionFailure struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s extraction failed: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s extraction failed: %s", e.Stage, e.Reason)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err chains to an ExtractionTimeout.
func IsTimeout(err error) bool {
	var te *ExtractionTimeout
	return errors.As(err, &te)
}

// IsFailure reports whether err chains to any classifier-level failure
// (timeout or otherwise).
func IsFailure(err error) bool {
	var fe *ExtractionFailure
	return errors.As(err, &fe) || IsTimeout(err)
}
