package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrNoResult          = errors.New("no analysis result in the current run")
	ErrFeedbackSubmitted = errors.New("feedback already submitted for this run")
)

// ValidationError rejects an intent before any station call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TransitionError is returned when an intent is not valid in the current phase.
type TransitionError struct {
	Op    string
	Phase Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.Phase)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ConnectionTimeoutError means the station did not come back within the
// wait window. It ends the run; only Reset recovers.
type ConnectionTimeoutError struct {
	Attempts       int
	ElapsedSeconds float64
	MaxWaitSeconds int
	Err            error
}

func (e *ConnectionTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device did not reconnect within %ds: %v", e.MaxWaitSeconds, e.Err)
	}
	return fmt.Sprintf("device did not reconnect within %ds (%d attempts, %.0fs elapsed)",
		e.MaxWaitSeconds, e.Attempts, e.ElapsedSeconds)
}

func (e *ConnectionTimeoutError) Unwrap() error { return e.Err }

// AnalysisFailedError is the station reporting a non-success analysis.
type AnalysisFailedError struct {
	Status  string
	Message string
}

func (e *AnalysisFailedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("analysis returned status %q", e.Status)
}
