package station

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Operation names carried by TransportError.
const (
	OpAnalyze           = "analyze"
	OpEnableFrequencies = "enable_frequencies"
	OpWaitForConnection = "wait_for_connection"
	OpFlowStatus        = "flow_status"
)

// Sentinel causes wrapped by TransportError.
var (
	ErrUnreachable     = errors.New("station api unreachable")
	ErrTimeout         = errors.New("station api timeout")
	ErrInvalidResponse = errors.New("station api returned invalid response")
)

// TransportError is returned for any failed station API call: a non-2xx
// status (StatusCode/Status set) or a network/decoding failure (Err set).
type TransportError struct {
	Op         string
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("station %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("station %s: %s (status %d)", e.Op, e.Status, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyError maps transport-level errors to sentinel errors.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}

	return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
}
