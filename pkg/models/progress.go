package models

// Progress describes what the workflow is doing right now. It is replaced
// wholesale on every phase transition.
type Progress struct {
	Message                  string  `json:"message"                              msgpack:"message"`
	Recommendation           string  `json:"recommendation,omitempty"             msgpack:"recommendation,omitempty"`
	MaxWaitSeconds           int     `json:"max_wait_seconds,omitempty"           msgpack:"max_wait_seconds,omitempty"`
	ConnectionElapsedSeconds float64 `json:"connection_elapsed_seconds,omitempty" msgpack:"connection_elapsed_seconds,omitempty"`
}

// Failure kinds.
const (
	FailureTransport = "transport"
	FailureStatus    = "analysis_failed"
	FailureTimeout   = "connection_timeout"
	FailureInternal  = "internal"
)

// Failure is the user-facing description of an error that moved the workflow.
type Failure struct {
	Phase   string `json:"phase"   msgpack:"phase"`
	Kind    string `json:"kind"    msgpack:"kind"`
	Message string `json:"message" msgpack:"message"`
}
