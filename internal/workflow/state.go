package workflow

import (
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// Phase names a workflow state.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAnalyzing           Phase = "analyzing"
	PhaseFrequencyPrompt     Phase = "frequency_prompt"
	PhaseEnablingFrequencies Phase = "enabling_frequencies"
	PhaseWaitingConnection   Phase = "waiting_connection"
	PhaseCompleted           Phase = "completed"
	PhaseFailed              Phase = "failed"
)

// State is the workflow state. Each phase has its own type carrying only the
// data that is valid in that phase.
type State interface {
	Phase() Phase
	isState()
}

// Idle: no run in progress. Failure is set when the previous analyze failed.
type Idle struct {
	Failure *Failure
}

// Analyzing: the analyze call is in flight.
type Analyzing struct {
	Request  models.AnalysisRequest
	Progress models.Progress
}

// FrequencyPrompt: waiting for the operator to apply or skip the frequency
// change. Failure is set when a previous apply attempt failed.
type FrequencyPrompt struct {
	Result   *models.AnalysisResult
	Progress models.Progress
	Failure  *Failure
}

// EnablingFrequencies: the enable call is in flight.
type EnablingFrequencies struct {
	Result   *models.AnalysisResult
	Progress models.Progress
}

// WaitingConnection: the station went offline and the wait call is in flight.
type WaitingConnection struct {
	Result   *models.AnalysisResult
	Progress models.Progress
}

// Completed: the run finished. Connection is set when the station was
// rebooted and came back.
type Completed struct {
	Result     *models.AnalysisResult
	Progress   models.Progress
	Connection *models.ConnectionWaitResult
}

// Failed: the station did not come back in time. Only Reset leaves this state.
type Failed struct {
	Result   *models.AnalysisResult
	Progress models.Progress
	Failure  Failure
}

func (Idle) Phase() Phase                { return PhaseIdle }
func (Analyzing) Phase() Phase           { return PhaseAnalyzing }
func (FrequencyPrompt) Phase() Phase     { return PhaseFrequencyPrompt }
func (EnablingFrequencies) Phase() Phase { return PhaseEnablingFrequencies }
func (WaitingConnection) Phase() Phase   { return PhaseWaitingConnection }
func (Completed) Phase() Phase           { return PhaseCompleted }
func (Failed) Phase() Phase              { return PhaseFailed }

func (Idle) isState()                {}
func (Analyzing) isState()           {}
func (FrequencyPrompt) isState()     {}
func (EnablingFrequencies) isState() {}
func (WaitingConnection) isState()   {}
func (Completed) isState()           {}
func (Failed) isState()              {}

// Failure records the error that moved the workflow and the phase it happened in.
type Failure struct {
	Phase Phase
	Kind  string
	Err   error
}

// Info returns the serializable view of f.
func (f Failure) Info() models.Failure {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return models.Failure{Phase: string(f.Phase), Kind: f.Kind, Message: msg}
}

// ResultOf returns the analysis result held by s, or nil.
func ResultOf(s State) *models.AnalysisResult {
	switch st := s.(type) {
	case FrequencyPrompt:
		return st.Result
	case EnablingFrequencies:
		return st.Result
	case WaitingConnection:
		return st.Result
	case Completed:
		return st.Result
	case Failed:
		return st.Result
	}
	return nil
}

// ProgressOf returns the progress held by s. Idle has none.
func ProgressOf(s State) (models.Progress, bool) {
	switch st := s.(type) {
	case Analyzing:
		return st.Progress, true
	case FrequencyPrompt:
		return st.Progress, true
	case EnablingFrequencies:
		return st.Progress, true
	case WaitingConnection:
		return st.Progress, true
	case Completed:
		return st.Progress, true
	case Failed:
		return st.Progress, true
	}
	return models.Progress{}, false
}

// FailureOf returns the failure held by s, or nil.
func FailureOf(s State) *Failure {
	switch st := s.(type) {
	case Idle:
		return st.Failure
	case FrequencyPrompt:
		return st.Failure
	case Failed:
		f := st.Failure
		return &f
	}
	return nil
}

// Busy reports whether a station call is in flight in s.
func Busy(s State) bool {
	switch s.(type) {
	case Analyzing, EnablingFrequencies, WaitingConnection:
		return true
	}
	return false
}

// Snapshot is the JSON view of the workflow.
type Snapshot struct {
	RunID             string                       `json:"run_id,omitempty"`
	Phase             Phase                        `json:"phase"`
	Busy              bool                         `json:"busy"`
	Request           *models.AnalysisRequest      `json:"request,omitempty"`
	Progress          *models.Progress             `json:"progress,omitempty"`
	Result            *models.AnalysisResult       `json:"result,omitempty"`
	Connection        *models.ConnectionWaitResult `json:"connection,omitempty"`
	Error             *models.Failure              `json:"error,omitempty"`
	FeedbackSubmitted bool                         `json:"feedback_submitted"`
}
