// Package models contains shared data models used across the station analysis service.
package models

const (
	AnalysisStatusSuccess = "success"
	AnalysisStatusFailure = "failure"
)

// AnalysisRequest identifies the station to analyze. DeviceMAC is optional.
type AnalysisRequest struct {
	DeviceIP  string `json:"ip"`
	DeviceMAC string `json:"mac,omitempty"`
}

// LLMAnalysis is the model-generated assessment attached to an analysis.
type LLMAnalysis struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// AnalysisResult is the outcome of analyzing a station.
type AnalysisResult struct {
	IP                   string         `json:"ip"`
	IdentifiedModel      string         `json:"identified_model"`
	Status               string         `json:"status"`
	NeedsFrequencyEnable bool           `json:"needs_frequency_enable"`
	LLMAnalysis          *LLMAnalysis   `json:"llm_analysis,omitempty"`
	DeviceData           map[string]any `json:"device_data,omitempty"`
	Message              string         `json:"message,omitempty"`
}

// Succeeded reports whether the station API considered the analysis successful.
func (r *AnalysisResult) Succeeded() bool {
	return r.Status == AnalysisStatusSuccess
}

// Summary returns the LLM summary, or "" when no LLM analysis is attached.
func (r *AnalysisResult) Summary() string {
	if r.LLMAnalysis == nil {
		return ""
	}
	return r.LLMAnalysis.Summary
}

// FrequencyEnableResult is returned after the frequency change is applied.
type FrequencyEnableResult struct {
	Message       string `json:"message"`
	DeviceOffline bool   `json:"device_offline"`
}

// ConnectionWaitResult reports whether a rebooting station came back online.
type ConnectionWaitResult struct {
	ConnectionRestored bool    `json:"connection_restored"`
	Attempts           int     `json:"attempts"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
}

// FlowStatus is the opaque connectivity payload returned by the station API.
type FlowStatus map[string]any
