package models

// HistoryEntry is one past analysis outcome. ID is the creation time in unix
// milliseconds, bumped when needed so IDs stay strictly increasing.
type HistoryEntry struct {
	ID          int64        `json:"id"`
	Timestamp   string       `json:"timestamp"`
	IP          string       `json:"ip"`
	Model       string       `json:"model"`
	Status      string       `json:"status"`
	LLMAnalysis *LLMAnalysis `json:"llm_analysis,omitempty"`
}
