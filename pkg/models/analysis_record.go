package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	FeedbackHelpful    = "helpful"
	FeedbackNotHelpful = "not_helpful"
	FeedbackIncorrect  = "incorrect"
)

// Feedback is the operator's comment on an analysis. Rating is optional.
type Feedback struct {
	Comment string `json:"comment"`
	Rating  string `json:"rating,omitempty"`
}

// AnalysisRecord is the audit row written for every analysis attempt that
// reached the station API.
type AnalysisRecord struct {
	ID              int64          `db:"id"                json:"id"`
	RunID           uuid.UUID      `db:"run_id"            json:"run_id"`
	DeviceIP        string         `db:"device_ip"         json:"device_ip"`
	DeviceMAC       *string        `db:"device_mac"        json:"device_mac,omitempty"`
	DeviceModel     *string        `db:"device_model"      json:"device_model,omitempty"`
	Status          string         `db:"status"            json:"status"`
	Success         bool           `db:"success"           json:"success"`
	ErrorMessage    *string        `db:"error_message"     json:"error_message,omitempty"`
	ExecutionTimeMS int64          `db:"execution_time_ms" json:"execution_time_ms"`
	LLMSummary      *string        `db:"llm_summary"       json:"llm_summary,omitempty"`
	Response        map[string]any `db:"response"          json:"response,omitempty"`
	FeedbackRating  *string        `db:"feedback_rating"   json:"feedback_rating,omitempty"`
	FeedbackComment *string        `db:"feedback_comment"  json:"feedback_comment,omitempty"`
	FeedbackAt      *time.Time     `db:"feedback_at"       json:"feedback_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at"        json:"created_at"`
}

// AnalysisStats aggregates the audit log.
type AnalysisStats struct {
	Total              int            `json:"total_analyses"`
	Successful         int            `json:"successful_analyses"`
	Failed             int            `json:"failed_analyses"`
	SuccessRate        float64        `json:"success_rate"`
	WithFeedback       int            `json:"total_with_feedback"`
	FeedbackByRating   map[string]int `json:"feedback_by_rating"`
	FeedbackRate       float64        `json:"feedback_rate"`
	AvgExecutionTimeMS float64        `json:"avg_execution_time_ms"`
}
