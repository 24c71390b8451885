package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/api/response"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/station"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/workflow"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// Workflow is the orchestrator surface the station handlers depend on.
type Workflow interface {
	Start(req models.AnalysisRequest) error
	ConfirmApplyFrequencies() error
	SkipFrequencies() error
	Reset()
	SubmitFeedback(ctx context.Context, fb models.Feedback) error
	Snapshot() workflow.Snapshot
	History(ctx context.Context) []models.HistoryEntry
	FlowStatus(ctx context.Context, ip string) (models.FlowStatus, error)
}

// NewStateHandler returns an http.HandlerFunc for GET /api/v1/station/state.
func NewStateHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, wf.Snapshot())
	}
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/station/analyze.
func NewAnalyzeHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := wf.Start(req); err != nil {
			writeWorkflowError(w, err)
			return
		}
		response.Accepted(w, wf.Snapshot())
	}
}

// NewApplyFrequenciesHandler returns an http.HandlerFunc for
// POST /api/v1/station/frequencies/apply.
func NewApplyFrequenciesHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := wf.ConfirmApplyFrequencies(); err != nil {
			writeWorkflowError(w, err)
			return
		}
		response.Accepted(w, wf.Snapshot())
	}
}

// NewSkipFrequenciesHandler returns an http.HandlerFunc for
// POST /api/v1/station/frequencies/skip.
func NewSkipFrequenciesHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := wf.SkipFrequencies(); err != nil {
			writeWorkflowError(w, err)
			return
		}
		response.JSON(w, wf.Snapshot())
	}
}

// NewResetHandler returns an http.HandlerFunc for POST /api/v1/station/reset.
func NewResetHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		wf.Reset()
		response.JSON(w, wf.Snapshot())
	}
}

// NewFeedbackHandler returns an http.HandlerFunc for POST /api/v1/station/feedback.
func NewFeedbackHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fb models.Feedback
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := wf.SubmitFeedback(r.Context(), fb); err != nil {
			writeWorkflowError(w, err)
			return
		}
		response.JSON(w, map[string]any{"submitted": true})
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/station/history.
func NewHistoryHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, wf.History(r.Context()))
	}
}

// NewFlowStatusHandler returns an http.HandlerFunc for
// GET /api/v1/station/flow-status/{ip}.
func NewFlowStatusHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := wf.FlowStatus(r.Context(), chi.URLParam(r, "ip"))
		if err != nil {
			var terr *station.TransportError
			switch {
			case errors.As(err, new(*workflow.ValidationError)):
				writeWorkflowError(w, err)
			case errors.Is(err, station.ErrTimeout):
				response.Error(w, http.StatusGatewayTimeout, "STATION_TIMEOUT",
					"The station API did not respond in time", nil)
			case errors.As(err, &terr):
				response.Error(w, http.StatusBadGateway, "STATION_UNAVAILABLE", terr.Error(), nil)
			default:
				slog.Error("flow status failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.JSON(w, status)
	}
}

// writeWorkflowError maps orchestrator errors to envelope codes.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", verr.Error(),
			map[string]string{"field": verr.Field})
	case errors.Is(err, workflow.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, workflow.ErrNoResult):
		response.Error(w, http.StatusConflict, "NO_RESULT", "No analysis result to give feedback on", nil)
	case errors.Is(err, workflow.ErrFeedbackSubmitted):
		response.Error(w, http.StatusConflict, "FEEDBACK_ALREADY_SUBMITTED",
			"Feedback was already submitted for this analysis", nil)
	default:
		slog.Error("workflow intent failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
