package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/api/response"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/store"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// AuditLog is the read side of the analysis audit store.
type AuditLog interface {
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]*models.AnalysisRecord, int, error)
	Stats(ctx context.Context) (*models.AnalysisStats, error)
}

// NewListAnalysesHandler returns an http.HandlerFunc for GET /api/v1/analyses.
func NewListAnalysesHandler(audit AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.AnalysisFilter{
			DeviceIP: q.Get("device_ip"),
			Status:   q.Get("status"),
		}

		var err error
		if v := q.Get("success_only"); v != "" {
			if filter.SuccessOnly, err = strconv.ParseBool(v); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "success_only must be a boolean", nil)
				return
			}
		}
		if filter.Limit, err = intParam(q.Get("limit"), store.DefaultListLimit); err != nil || filter.Limit < 1 || filter.Limit > store.MaxListLimit {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500", nil)
			return
		}
		if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be a non-negative integer", nil)
			return
		}

		records, total, err := audit.ListAnalyses(r.Context(), filter)
		if err != nil {
			slog.Error("listing analyses failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Collection(w, records, response.NewPageMeta(filter.Limit, filter.Offset, total))
	}
}

// NewAnalysisStatsHandler returns an http.HandlerFunc for GET /api/v1/analyses/stats.
func NewAnalysisStatsHandler(audit AuditLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := audit.Stats(r.Context())
		if err != nil {
			slog.Error("aggregating analyses failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, stats)
	}
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
