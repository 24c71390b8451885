package store

import (
	"context"
	"errors"

	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface for the analysis audit log.
type Store interface {
	Ping(ctx context.Context) error

	CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	SetFeedback(ctx context.Context, id int64, fb models.Feedback) error
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error)
	Stats(ctx context.Context) (*models.AnalysisStats, error)
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// AnalysisFilter selects audit rows. Zero values mean "no filter".
type AnalysisFilter struct {
	DeviceIP    string
	Status      string
	SuccessOnly bool
	Limit       int
	Offset      int
}

// normalize clamps pagination to the allowed range.
func (f AnalysisFilter) normalize() AnalysisFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
