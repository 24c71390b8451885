package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const analysisColumns = `id, run_id, device_ip, device_mac, device_model, status, success, error_message,
	execution_time_ms, llm_summary, response, feedback_rating, feedback_comment, feedback_at, created_at`

// CreateAnalysis inserts rec and fills in its ID and CreatedAt.
func (s *PostgresStore) CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO device_analyses (run_id, device_ip, device_mac, device_model, status, success,
		   error_message, execution_time_ms, llm_summary, response)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		rec.RunID, rec.DeviceIP, rec.DeviceMAC, rec.DeviceModel, rec.Status, rec.Success,
		rec.ErrorMessage, rec.ExecutionTimeMS, rec.LLMSummary, rec.Response,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

// SetFeedback attaches operator feedback to an existing analysis.
func (s *PostgresStore) SetFeedback(ctx context.Context, id int64, fb models.Feedback) error {
	var rating *string
	if fb.Rating != "" {
		rating = &fb.Rating
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE device_analyses SET feedback_rating = $2, feedback_comment = $3, feedback_at = NOW()
		 WHERE id = $1`, id, rating, fb.Comment)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAnalyses returns matching rows newest first, plus the total match count.
func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error) {
	filter = filter.normalize()

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.DeviceIP != "" {
		conditions = append(conditions, fmt.Sprintf("device_ip = $%d", argIdx))
		args = append(args, filter.DeviceIP)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.SuccessOnly {
		conditions = append(conditions, "success")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM device_analyses WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM device_analyses WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		analysisColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	records := []*models.AnalysisRecord{}
	for rows.Next() {
		var r models.AnalysisRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.DeviceIP, &r.DeviceMAC, &r.DeviceModel, &r.Status,
			&r.Success, &r.ErrorMessage, &r.ExecutionTimeMS, &r.LLMSummary, &r.Response,
			&r.FeedbackRating, &r.FeedbackComment, &r.FeedbackAt, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		records = append(records, &r)
	}
	return records, total, rows.Err()
}

// GetAnalysis returns a single audit row.
func (s *PostgresStore) GetAnalysis(ctx context.Context, id int64) (*models.AnalysisRecord, error) {
	var r models.AnalysisRecord
	err := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM device_analyses WHERE id = $1`, id,
	).Scan(&r.ID, &r.RunID, &r.DeviceIP, &r.DeviceMAC, &r.DeviceModel, &r.Status,
		&r.Success, &r.ErrorMessage, &r.ExecutionTimeMS, &r.LLMSummary, &r.Response,
		&r.FeedbackRating, &r.FeedbackComment, &r.FeedbackAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return &r, nil
}

// Stats aggregates the whole audit log. Rates are percentages rounded to two
// decimals; the execution time average covers successful analyses only.
func (s *PostgresStore) Stats(ctx context.Context) (*models.AnalysisStats, error) {
	st := &models.AnalysisStats{FeedbackByRating: map[string]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COUNT(*) FILTER (WHERE feedback_comment IS NOT NULL),
		        COALESCE(AVG(execution_time_ms) FILTER (WHERE success), 0)::float8
		 FROM device_analyses`,
	).Scan(&st.Total, &st.Successful, &st.WithFeedback, &st.AvgExecutionTimeMS)
	if err != nil {
		return nil, fmt.Errorf("aggregate analyses: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT feedback_rating, COUNT(*) FROM device_analyses
		 WHERE feedback_rating IS NOT NULL GROUP BY feedback_rating`)
	if err != nil {
		return nil, fmt.Errorf("aggregate feedback: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rating string
		var n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, fmt.Errorf("scan feedback rating: %w", err)
		}
		st.FeedbackByRating[rating] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st.Failed = st.Total - st.Successful
	st.SuccessRate = percent(st.Successful, st.Total)
	st.FeedbackRate = percent(st.WithFeedback, st.Total)
	st.AvgExecutionTimeMS = math.Round(st.AvgExecutionTimeMS*100) / 100
	return st, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
