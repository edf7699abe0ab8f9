package sessionlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// Repository handles attendance_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a durable participant joins the session.
func (r *Repository) LogJoin(ctx context.Context, p models.Participant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance_logs (participant_id, display_name, role, joined_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.DisplayName, string(p.Role), p.JoinedAt)
	return err
}

// LogLeave closes the participant's most recent open row and records watch seconds.
func (r *Repository) LogLeave(ctx context.Context, participantID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attendance_logs a SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - a.joined_at))::INTEGER)
		 FROM (SELECT id FROM attendance_logs WHERE participant_id = $1 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		participantID)
	return err
}

// List returns attendance rows, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.AttendanceLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, participant_id, display_name, role, joined_at, left_at, watch_seconds
		 FROM attendance_logs ORDER BY joined_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AttendanceLog
	for rows.Next() {
		var (
			row  models.AttendanceLog
			role string
		)
		if err := rows.Scan(&row.ID, &row.ParticipantID, &row.DisplayName, &role, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		row.Role = models.Role(role)
		list = append(list, row)
	}
	return list, rows.Err()
}

// WatchTimeAggregates holds the sum of watch_seconds and the distinct participant count.
type WatchTimeAggregates struct {
	TotalWatchSeconds int64 `json:"totalWatchSeconds"`
	DistinctUsers     int   `json:"distinctUsers"`
}

// GetWatchTimeAggregates summarises closed attendance rows.
func (r *Repository) GetWatchTimeAggregates(ctx context.Context) (*WatchTimeAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT participant_id) FROM attendance_logs WHERE left_at IS NOT NULL`
	var agg WatchTimeAggregates
	err := r.pool.QueryRow(ctx, q).Scan(&agg.TotalWatchSeconds, &agg.DistinctUsers)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
