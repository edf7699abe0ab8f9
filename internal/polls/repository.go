package polls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// Repository handles poll persistence. Options and their voters are stored inline as JSONB.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, question, options, created_by, created_by_name, duration, correct_option_id,
	status, start_time, end_time, ended_at, total_votes, created_at, updated_at`

// Save inserts the poll or overwrites the stored copy.
func (r *Repository) Save(ctx context.Context, p *models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `INSERT INTO polls (` + pollColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			options = EXCLUDED.options,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			ended_at = EXCLUDED.ended_at,
			total_votes = EXCLUDED.total_votes,
			updated_at = EXCLUDED.updated_at`
	_, err = r.pool.Exec(ctx, query,
		p.ID, p.Question, options, p.CreatedBy, p.CreatedByName, p.Duration, p.CorrectOptionID,
		string(p.Status), p.StartTime, p.EndTime, p.EndedAt, p.TotalVotes, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE id = $1`
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: poll %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var (
		p       models.Poll
		options []byte
		status  string
	)
	err := row.Scan(&p.ID, &p.Question, &options, &p.CreatedBy, &p.CreatedByName, &p.Duration, &p.CorrectOptionID,
		&status, &p.StartTime, &p.EndTime, &p.EndedAt, &p.TotalVotes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PollStatus(status)
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &p, nil
}
