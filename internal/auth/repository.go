package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// Repository reads durable user records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.User, error) {
	const q = `SELECT id, display_name, role, created_at FROM users WHERE id = $1`
	var (
		u    models.User
		role string
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.DisplayName, &role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

// Upsert records a user verified by token so their messages and attendance can be stored.
func (r *Repository) Upsert(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, u.ID, u.DisplayName, string(u.Role)).Scan(&u.CreatedAt)
}
