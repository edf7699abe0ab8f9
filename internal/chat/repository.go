package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// Repository handles chat message persistence. Reactions are stored inline as JSONB.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts the message or updates its mutable fields.
func (r *Repository) Save(ctx context.Context, m *models.ChatMessage) error {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}
	const query = `INSERT INTO chat_messages
		(id, text, sender_id, sender_name, sender_role, poll_id, room, type, is_deleted, edited_at, reactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			is_deleted = EXCLUDED.is_deleted,
			edited_at = EXCLUDED.edited_at,
			reactions = EXCLUDED.reactions`
	_, err = r.pool.Exec(ctx, query,
		m.ID, m.Text, m.Sender.ID, m.Sender.DisplayName, string(m.Sender.Role), m.PollID, m.Room,
		string(m.Type), m.IsDeleted, m.EditedAt, reactions, m.CreatedAt)
	return err
}

// ListRecent returns up to limit most recent messages, oldest first. Deleted messages are
// included so edits and audits keep working; readers filter them.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	const query = `SELECT id, text, sender_id, sender_name, sender_role, poll_id, room, type, is_deleted, edited_at, reactions, created_at
		FROM (
			SELECT * FROM chat_messages ORDER BY created_at DESC LIMIT $1
		) recent
		ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m         models.ChatMessage
			role, typ string
			reactions []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.Sender.ID, &m.Sender.DisplayName, &role, &m.PollID, &m.Room,
			&typ, &m.IsDeleted, &m.EditedAt, &reactions, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender.Role = models.Role(role)
		m.Type = models.MessageType(typ)
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return nil, fmt.Errorf("decode reactions: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
