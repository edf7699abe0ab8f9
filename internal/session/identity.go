package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

// UserStore looks up and records durable users.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, u *models.User) error
}

// Resolver decides, once per join, whether an identity is durable or ephemeral.
type Resolver struct {
	users   UserStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver. users may be nil, in which case only token-verified
// connections are durable.
func NewResolver(users UserStore, timeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{users: users, timeout: timeout, logger: logger}
}

// Resolve combines the connection's verified token (if any) with the identity the client claims.
// A verified token wins over claimed fields and is recorded in the user store. Otherwise the
// claimed id is durable only if a user record exists for it, and that record's role applies.
// A stored teacher account cannot be claimed without a token.
func (r *Resolver) Resolve(conn realtime.ConnInfo, claimed models.Identity) (models.Identity, error) {
	claimed.ID = strings.TrimSpace(claimed.ID)
	claimed.DisplayName = strings.TrimSpace(claimed.DisplayName)

	if conn.Verified {
		id := models.Identity{
			ID:          conn.UserID,
			DisplayName: conn.DisplayName,
			Role:        models.Role(conn.Role),
			Kind:        models.IdentityDurable,
		}
		if id.DisplayName == "" {
			id.DisplayName = claimed.DisplayName
		}
		if id.Role == "" {
			id.Role = claimed.Role
		}
		r.record(id)
		return id, nil
	}

	claimed.Kind = models.IdentityEphemeral
	if r.users == nil || claimed.ID == "" {
		return claimed, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	u, err := r.users.GetByID(ctx, claimed.ID)
	switch {
	case err == nil && u.Role == models.RoleTeacher:
		return models.Identity{}, fmt.Errorf("%w: teacher account %s requires a token", models.ErrUnauthenticated, claimed.ID)
	case err == nil:
		claimed.Kind = models.IdentityDurable
		claimed.Role = u.Role
		if claimed.DisplayName == "" {
			claimed.DisplayName = u.DisplayName
		}
	case errors.Is(err, models.ErrNotFound):
	default:
		r.logger.Warn("user lookup failed, treating as ephemeral", zap.String("participant_id", claimed.ID), zap.Error(err))
	}
	return claimed, nil
}

func (r *Resolver) record(id models.Identity) {
	if r.users == nil || !id.Role.Valid() || id.DisplayName == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.users.Upsert(ctx, &models.User{ID: id.ID, DisplayName: id.DisplayName, Role: id.Role}); err != nil {
		r.logger.Warn("record verified user", zap.String("participant_id", id.ID), zap.Error(err))
	}
}
