package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/testutil"
)

func TestRepositoryUpsertAndGet(t *testing.T) {
	pool := testutil.NewPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, &models.User{ID: "t1", DisplayName: "Ms. T", Role: models.RoleTeacher}))
	require.NoError(t, repo.Upsert(ctx, &models.User{ID: "t1", DisplayName: "Dr. T", Role: models.RoleTeacher}))

	u, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. T", u.DisplayName)
	assert.Equal(t, models.RoleTeacher, u.Role)
}
