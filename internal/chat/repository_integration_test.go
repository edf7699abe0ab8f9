package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/testutil"
)

func TestRepositorySaveAndListRecent(t *testing.T) {
	pool := testutil.NewPostgres(t)
	testutil.InsertUser(t, pool, "alice", "Alice", "student")
	repo := NewRepository(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		m := &models.ChatMessage{
			ID:        uuid.New(),
			Text:      "msg",
			Sender:    models.Sender{ID: "alice", DisplayName: "Alice", Role: models.RoleStudent},
			Type:      models.MessageText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Reactions: []models.Reaction{},
		}
		require.NoError(t, repo.Save(ctx, m))
		ids = append(ids, m.ID)
	}

	edited := base.Add(time.Minute)
	update := &models.ChatMessage{
		ID:        ids[2],
		Text:      "edited",
		Sender:    models.Sender{ID: "alice", DisplayName: "Alice", Role: models.RoleStudent},
		Type:      models.MessageText,
		CreatedAt: base.Add(2 * time.Second),
		EditedAt:  &edited,
		Reactions: []models.Reaction{{ParticipantID: "bob", Emoji: "👍", CreatedAt: edited}},
	}
	require.NoError(t, repo.Save(ctx, update))

	got, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)
	assert.Equal(t, "edited", got[1].Text)
	require.Len(t, got[1].Reactions, 1)
	assert.Equal(t, "👍", got[1].Reactions[0].Emoji)
}
