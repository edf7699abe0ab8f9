package polls

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

func TestRepositorySaveAndGet(t *testing.T) {
	pool := testutil.NewPostgres(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &models.Poll{
		ID:       uuid.New(),
		Question: "2+2?",
		Options: []models.Option{
			{ID: 0, Text: "3", Voters: []models.Voter{}},
			{ID: 1, Text: "4", Voters: []models.Voter{}},
		},
		CreatedBy:       "t1",
		CreatedByName:   "Ms. T",
		Duration:        5,
		CorrectOptionID: intPtr(1),
		Status:          models.PollQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Save(ctx, p))

	end := now.Add(5 * time.Second)
	p.Status = models.PollActive
	p.StartTime, p.EndTime = &now, &end
	p.Options[1].Voters = append(p.Options[1].Voters, models.Voter{ParticipantID: "s1", DisplayName: "S1", VotedAt: now})
	p.Options[1].Votes = 1
	p.TotalVotes = 1
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollActive, got.Status)
	assert.Equal(t, 1, got.TotalVotes)
	require.Len(t, got.Options, 2)
	assert.Equal(t, "s1", got.Options[1].Voters[0].ParticipantID)
	require.NotNil(t, got.CorrectOptionID)
	assert.Equal(t, 1, *got.CorrectOptionID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
