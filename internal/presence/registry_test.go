package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
)

func student(id string, kind models.IdentityKind) models.Identity {
	return models.Identity{ID: id, DisplayName: "name-" + id, Role: models.RoleStudent, Kind: kind}
}

func TestJoinAndFind(t *testing.T) {
	r := NewRegistry()
	res, err := r.Join("c1", student("u1", models.IdentityDurable))
	require.NoError(t, err)
	assert.Nil(t, res.Evicted)
	assert.Equal(t, "c1", res.Participant.ConnectionID)

	p, ok := r.Find("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", p.ID)

	p, ok = r.FindByParticipantID("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", p.ConnectionID)
}

func TestJoinRejectsMalformedIdentity(t *testing.T) {
	r := NewRegistry()
	cases := []models.Identity{
		{DisplayName: "x", Role: models.RoleStudent},
		{ID: "u", Role: models.RoleStudent},
		{ID: "u", DisplayName: "x"},
		{ID: "u", DisplayName: "x", Role: models.RoleSystem},
	}
	for i, id := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := r.Join("c", id)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, 0, r.Count())
		})
	}
}

func TestJoinSameIDEvictsPriorConnection(t *testing.T) {
	r := NewRegistry()
	_, err := r.Join("c1", student("u1", models.IdentityDurable))
	require.NoError(t, err)

	res, err := r.Join("c2", student("u1", models.IdentityDurable))
	require.NoError(t, err)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "c1", res.Evicted.ConnectionID)

	_, ok := r.Find("c1")
	assert.False(t, ok)
	assert.Len(t, r.List(Filter{}), 1)

	// the evicted connection's late disconnect must not remove the new binding
	_, ok = r.Leave("c1")
	assert.False(t, ok)
	p, ok := r.FindByParticipantID("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", p.ConnectionID)
}

func TestRejoinSameConnectionDifferentID(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Join("c1", student("u1", models.IdentityDurable))
	_, err := r.Join("c1", student("u2", models.IdentityDurable))
	require.NoError(t, err)

	_, ok := r.FindByParticipantID("u1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Join("c1", student("u1", models.IdentityEphemeral))

	p, ok := r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", p.ID)

	_, ok = r.Leave("c1")
	assert.False(t, ok)
}

func TestListFilters(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Join("c1", student("u1", models.IdentityDurable))
	_, _ = r.Join("c2", student("anon", models.IdentityEphemeral))
	_, _ = r.Join("c3", models.Identity{ID: "t", DisplayName: "T", Role: models.RoleTeacher, Kind: models.IdentityDurable})

	assert.Len(t, r.List(Filter{}), 3)
	assert.Len(t, r.List(Filter{ExcludeEphemeral: true}), 2)
	teachers := r.List(Filter{Role: models.RoleTeacher})
	require.Len(t, teachers, 1)
	assert.Equal(t, "t", teachers[0].ID)
}

func TestConcurrentJoinsSameIDLeaveOneEntry(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Join(fmt.Sprintf("c%d", i), student("same", models.IdentityDurable))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, r.Count())
	_, ok := r.FindByParticipantID("same")
	assert.True(t, ok)
}
