package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

func TestResolve(t *testing.T) {
	users := &fakeUsers{users: map[string]models.User{
		"alice": {ID: "alice", DisplayName: "Alice", Role: models.RoleStudent},
		"t1":    {ID: "t1", DisplayName: "Ms. T", Role: models.RoleTeacher},
	}}
	r := NewResolver(users, time.Second, zaptest.NewLogger(t))

	t.Run("known id is durable with stored role", func(t *testing.T) {
		id, err := r.Resolve(realtime.ConnInfo{ID: "c1"}, models.Identity{ID: " alice ", Role: models.RoleTeacher})
		require.NoError(t, err)
		assert.Equal(t, models.IdentityDurable, id.Kind)
		assert.Equal(t, "alice", id.ID)
		assert.Equal(t, models.RoleStudent, id.Role)
		assert.Equal(t, "Alice", id.DisplayName)
	})

	t.Run("unknown id is ephemeral", func(t *testing.T) {
		id, err := r.Resolve(realtime.ConnInfo{ID: "c1"}, models.Identity{ID: "guest", DisplayName: "G", Role: models.RoleTeacher})
		require.NoError(t, err)
		assert.Equal(t, models.IdentityEphemeral, id.Kind)
		assert.Equal(t, models.RoleTeacher, id.Role)
	})

	t.Run("stored teacher needs a token", func(t *testing.T) {
		_, err := r.Resolve(realtime.ConnInfo{ID: "c1"}, models.Identity{ID: "t1", DisplayName: "Ms. T", Role: models.RoleStudent})
		assert.ErrorIs(t, err, models.ErrUnauthenticated)

		conn := realtime.ConnInfo{ID: "c1", UserID: "t1", DisplayName: "Ms. T", Role: "teacher", Verified: true}
		id, err := r.Resolve(conn, models.Identity{})
		require.NoError(t, err)
		assert.Equal(t, models.RoleTeacher, id.Role)
		assert.Equal(t, models.IdentityDurable, id.Kind)
	})

	t.Run("verified token wins and is recorded", func(t *testing.T) {
		conn := realtime.ConnInfo{ID: "c1", UserID: "tok-user", DisplayName: "Tok", Role: "teacher", Verified: true}
		id, err := r.Resolve(conn, models.Identity{ID: "alice", DisplayName: "Alice", Role: models.RoleStudent})
		require.NoError(t, err)
		assert.Equal(t, models.IdentityDurable, id.Kind)
		assert.Equal(t, "tok-user", id.ID)
		assert.Equal(t, models.RoleTeacher, id.Role)
		assert.Contains(t, users.upserted, "tok-user")
	})

	t.Run("no user store", func(t *testing.T) {
		id, err := NewResolver(nil, time.Second, nil).Resolve(realtime.ConnInfo{ID: "c1"}, models.Identity{ID: "alice", DisplayName: "A", Role: models.RoleStudent})
		require.NoError(t, err)
		assert.Equal(t, models.IdentityEphemeral, id.Kind)
	})
}
