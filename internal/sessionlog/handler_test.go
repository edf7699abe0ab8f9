package sessionlog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
)

type stubLister struct {
	logs      []models.AttendanceLog
	agg       *WatchTimeAggregates
	err       error
	lastLimit int
}

func (s *stubLister) List(_ context.Context, limit int) ([]models.AttendanceLog, error) {
	s.lastLimit = limit
	return s.logs, s.err
}

func (s *stubLister) GetWatchTimeAggregates(context.Context) (*WatchTimeAggregates, error) {
	return s.agg, s.err
}

func serve(t *testing.T, h *Handler, path string) (int, map[string]json.RawMessage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/attendance", h.GetAttendance)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestGetAttendance(t *testing.T) {
	left := time.Now()
	repo := &stubLister{
		logs: []models.AttendanceLog{{ID: 1, ParticipantID: "alice", DisplayName: "Alice", Role: models.RoleStudent, JoinedAt: left.Add(-time.Minute), LeftAt: &left, WatchSeconds: 60}},
		agg:  &WatchTimeAggregates{TotalWatchSeconds: 60, DistinctUsers: 1},
	}
	code, body := serve(t, NewHandler(repo), "/attendance")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 200, repo.lastLimit)

	var data struct {
		Attendees []models.AttendanceLog `json:"attendees"`
		Summary   WatchTimeAggregates    `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body["data"], &data))
	require.Len(t, data.Attendees, 1)
	assert.Equal(t, "alice", data.Attendees[0].ParticipantID)
	assert.Equal(t, int64(60), data.Attendees[0].WatchSeconds)
}

func TestGetAttendanceErrors(t *testing.T) {
	code, _ := serve(t, NewHandler(&stubLister{}), "/attendance?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, NewHandler(&stubLister{err: errors.New("db down")}), "/attendance?limit=5")
	assert.Equal(t, http.StatusInternalServerError, code)
}
