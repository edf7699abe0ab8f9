package polls

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
)

type stubFinder struct {
	polls map[uuid.UUID]models.Poll
	err   error
}

func (f stubFinder) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.polls[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

type stubPresigner struct {
	bucket  string
	lastKey string
}

func (s *stubPresigner) GeneratePresignedDownloadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	s.lastKey = key
	return "https://" + bucket + ".example/" + key + "?sig=1", nil
}

func (s *stubPresigner) ExportsBucket() string        { return s.bucket }
func (s *stubPresigner) PresignExpire() time.Duration { return 10 * time.Minute }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/polls", h.List)
	r.GET("/polls/:id", h.Get)
	r.GET("/polls/:id/results", h.Results)
	r.GET("/polls/:id/export", h.Export)
	return r
}

func doGet(t *testing.T, r http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandlerListAndFilters(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, _, _ = e.Create(input("a", 5, "x", "y"))
	_, _, _ = e.Create(input("b", 5, "x", "y"))
	e.AdvanceQueue()
	r := newTestRouter(NewHandler(e, nil, nil, nil))

	code, body := doGet(t, r, "/polls?isActive=true")
	require.Equal(t, http.StatusOK, code)
	var list []models.Poll
	require.NoError(t, json.Unmarshal(body.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Question)

	code, _ = doGet(t, r, "/polls?isActive=maybe")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = doGet(t, r, "/polls?limit=-3")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerGetFallsBackToStore(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	old := models.Poll{ID: uuid.New(), Question: "from yesterday", Status: models.PollCompleted}
	r := newTestRouter(NewHandler(e, stubFinder{polls: map[uuid.UUID]models.Poll{old.ID: old}}, nil, nil))

	code, body := doGet(t, r, "/polls/"+old.ID.String())
	require.Equal(t, http.StatusOK, code)
	var p models.Poll
	require.NoError(t, json.Unmarshal(body.Data, &p))
	assert.Equal(t, "from yesterday", p.Question)

	code, _ = doGet(t, r, "/polls/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = doGet(t, r, "/polls/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerGetStoreErrorIsInternal(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	r := newTestRouter(NewHandler(e, stubFinder{err: errors.New("boom")}, nil, nil))
	code, _ := doGet(t, r, "/polls/"+uuid.NewString())
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHandlerResults(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	p, _, _ := e.Create(input("q", 10, "x", "y"))
	e.AdvanceQueue()
	_, _ = e.Vote(p.ID, "s1", "S1", 1)
	r := newTestRouter(NewHandler(e, nil, nil, nil))

	code, body := doGet(t, r, "/polls/"+p.ID.String()+"/results")
	require.Equal(t, http.StatusOK, code)
	var res ResultsResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 1, res.TotalVotes)
	assert.Equal(t, 100, res.Results[1].Percentage)
	assert.Equal(t, 0, res.Results[0].Percentage)
}

func TestHandlerExport(t *testing.T) {
	e, sched, _ := newTestEngine(t, nil)
	p, _, _ := e.Create(input("q", 5, "x", "y"))
	e.AdvanceQueue()

	code, _ := doGet(t, newTestRouter(NewHandler(e, nil, nil, nil)), "/polls/"+p.ID.String()+"/export")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	presigner := &stubPresigner{bucket: "exports"}
	r := newTestRouter(NewHandler(e, nil, presigner, nil))
	code, _ = doGet(t, r, "/polls/"+p.ID.String()+"/export")
	assert.Equal(t, http.StatusConflict, code)

	sched.Advance(5 * time.Second)
	code, body := doGet(t, r, "/polls/"+p.ID.String()+"/export")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), "sig=1")
	assert.Equal(t, "polls/"+p.ID.String()+"/results.json", presigner.lastKey)
}
