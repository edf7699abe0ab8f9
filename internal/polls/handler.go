package polls

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Finder loads polls that are no longer held by the engine (e.g. from an earlier process).
type Finder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// Presigner signs download links for exported poll results.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	ExportsBucket() string
	PresignExpire() time.Duration
}

// ResultsResponse is the body of GET /polls/:id/results.
type ResultsResponse struct {
	PollID          uuid.UUID             `json:"pollId"`
	Question        string                `json:"question"`
	Status          models.PollStatus     `json:"status"`
	TotalVotes      int                   `json:"totalVotes"`
	CorrectOptionID *int                  `json:"correctOptionId,omitempty"`
	Results         []models.OptionResult `json:"results"`
}

// NewResultsResponse summarizes p's tallies.
func NewResultsResponse(p models.Poll) ResultsResponse {
	return ResultsResponse{
		PollID:          p.ID,
		Question:        p.Question,
		Status:          p.Status,
		TotalVotes:      p.TotalVotes,
		CorrectOptionID: p.CorrectOptionID,
		Results:         p.Results(),
	}
}

// Handler serves the read-only poll HTTP endpoints.
type Handler struct {
	engine  *Engine
	finder  Finder
	exports Presigner
	logger  *zap.Logger
}

// NewHandler creates a polls handler. finder and exports may be nil.
func NewHandler(engine *Engine, finder Finder, exports Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, finder: finder, exports: exports, logger: logger}
}

// List handles GET /polls?isActive=&createdBy=&status=&limit=.
func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if v := c.Query("isActive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "isActive must be true or false")
			return
		}
		f.IsActive = &b
	}
	f.CreatedBy = c.Query("createdBy")
	f.Status = models.PollStatus(c.Query("status"))
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	f.Limit = limit
	response.OK(c, h.engine.List(f))
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	response.OK(c, p)
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	response.OK(c, NewResultsResponse(p))
}

// Export handles GET /polls/:id/export: a pre-signed link to the uploaded results file.
func (h *Handler) Export(c *gin.Context) {
	if h.exports == nil || h.exports.ExportsBucket() == "" {
		response.ServiceUnavailable(c, "poll export is not configured")
		return
	}
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	if p.Status != models.PollCompleted {
		response.Conflict(c, "poll has not completed")
		return
	}
	url, err := h.exports.GeneratePresignedDownloadURL(c.Request.Context(),
		h.exports.ExportsBucket(), storage.PollResultsKey(p.ID.String()), h.exports.PresignExpire())
	if err != nil {
		h.logger.Error("presign poll export", zap.String("poll_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to sign export link")
		return
	}
	response.OK(c, gin.H{"pollId": p.ID, "url": url, "expiresIn": int(h.exports.PresignExpire().Seconds())})
}

func (h *Handler) lookup(c *gin.Context) (models.Poll, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return models.Poll{}, false
	}
	if p, ok := h.engine.Get(id); ok {
		return p, true
	}
	if h.finder != nil {
		p, err := h.finder.GetByID(c.Request.Context(), id)
		if err == nil {
			return *p, true
		}
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("load poll", zap.String("poll_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load poll")
			return models.Poll{}, false
		}
	}
	response.NotFound(c, "poll not found")
	return models.Poll{}, false
}

func parseLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
