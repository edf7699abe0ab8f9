package sessionlog

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// Lister reads attendance rows and their aggregates.
type Lister interface {
	List(ctx context.Context, limit int) ([]models.AttendanceLog, error)
	GetWatchTimeAggregates(ctx context.Context) (*WatchTimeAggregates, error)
}

// Handler handles GET /attendance.
type Handler struct {
	repo Lister
}

// NewHandler creates a session log handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// GetAttendance handles GET /attendance?limit= (teacher: attendees with join/leave times).
func (h *Handler) GetAttendance(c *gin.Context) {
	limit := 200
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		response.Internal(c, "failed to list attendance")
		return
	}
	agg, err := h.repo.GetWatchTimeAggregates(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to aggregate attendance")
		return
	}
	response.OK(c, gin.H{"attendees": list, "summary": agg})
}
