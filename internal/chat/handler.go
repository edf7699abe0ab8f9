package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/pkg/response"
)

// Handler serves chat history over HTTP.
type Handler struct {
	relay *Relay
}

// NewHandler creates a chat handler.
func NewHandler(relay *Relay) *Handler {
	return &Handler{relay: relay}
}

// List handles GET /messages?room=&pollId=&limit=.
func (h *Handler) List(c *gin.Context) {
	f := HistoryFilter{Room: c.Query("room")}
	if v := c.Query("pollId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid pollId")
			return
		}
		f.PollID = &id
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	response.OK(c, gin.H{"messages": h.relay.History(f)})
}
