package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes the audit trail to the admin console.
type Handler struct {
	trail Logger
}

// NewHandler creates a new audit handler.
func NewHandler(trail Logger) *Handler {
	return &Handler{trail: trail}
}

// RegisterRoutes sets up audit routes on an admin-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.List)
}

// List handles GET /audit?action=&actor=&target=&limit=50.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := h.trail.List(c.Request.Context(), Query{
		Action:   c.Query("action"),
		ActorID:  c.Query("actor"),
		TargetID: c.Query("target"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to query audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
