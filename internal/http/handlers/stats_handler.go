// Reporting HTTP handlers.
//
// This file exposes the per-business statistics endpoint:
//   - GET /businesses/{id}/stats
//
// The handler is transport-thin: it calls the stats service (which serves
// from the stampede-safe cache) and translates errors into HTTP responses.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-inquiry-backend/internal/services"
)

// GetBusinessStats handles GET /businesses/:id/stats.
func (h *Handlers) GetBusinessStats(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "business id is required")
		return
	}

	stats, err := h.stats.BusinessStats(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrBusinessNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "business not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, "failed to compute statistics")
		return
	}
	ok(c, http.StatusOK, stats)
}
