package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/murmur/internal/models"
)

// ListScheduled lists scheduled posts, ?status= narrows to one state.
func (e *Env) ListScheduled(c *gin.Context) {
	status := models.ScheduleStatus(c.Query("status"))
	switch status {
	case "", models.StatusPending, models.StatusPublishing, models.StatusPublished, models.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status " + string(status)})
		return
	}
	rows, err := e.Scheduler.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]ScheduledPostPayload, len(rows))
	for i := range rows {
		out[i] = scheduledPostPayload(&rows[i])
	}
	c.JSON(http.StatusOK, out)
}

// RetryScheduled re-queues a failed scheduled post.
func (e *Env) RetryScheduled(c *gin.Context) {
	id, ok := pathID(c, "scheduled post")
	if !ok {
		return
	}
	row, err := e.Scheduler.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, scheduledPostPayload(row))
}
