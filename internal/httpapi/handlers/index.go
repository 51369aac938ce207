package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/jobs"
)

type indexReq struct {
	SessionID string `json:"session_id" binding:"required"`
	MaxRows   int    `json:"max_rows"`
}

// IndexAll indexes synchronously and returns per-table stats.
func (h *Handler) IndexAll(c *gin.Context) {
	var req indexReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}

	sess, err := h.Sessions.Get(req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	stats, err := h.Indexer.IndexAll(c.Request.Context(), sess, req.MaxRows)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"status": "ok", "stats": stats})
}

// CreateIndexJob queues index-all in the background. An Idempotency-Key
// header makes retries of the same request return the same job.
func (h *Handler) CreateIndexJob(c *gin.Context) {
	var req indexReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	job, created, err := h.Jobs.Submit(c.Request.Context(), req.SessionID, req.MaxRows, idempoKey)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"job_id": job.ID, "status": job.Status, "created": created})
}

func (h *Handler) GetIndexJob(c *gin.Context) {
	j, err := h.Jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	stats, err := jobs.DecodeStats(j)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"session_id": j.SessionID,
			"status":     j.Status,
			"attempts":   j.Attempts,
			"max_rows":   j.MaxRows,
			"stats":      stats,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}
