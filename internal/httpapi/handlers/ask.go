package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/dbrag/internal/common"
)

type askReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
	K         int    `json:"k"`
}

func (h *Handler) Ask(c *gin.Context) {
	var req askReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}

	sess, err := h.Sessions.Get(req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	ans, err := h.Orchestrator.Answer(c.Request.Context(), sess, req.Question, req.K)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, ans)
}
