package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"github.com/suPer8Hu/dbrag/internal/session"
)

type connectReq struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database" binding:"required"`
}

type connectResp struct {
	SessionID   string             `json:"session_id"`
	Tables      []string           `json:"tables"`
	TextColumns []schema.ColumnRef `json:"text_columns"`
}

func (h *Handler) Connect(c *gin.Context) {
	var req connectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if req.Port == 0 {
		req.Port = 3306
	}

	sess, err := h.Connector.Connect(c.Request.Context(), session.Credentials{
		Driver:   req.Driver,
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		Password: req.Password,
		Database: req.Database,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	textCols := sess.TextColumns
	if textCols == nil {
		textCols = []schema.ColumnRef{}
	}
	common.OK(c, connectResp{
		SessionID:   sess.ID,
		Tables:      sess.Schema.TableNames(),
		TextColumns: textCols,
	})
}

type sessionResp struct {
	SessionID   string             `json:"session_id"`
	Driver      string             `json:"driver"`
	Database    string             `json:"database"`
	Tables      []string           `json:"tables"`
	TextColumns []schema.ColumnRef `json:"text_columns"`
	Indexed     int                `json:"indexed"`
	CreatedAt   time.Time          `json:"created_at"`
	LastUsed    time.Time          `json:"last_used"`
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, sessionResp{
		SessionID:   sess.ID,
		Driver:      sess.Driver,
		Database:    sess.Database,
		Tables:      sess.Schema.TableNames(),
		TextColumns: sess.TextColumns,
		Indexed:     h.Index.Count(sess.ID),
		CreatedAt:   sess.CreatedAt,
		LastUsed:    sess.LastUsed(),
	})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("session_id")
	if err := h.Sessions.Remove(id); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": id})
}
