package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/httpapi/handlers"
	"github.com/suPer8Hu/dbrag/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.POST("/connect", h.Connect)
	api.POST("/ask", h.Ask)
	api.POST("/index_all", h.IndexAll)

	api.GET("/sessions/:session_id", h.GetSession)
	api.DELETE("/sessions/:session_id", h.DeleteSession)

	api.POST("/index_jobs", h.CreateIndexJob)
	api.GET("/index_jobs/:job_id", h.GetIndexJob)
	return r
}
