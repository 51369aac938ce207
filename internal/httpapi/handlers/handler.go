package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/httpapi/middleware"
	"github.com/suPer8Hu/dbrag/internal/jobs"
	"github.com/suPer8Hu/dbrag/internal/rag"
	"github.com/suPer8Hu/dbrag/internal/session"
	"github.com/suPer8Hu/dbrag/internal/vector"
)

type Handler struct {
	Sessions     *session.Store
	Connector    *session.Connector
	Orchestrator *rag.Orchestrator
	Indexer      *rag.Indexer
	Index        *vector.Index
	Jobs         *jobs.Service
	Log          logrus.FieldLogger
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, "pong")
}

type failure struct {
	status int
	code   int
}

var failures = map[errs.Kind]failure{
	errs.KindConnection:          {http.StatusBadRequest, 40001},
	errs.KindInvalidInput:        {http.StatusBadRequest, 40002},
	errs.KindForbiddenStatement:  {http.StatusBadRequest, 40003},
	errs.KindSessionNotFound:     {http.StatusNotFound, 40401},
	errs.KindNotFound:            {http.StatusNotFound, 40402},
	errs.KindSchemaIntrospection: {http.StatusInternalServerError, 50001},
	errs.KindRequestTimeout:      {http.StatusGatewayTimeout, 50401},
}

// fail writes err as "<Kind>: <message>" with the status and business code
// of its kind; unlisted kinds are 500/50002.
func (h *Handler) fail(c *gin.Context, err error) {
	f, ok := failures[errs.KindOf(err)]
	if !ok {
		f = failure{http.StatusInternalServerError, 50002}
	}
	if f.status >= http.StatusInternalServerError {
		h.Log.WithField(middleware.RequestIDKey, middleware.GetRequestID(c)).
			WithError(err).Error("request failed")
	}
	_ = c.Error(err)
	common.FailWith(c, f.status, f.code, errs.Describe(err), gin.H{"kind": errs.KindOf(err)})
}

func badJSON(c *gin.Context) {
	common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
}
