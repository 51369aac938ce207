package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/common"
)

// Recovery turns a handler panic into the standard 500 envelope.
func Recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					RequestIDKey: GetRequestID(c),
					"panic":      r,
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")
				c.Abort()
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}
