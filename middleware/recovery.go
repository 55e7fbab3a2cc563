package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery middleware recovers from panics and logs the error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// Get request ID for tracing
				requestID := GetRequestID(c)

				// Log the panic with stack trace
				slog.Error("panic recovered",
					"error", err,
					"request_id", requestID,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				// The stack trace stays in the logs; the response
				// carries only the error kind and a generic message.
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"kind":       "internal_error",
					"message":    "internal server error",
					"request_id": requestID,
				})
			}
		}()

		c.Next()
	}
}
