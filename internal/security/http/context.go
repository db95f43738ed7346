package http

import (
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/capsec/internal/security"
)

// RequestContextMiddleware copies the request id assigned by the requestid
// middleware into the request context so audit events correlate with the
// X-Request-Id response header.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := uuid.Parse(requestid.Get(c)); err == nil {
			c.Request = c.Request.WithContext(security.WithRequestID(c.Request.Context(), id))
		}
		c.Next()
	}
}
