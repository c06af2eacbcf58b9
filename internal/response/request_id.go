package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the request id in both directions. Quiz clients resend
	// the id of a failed save with its retry so both show up under one id in the logs.
	HeaderRequestID = "X-Request-ID"

	// ContextKeyRequestID is the Gin context key for the request id.
	ContextKeyRequestID = "request_id"

	maxRequestIDLen = 64
)

// RequestIDMiddleware tags every request with an id. A well-formed id sent by the
// client is kept; anything else is replaced with a fresh UUID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := acceptRequestID(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestID returns the id assigned by RequestIDMiddleware, or "" outside it.
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// acceptRequestID returns id when it is short printable ASCII without spaces, else "".
// Ids end up in log lines and response headers.
func acceptRequestID(id string) string {
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return ""
		}
	}
	return id
}
