// Package response writes the JSON envelope shared by every quiz endpoint.
package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope around every payload and error.
type Response struct {
	Data     any        `json:"data"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// ErrorBody is a machine-readable code plus its message. Fields is set for
// validation failures, keyed by JSON field name.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata identifies the request and stamps the server clock. Attempt clients use
// ServerTimeMillis to correct their countdown for local clock skew.
type Metadata struct {
	RequestID        string `json:"request_id"`
	Timestamp        string `json:"timestamp"`
	ServerTimeMillis int64  `json:"server_time_ms"`
}

// now is replaced in tests.
var now = time.Now

// Success writes data with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, envelope(c, data, nil))
}

// Fail writes an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, nil)))
}

// FailWithFields writes a validation error with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, fields)))
}

// AbortFail stops the middleware chain and writes an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, errorBody(code, nil)))
}

func errorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}
}

func envelope(c *gin.Context, data any, errBody *ErrorBody) Response {
	id := RequestID(c)
	if id == "" {
		// Routes mounted without RequestIDMiddleware, such as handler tests.
		id = uuid.NewString()
	}
	t := now().UTC()
	return Response{
		Data:  data,
		Error: errBody,
		Metadata: Metadata{
			RequestID:        id,
			Timestamp:        t.Format(time.RFC3339),
			ServerTimeMillis: t.UnixMilli(),
		},
	}
}
