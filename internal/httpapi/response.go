package httpapi

import (
	"github.com/gin-gonic/gin"
)

const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeRateLimited      = "too_many_requests"
	codeInternal         = "internal_error"
	codeMethodNotAllowed = "method_not_allowed"

	codeSyncFailed       = "sync_failed"
	codeBodyUnavailable  = "body_unavailable"
	codeRefetchFailed    = "refetch_failed"
	codeDraftUnavailable = "draft_unavailable"
	codeDraftFailed      = "draft_failed"
)

// ErrorResponse is the error envelope of every route.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.GetString(requestIDKey),
		Code:      code,
		Message:   msg,
	})
}
