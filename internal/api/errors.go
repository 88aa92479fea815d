package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cea/internal/relay"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrUnauthorized   = errors.New("missing user identity")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("too many requests, please slow down and try again shortly")
)

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// mapRelayError 把 relay 的分类错误翻译成状态码和面向用户的提示文案。
// 上游/超时错误绝不以原始异常形式透出。
func mapRelayError(err error) (int, string) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, "Something went wrong while processing your message. Please try again."
	}

	switch relayErr.Reason {
	case relay.ReasonTimeout:
		return http.StatusGatewayTimeout, "The assistant is taking longer than expected. Please try again in a moment."
	case relay.ReasonUnreachable:
		return http.StatusBadGateway, "The assistant is temporarily unavailable. Please try again shortly."
	case relay.ReasonUpstream:
		status := relayErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		return status, "The assistant could not process your message. Please try again."
	default:
		return http.StatusInternalServerError, "Something went wrong while processing your message. Please try again."
	}
}
