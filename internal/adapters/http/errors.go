package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

// Wire error codes. Clients map codes to text; responses never carry
// internal error messages.
const (
	CodeRateLimited       = "rate_limited"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeInviteNotPending  = "invite_not_pending"
	CodeInvalidTransition = "invalid_transition"
	CodeBadRequest        = "bad_request"
	CodeGone              = "gone"
	CodeInternal          = "internal"
)

type ErrorResponse struct {
	Error    string          `json:"error"`
	FanState domain.FanState `json:"fan_state,omitempty"`
}

func writeError(c *gin.Context, err error) {
	var notReady *domain.NotReadyError
	switch {
	case errors.As(err, &notReady):
		c.JSON(http.StatusConflict, ErrorResponse{Error: domain.CodeFanNotReady, FanState: notReady.State})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: CodeRateLimited})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: CodeNotFound})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: CodeForbidden})
	case errors.Is(err, domain.ErrInviteNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: CodeInviteNotPending})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: CodeInvalidTransition})
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong), errors.Is(err, domain.ErrUserIDInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: CodeInternal})
	}
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest})
}
