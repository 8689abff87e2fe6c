package authzgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/rs/zerolog/log"
)

// statusFor maps a taxonomy code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case serrors.InvalidClient, serrors.InvalidToken, serrors.InvalidCredentials, serrors.InvalidPassword:
		return http.StatusUnauthorized
	case serrors.LockedOut:
		return http.StatusTooManyRequests
	case serrors.SingletonRoleTaken, serrors.AlreadyEnabled:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// abortWithError writes the error body for err. Protocol errors become 4xx,
// missing records on admin routes 404, and anything else a logged 500.
func abortWithError(c *gin.Context, err error) {
	if oe, ok := serrors.AsOAuth2Error(err); ok {
		if oe.Code == serrors.InvalidToken {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		c.AbortWithStatusJSON(statusFor(oe.Code), oe)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, serrors.NewInvalidRequest("resource not found"))
		return
	case errors.Is(err, client.ErrInvalidClientMetadata):
		c.AbortWithStatusJSON(http.StatusBadRequest, serrors.NewInvalidRequest(err.Error()))
		return
	}

	log.Error().Ctx(c.Request.Context()).Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("request failed")
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error_description": "internal server error"})
}

// abortBind reports a request body that failed binding or validation. A
// malformed verification code is reported like a wrong one.
func abortBind(c *gin.Context, err error) {
	if failedTag(err, "otp") {
		abortWithError(c, serrors.NewInvalidCode())
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, serrors.NewInvalidRequest(bindErrorDescription(err)))
}
