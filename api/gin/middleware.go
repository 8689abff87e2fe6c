package authzgin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/log"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuthUserIDKey is the gin context key holding the authenticated user id.
const AuthUserIDKey = "auth-user-id"

// PermissionChecker resolves a user's permission within a client application.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, clientID, permission string) (bool, error)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// SessionAuthMiddleware authenticates the primary session bearer and stores
// the user id under AuthUserIDKey.
func SessionAuthMiddleware(sessions domain.SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, serrors.NewInvalidCredentials())
			return
		}

		userID, err := sessions.VerifySession(c.Request.Context(), bearer)
		if err != nil {
			zlog.Debug().Ctx(c.Request.Context()).Err(err).Msg("session rejected")
			abortWithError(c, serrors.NewInvalidCredentials())
			return
		}

		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", userID))
		c.Set(AuthUserIDKey, userID)
		c.Next()
	}
}

// RequirePermission allows the request only if the session user holds
// permission on adminClientID. It must run after SessionAuthMiddleware.
func RequirePermission(roles PermissionChecker, adminClientID, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(AuthUserIDKey)
		ok, err := roles.HasPermission(c.Request.Context(), userID, adminClientID, permission)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden,
				serrors.NewInvalidRequest("missing permission "+permission))
			return
		}
		c.Next()
	}
}

// RequestLoggerMiddleware logs one line per request through logger.
func RequestLoggerMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}
		if userID := c.GetString(AuthUserIDKey); userID != "" {
			fields["user_id"] = userID
		}

		if len(c.Errors) > 0 {
			logger.Error(c.Request.Context(), "HTTP request failed", c.Errors.Last().Err, fields)
			return
		}
		logger.Info(c.Request.Context(), "HTTP request", fields)
	}
}
