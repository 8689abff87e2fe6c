// Package authzgin is the gin HTTP surface of the authorization server.
package authzgin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/log"
	"github.com/pilab-dev/shadow-authz/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterOptions carries everything the HTTP surface depends on.
type RouterOptions struct {
	OAuth         *services.OAuthService
	Clients       *client.ClientService
	Roles         *services.RoleService
	Tokens        *services.TokenService
	TwoFactor     *services.TwoFactorService
	Sessions      domain.SessionVerifier
	AdminClientID string

	// Ping backs /healthz; nil reports healthy.
	Ping func(ctx context.Context) error
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   log.Logger
	// ServiceName enables otelgin when non-empty.
	ServiceName string
}

// NewRouter assembles the middleware chain and registers every route.
func NewRouter(opts RouterOptions) *gin.Engine {
	RegisterValidators()

	router := gin.New()
	router.Use(gin.Recovery())
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}
	router.Use(SecurityHeadersMiddleware())
	if opts.Logger != nil {
		router.Use(RequestLoggerMiddleware(opts.Logger))
	}

	sessionAuth := SessionAuthMiddleware(opts.Sessions)

	NewOAuth2API(opts.OAuth).RegisterRoutes(router, sessionAuth)
	NewAdminAPI(opts.Clients, opts.Roles, opts.Tokens, opts.AdminClientID).RegisterRoutes(router, sessionAuth)
	NewTwoFactorAPI(opts.TwoFactor).RegisterRoutes(router, sessionAuth)

	router.GET("/healthz", func(c *gin.Context) {
		if opts.Ping != nil {
			if err := opts.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
