//nolint:tagliatelle
package authzgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/api"
	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/domain"
	"github.com/pilab-dev/shadow-authz/internal/auth/rbac"
	"github.com/pilab-dev/shadow-authz/services"
)

// AdminAPI serves client registry, role and session management. Every route
// requires a session and a permission on the admin client.
type AdminAPI struct {
	clients       *client.ClientService
	roles         *services.RoleService
	tokens        *services.TokenService
	adminClientID string
}

// NewAdminAPI initializes the admin API.
func NewAdminAPI(clients *client.ClientService, roles *services.RoleService, tokens *services.TokenService, adminClientID string) *AdminAPI {
	return &AdminAPI{clients: clients, roles: roles, tokens: tokens, adminClientID: adminClientID}
}

// RegisterRoutes registers the admin routes behind sessionAuth.
func (a *AdminAPI) RegisterRoutes(r gin.IRouter, sessionAuth gin.HandlerFunc) {
	perm := func(p string) gin.HandlerFunc {
		return RequirePermission(a.roles, a.adminClientID, p)
	}

	g := r.Group("/oauth", sessionAuth)
	g.GET("/clients", perm(rbac.PermClientsRead), a.ListClientsHandler)
	g.POST("/clients", perm(rbac.PermClientsManage), a.RegisterClientHandler)
	g.GET("/clients/:client_id", perm(rbac.PermClientsRead), a.GetClientHandler)
	g.DELETE("/clients/:client_id", perm(rbac.PermClientsManage), a.DeleteClientHandler)
	g.POST("/clients/:client_id/disable", perm(rbac.PermClientsManage), a.DisableClientHandler)

	g.GET("/clients/:client_id/roles", perm(rbac.PermRolesRead), a.ListRolesHandler)
	g.PUT("/clients/:client_id/roles/:user_id", perm(rbac.PermRolesManage), a.AssignRoleHandler)
	g.DELETE("/clients/:client_id/roles/:user_id", perm(rbac.PermRolesManage), a.RemoveRoleHandler)

	g.POST("/sessions/invalidate", perm(rbac.PermSessionsInvalidateAll), a.InvalidateSessionsHandler)
}

type registerClientRequest struct {
	Name         string   `json:"name"          binding:"required"`
	RedirectURIs []string `json:"redirect_uris" binding:"required,min=1"`
	HomepageURL  string   `json:"homepage_url"`
	Scopes       []string `json:"scopes"`
}

type disableClientRequest struct {
	Cascade bool `json:"cascade"`
}

type assignRoleRequest struct {
	Role        string `json:"role"        binding:"required"`
	Permissions string `json:"permissions"`
}

func toClientResponse(c *domain.Client, secret string) api.ClientResponse {
	return api.ClientResponse{
		ClientID:     c.ID,
		ClientSecret: secret,
		Name:         c.Name,
		HomepageURL:  c.HomepageURL,
		RedirectURIs: c.RedirectURIs,
		Scopes:       c.Scopes,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
	}
}

func (a *AdminAPI) ListClientsHandler(c *gin.Context) {
	list, err := a.clients.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]api.ClientResponse, 0, len(list))
	for _, cl := range list {
		out = append(out, toClientResponse(cl, ""))
	}
	c.JSON(http.StatusOK, out)
}

// RegisterClientHandler returns the plaintext secret exactly once.
func (a *AdminAPI) RegisterClientHandler(c *gin.Context) {
	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	cl, secret, err := a.clients.Register(c.Request.Context(), client.RegisterRequest{
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		HomepageURL:  req.HomepageURL,
		Scopes:       req.Scopes,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toClientResponse(cl, secret))
}

func (a *AdminAPI) GetClientHandler(c *gin.Context) {
	cl, err := a.clients.Lookup(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toClientResponse(cl, ""))
}

func (a *AdminAPI) DeleteClientHandler(c *gin.Context) {
	if err := a.clients.Delete(c.Request.Context(), c.Param("client_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *AdminAPI) DisableClientHandler(c *gin.Context) {
	var req disableClientRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortBind(c, err)
			return
		}
	}

	if err := a.clients.Disable(c.Request.Context(), c.Param("client_id"), req.Cascade); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *AdminAPI) ListRolesHandler(c *gin.Context) {
	list, err := a.roles.List(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if list == nil {
		list = []*domain.AppRoleAssignment{}
	}
	c.JSON(http.StatusOK, list)
}

func (a *AdminAPI) AssignRoleHandler(c *gin.Context) {
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	assignment, err := a.roles.Assign(c.Request.Context(), c.GetString(AuthUserIDKey),
		c.Param("user_id"), c.Param("client_id"), req.Role, req.Permissions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (a *AdminAPI) RemoveRoleHandler(c *gin.Context) {
	err := a.roles.Remove(c.Request.Context(), c.GetString(AuthUserIDKey), c.Param("user_id"), c.Param("client_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// InvalidateSessionsHandler bumps the token epoch, invalidating every token issued so far.
func (a *AdminAPI) InvalidateSessionsHandler(c *gin.Context) {
	epoch, err := a.tokens.InvalidateAll(c.Request.Context(), c.GetString(AuthUserIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.EpochResponse{Epoch: epoch})
}
