//nolint:tagliatelle
package authzgin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/api"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/services"
)

// OAuth2API serves the authorization code flow endpoints.
type OAuth2API struct {
	service *services.OAuthService
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(service *services.OAuthService) *OAuth2API {
	return &OAuth2API{service: service}
}

// RegisterRoutes registers the OAuth2 routes. sessionAuth guards the consent endpoint.
func (oa *OAuth2API) RegisterRoutes(r gin.IRouter, sessionAuth gin.HandlerFunc) {
	g := r.Group("/oauth")
	g.GET("/authorize", oa.AuthorizeHandler)
	g.POST("/authorize/login", oa.LoginHandler)
	g.POST("/authorize/consent", sessionAuth, oa.ConsentHandler)
	g.POST("/token", oa.TokenHandler)
	g.GET("/userinfo", oa.UserInfoHandler)
	g.POST("/revoke", oa.RevokeHandler)
}

type authorizeParams struct {
	ResponseType string `form:"response_type" json:"response_type"`
	ClientID     string `form:"client_id"     json:"client_id"`
	RedirectURI  string `form:"redirect_uri"  json:"redirect_uri"`
	Scope        string `form:"scope"         json:"scope"`
	State        string `form:"state"         json:"state"`
}

func (p authorizeParams) toRequest() services.AuthorizeRequest {
	return services.AuthorizeRequest{
		ResponseType: p.ResponseType,
		ClientID:     p.ClientID,
		RedirectURI:  p.RedirectURI,
		Scope:        p.Scope,
		State:        p.State,
	}
}

type loginParams struct {
	authorizeParams
	Email    string `form:"email"    json:"email"`
	Password string `form:"password" json:"password"`
	Code     string `form:"code"     json:"code"`
}

type tokenParams struct {
	GrantType    string `form:"grant_type"    json:"grant_type"`
	Code         string `form:"code"          json:"code"`
	RedirectURI  string `form:"redirect_uri"  json:"redirect_uri"`
	ClientID     string `form:"client_id"     json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

type revokeParams struct {
	Token string `form:"token" json:"token"`
}

// AuthorizeHandler validates an authorization request and returns what the
// login or consent page needs to render. Nothing is issued here.
func (oa *OAuth2API) AuthorizeHandler(c *gin.Context) {
	var params authorizeParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abortBind(c, err)
		return
	}

	info, err := oa.service.Authorize(c.Request.Context(), params.toRequest())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ConsentResponse{
		ClientID:    info.Client.ID,
		ClientName:  info.Client.Name,
		HomepageURL: info.Client.HomepageURL,
		RedirectURI: info.RedirectURI,
		Scope:       info.Scope,
		Scopes:      strings.Fields(info.Scope),
		State:       info.State,
	})
}

// LoginHandler completes an authorization request with email and password
// and redirects to the client with a fresh code.
func (oa *OAuth2API) LoginHandler(c *gin.Context) {
	var params loginParams
	if err := c.ShouldBind(&params); err != nil {
		abortBind(c, err)
		return
	}

	redirect, err := oa.service.CompleteLogin(c.Request.Context(), services.LoginRequest{
		AuthorizeRequest: params.toRequest(),
		Email:            params.Email,
		Password:         params.Password,
		TwoFactorCode:    params.Code,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// ConsentHandler completes an authorization request for an existing session.
func (oa *OAuth2API) ConsentHandler(c *gin.Context) {
	var params authorizeParams
	if err := c.ShouldBind(&params); err != nil {
		abortBind(c, err)
		return
	}

	bearer, _ := bearerToken(c.GetHeader("Authorization"))
	redirect, err := oa.service.CompleteConsent(c.Request.Context(), bearer, params.toRequest())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// TokenHandler exchanges a code or refresh token. Client credentials may be
// sent in the body or with HTTP Basic auth.
func (oa *OAuth2API) TokenHandler(c *gin.Context) {
	var params tokenParams
	if err := c.ShouldBind(&params); err != nil {
		abortBind(c, err)
		return
	}

	if id, secret, ok := c.Request.BasicAuth(); ok {
		if params.ClientID != "" && params.ClientID != id {
			abortWithError(c, serrors.NewInvalidRequest("client_id does not match the authenticated client"))
			return
		}
		params.ClientID, params.ClientSecret = id, secret
	}

	resp, err := oa.service.Exchange(c.Request.Context(), services.TokenRequest{
		GrantType:    params.GrantType,
		Code:         params.Code,
		RedirectURI:  params.RedirectURI,
		ClientID:     params.ClientID,
		ClientSecret: params.ClientSecret,
		RefreshToken: params.RefreshToken,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UserInfoHandler returns the public profile of the access token's user.
func (oa *OAuth2API) UserInfoHandler(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortWithError(c, serrors.NewInvalidToken())
		return
	}

	profile, err := oa.service.UserInfo(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// RevokeHandler revokes a token. Unknown tokens are not reported.
func (oa *OAuth2API) RevokeHandler(c *gin.Context) {
	var params revokeParams
	if err := c.ShouldBind(&params); err != nil {
		abortBind(c, err)
		return
	}

	if err := oa.service.Revoke(c.Request.Context(), params.Token); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusOK)
}
