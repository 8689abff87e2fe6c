//nolint:tagliatelle
package authzgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-authz/api"
	"github.com/pilab-dev/shadow-authz/internal/auth/totp"
	"github.com/pilab-dev/shadow-authz/services"
	"github.com/rs/zerolog/log"
)

const qrCodeSize = 256

// TwoFactorAPI serves the session user's own 2FA management.
type TwoFactorAPI struct {
	service *services.TwoFactorService
}

// NewTwoFactorAPI initializes the 2FA API.
func NewTwoFactorAPI(service *services.TwoFactorService) *TwoFactorAPI {
	return &TwoFactorAPI{service: service}
}

// RegisterRoutes registers the 2FA routes behind sessionAuth.
func (t *TwoFactorAPI) RegisterRoutes(r gin.IRouter, sessionAuth gin.HandlerFunc) {
	g := r.Group("/2fa", sessionAuth)
	g.POST("/setup", t.SetupHandler)
	g.POST("/enable", t.EnableHandler)
	g.POST("/verify", t.VerifyHandler)
	g.POST("/backup-code", t.BackupCodeHandler)
	g.POST("/disable", t.DisableHandler)
	g.POST("/backup-codes/regenerate", t.RegenerateHandler)
	g.GET("/status", t.StatusHandler)
}

type codeRequest struct {
	Code string `json:"code" binding:"required,otp"`
}

type backupCodeRequest struct {
	BackupCode string `json:"backupCode" binding:"required"`
}

type disableRequest struct {
	Password string `json:"password" binding:"required"`
	Code     string `json:"code"     binding:"required,otp"`
}

// SetupHandler returns the secret, its provisioning URI and QR code, and the
// plaintext backup codes. None of them are retrievable later.
func (t *TwoFactorAPI) SetupHandler(c *gin.Context) {
	res, err := t.service.Setup(c.Request.Context(), c.GetString(AuthUserIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}

	png, err := totp.QRCodePNG(res.URI, qrCodeSize)
	if err != nil {
		log.Warn().Err(err).Msg("QR code rendering failed")
	}

	c.JSON(http.StatusOK, api.TwoFactorSetupResponse{
		Secret:      res.Secret,
		URI:         res.URI,
		QRCodePNG:   png,
		BackupCodes: res.BackupCodes,
	})
}

func (t *TwoFactorAPI) EnableHandler(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	if err := t.service.Enable(c.Request.Context(), c.GetString(AuthUserIDKey), req.Code); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

func (t *TwoFactorAPI) VerifyHandler(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	if err := t.service.Verify(c.Request.Context(), c.GetString(AuthUserIDKey), req.Code); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (t *TwoFactorAPI) BackupCodeHandler(c *gin.Context) {
	var req backupCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	remaining, err := t.service.ConsumeBackupCode(c.Request.Context(), c.GetString(AuthUserIDKey), req.BackupCode)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.BackupCodeResult{Remaining: remaining})
}

func (t *TwoFactorAPI) DisableHandler(c *gin.Context) {
	var req disableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	if err := t.service.Disable(c.Request.Context(), c.GetString(AuthUserIDKey), req.Password, req.Code); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (t *TwoFactorAPI) RegenerateHandler(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	codes, err := t.service.RegenerateBackupCodes(c.Request.Context(), c.GetString(AuthUserIDKey), req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.BackupCodesResponse{BackupCodes: codes})
}

func (t *TwoFactorAPI) StatusHandler(c *gin.Context) {
	st, err := t.service.Status(c.Request.Context(), c.GetString(AuthUserIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
