package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked_out"

	MethodTOTP   = "totp"
	MethodBackup = "backup_code"
)

var (
	CodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	CodesRedeemedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_codes_redeemed_total",
		Help: "Authorization code redemptions by result.",
	}, []string{"result"})
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_tokens_issued_total",
		Help: "Token pairs issued by grant type.",
	}, []string{"grant_type"})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_tokens_revoked_total",
		Help: "Total number of revocation requests.",
	})
	RefreshRotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_refresh_rotations_total",
		Help: "Refresh token rotations by result.",
	}, []string{"result"})
	TwoFactorVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_two_factor_verifications_total",
		Help: "Second-factor checks by method and result.",
	}, []string{"method", "result"})
	TwoFactorLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_two_factor_lockouts_total",
		Help: "Total number of 2FA lockouts started.",
	})
	ClientsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_clients_registered_total",
		Help: "Total number of registered OAuth clients.",
	})
)

// InitCustomMetrics registers the authorization server metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		return
	}

	collectors := map[string]prometheus.Collector{
		"CodesIssuedTotal":            CodesIssuedTotal,
		"CodesRedeemedTotal":          CodesRedeemedTotal,
		"TokensIssuedTotal":           TokensIssuedTotal,
		"TokensRevokedTotal":          TokensRevokedTotal,
		"RefreshRotationsTotal":       RefreshRotationsTotal,
		"TwoFactorVerificationsTotal": TwoFactorVerificationsTotal,
		"TwoFactorLockoutsTotal":      TwoFactorLockoutsTotal,
		"ClientsRegisteredTotal":      ClientsRegisteredTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
}
