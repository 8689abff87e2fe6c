package audit

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Actions recorded by the authorization server.
const (
	ActionClientRegister    = "client.register"
	ActionClientDisable     = "client.disable"
	ActionClientDelete      = "client.delete"
	ActionTokenRevoke       = "token.revoke"
	ActionEpochBump         = "token.epoch_bump"
	ActionTwoFactorEnable   = "2fa.enable"
	ActionTwoFactorDisable  = "2fa.disable"
	ActionTwoFactorLockout  = "2fa.lockout"
	ActionBackupCodeUsed    = "2fa.backup_code_used"
	ActionBackupCodesReset  = "2fa.backup_codes_regenerated"
	ActionRoleAssign        = "role.assign"
	ActionRoleRemove        = "role.remove"
	ActionRolePermissionSet = "role.permission_change"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Target    string    `json:"target,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// ZerologSink writes each event as one JSON line.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink returns a sink writing to logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

// Record implements Sink.
func (s *ZerologSink) Record(_ context.Context, e Event) {
	entry := s.logger.Log().
		Str("type", "audit").
		Time("timestamp", e.Timestamp).
		Str("service", e.Service).
		Str("action", e.Action).
		Bool("success", e.Success)
	if e.User != "" {
		entry = entry.Str("user", e.User)
	}
	if e.Target != "" {
		entry = entry.Str("target", e.Target)
	}
	if e.Details != "" {
		entry = entry.Str("details", e.Details)
	}
	if e.Error != "" {
		entry = entry.Str("error", e.Error)
	}
	entry.Msg("")
}

var (
	mu   sync.RWMutex
	sink Sink = NewZerologSink(log.Output(os.Stdout).With().Logger())
)

// SetSink replaces the process-wide sink.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

// Log records an audit event on the process-wide sink.
func Log(ctx context.Context, service, action, user, target, details string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Action:    action,
		User:      user,
		Target:    target,
		Details:   details,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.RLock()
	s := sink
	mu.RUnlock()
	s.Record(ctx, event)
}
