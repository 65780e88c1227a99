package authgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLogout                = "logout"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventRememberLogin         = "remember_login"
	auditEventRememberFailure       = "remember_login_failure"
	auditEventOAuthLogin            = "oauth_login"
	auditEventOAuthFailure          = "oauth_login_failure"
	auditEventOAuthAccountCreated   = "oauth_account_created"
	auditEventVerificationRequest   = "email_verification_request"
	auditEventVerificationConfirm   = "email_verification_confirm"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordResetThrottle = "password_reset_throttled"
	auditEventPasswordChange        = "password_change"
	auditEventProfileUpdate         = "profile_update"
	auditEventAccountDeleted        = "account_deleted"
)

// AuditErrorCode defines a public type used by authgate APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrNotAuthenticated   AuditErrorCode = "not_authenticated"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnverified         AuditErrorCode = "account_unverified"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrOAuthState         AuditErrorCode = "oauth_state_mismatch"
	auditErrOAuthProfile       AuditErrorCode = "oauth_profile_incomplete"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrAccountUnverified):
		return auditErrUnverified
	case errors.Is(err, ErrEmailVerificationInvalid),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrRememberInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrPasswordResetThrottled):
		return auditErrRateLimited
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrOAuthStateMismatch):
		return auditErrOAuthState
	case errors.Is(err, ErrOAuthProfileIncomplete):
		return auditErrOAuthProfile
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrSessionUnavailable),
		errors.Is(err, ErrPasswordResetUnavailable),
		errors.Is(err, ErrOAuthExchangeFailed):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
