package authflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventCodeSendRequested = "code_send_requested"
	auditEventCodeVerified      = "code_verified"
	auditEventPrivilegedAction  = "privileged_action"
	auditEventFlowCompleted     = "flow_completed"
	auditEventFlowCancelled     = "flow_cancelled"
	auditEventURLTokenVerified  = "url_token_verified"
	auditEventCrossTabRedirect  = "cross_tab_redirect"
	auditEventPendingCleared    = "pending_cleared"
)

// kindNone marks audit events that are not tied to one operation kind.
const kindNone = OperationKind(255)

// AuditErrorCode defines a public type used by authflow APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidEmail     AuditErrorCode = "invalid_email"
	auditErrInvalidCode      AuditErrorCode = "invalid_code"
	auditErrCodeRejected     AuditErrorCode = "code_rejected"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrTokenRejected    AuditErrorCode = "operation_token_rejected"
	auditErrPasswordMismatch AuditErrorCode = "password_mismatch"
	auditErrPasswordPolicy   AuditErrorCode = "password_policy"
	auditErrURLTokenInvalid  AuditErrorCode = "url_token_invalid"
	auditErrUserNotFound     AuditErrorCode = "user_not_found"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	email string,
	kind OperationKind,
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
	if locale := localeFromContext(ctx); locale != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["locale"] = locale
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Email:     email,
		TabID:     e.tabID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if kind != kindNone {
		event.Kind = kind.String()
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
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrCodeRejected):
		return auditErrCodeRejected
	case errors.Is(err, ErrCodeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrCodeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrOperationTokenRejected):
		return auditErrTokenRejected
	case errors.Is(err, ErrPasswordMismatch):
		return auditErrPasswordMismatch
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrURLTokenInvalid):
		return auditErrURLTokenInvalid
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrServiceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
