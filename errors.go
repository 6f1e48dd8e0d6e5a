package authflow

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidEmail is an exported constant or variable used by the verification engine.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidCode is an exported constant or variable used by the verification engine.
	ErrInvalidCode = errors.New("verification code must be 6 digits")
	// ErrCodeRejected is an exported constant or variable used by the verification engine.
	ErrCodeRejected = errors.New("verification code rejected")
	// ErrCodeAttemptsExceeded is an exported constant or variable used by the verification engine.
	ErrCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	// ErrCodeRateLimited is an exported constant or variable used by the verification engine.
	ErrCodeRateLimited = errors.New("verification code rate limited")
	// ErrOperationTokenRejected is an exported constant or variable used by the verification engine.
	ErrOperationTokenRejected = errors.New("operation token invalid or expired")
	// ErrPasswordMismatch is an exported constant or variable used by the verification engine.
	ErrPasswordMismatch = errors.New("passwords don't match")
	// ErrPasswordPolicy is an exported constant or variable used by the verification engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidStep is an exported constant or variable used by the verification engine.
	ErrInvalidStep = errors.New("operation not valid in current step")
	// ErrFlowBusy is an exported constant or variable used by the verification engine.
	ErrFlowBusy = errors.New("a submission is already in flight")
	// ErrFlowClosed is an exported constant or variable used by the verification engine.
	ErrFlowClosed = errors.New("flow has been closed")
	// ErrURLTokenInvalid is an exported constant or variable used by the verification engine.
	ErrURLTokenInvalid = errors.New("url verification token invalid or expired")
	// ErrServiceUnavailable is an exported constant or variable used by the verification engine.
	ErrServiceUnavailable = errors.New("account service unavailable")
	// ErrUserNotFound is an exported constant or variable used by the verification engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoPendingVerification is an exported constant or variable used by the verification engine.
	ErrNoPendingVerification = errors.New("no pending verification to resume")
)
