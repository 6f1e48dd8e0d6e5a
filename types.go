package authflow

import (
	"context"
	"time"
)

// OperationKind is the business purpose of a verification flow. It selects
// which privileged action the operation token ultimately authorizes; the
// step topology is identical across kinds.
type OperationKind uint8

const (
	// KindEmailVerification verifies ownership of a newly registered address.
	KindEmailVerification OperationKind = iota
	// KindPasswordReset authorizes setting a new password without the old one.
	KindPasswordReset
	// KindPasswordChange authorizes replacing a known password.
	KindPasswordChange
	// KindEmailChange authorizes moving the account to a new address.
	KindEmailChange
)

// String returns the stable storage identifier for the kind. These values
// appear in the persisted pending-verification record and in operation-token
// claims; they must never change.
func (k OperationKind) String() string {
	switch k {
	case KindEmailVerification:
		return "email_verification"
	case KindPasswordReset:
		return "password_reset"
	case KindPasswordChange:
		return "password_change"
	case KindEmailChange:
		return "email_change"
	default:
		return "unknown"
	}
}

func parseOperationKind(s string) (OperationKind, bool) {
	switch s {
	case "email_verification":
		return KindEmailVerification, true
	case "password_reset":
		return KindPasswordReset, true
	case "password_change":
		return KindPasswordChange, true
	case "email_change":
		return KindEmailChange, true
	default:
		return 0, false
	}
}

// FlowStep identifies the current position of a [Flow] in the fixed step
// topology. Steps are transient per flow instance; only the pending record
// survives a reload, which lets [Engine.ResumeFlow] rejoin at [StepCodeEntry].
type FlowStep uint8

const (
	// StepEmailInput is an exported constant or variable used by the verification engine.
	StepEmailInput FlowStep = iota
	// StepCodeEntry is an exported constant or variable used by the verification engine.
	StepCodeEntry
	// StepPrivilegedAction is an exported constant or variable used by the verification engine.
	StepPrivilegedAction
	// StepComplete is an exported constant or variable used by the verification engine.
	StepComplete
)

// String describes the step for logs and audit metadata.
func (s FlowStep) String() string {
	switch s {
	case StepEmailInput:
		return "email_input"
	case StepCodeEntry:
		return "code_entry"
	case StepPrivilegedAction:
		return "privileged_action"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// PendingVerification is the durable marker that a code-based verification is
// in progress for a given email and purpose. At most one exists process-wide;
// writing a new one overwrites any existing one regardless of kind.
type PendingVerification struct {
	Email     string
	Kind      OperationKind
	CreatedAt time.Time
}

// RedirectReason classifies the terminal outcome carried in a cross-tab
// redirect announcement.
type RedirectReason string

const (
	// RedirectSuccess is an exported constant or variable used by the verification engine.
	RedirectSuccess RedirectReason = "success"
	// RedirectFailure is an exported constant or variable used by the verification engine.
	RedirectFailure RedirectReason = "failure"
	// RedirectError is an exported constant or variable used by the verification engine.
	RedirectError RedirectReason = "error"
)

// CrossTabMessage is the fire-and-forget payload published on the shared
// redirect topic. There are no receipt or ordering semantics; the only action
// is "navigate", so the last message a tab processes wins.
type CrossTabMessage struct {
	Action  string         `json:"action"`
	URL     string         `json:"url"`
	Reason  RedirectReason `json:"reason"`
	Message string         `json:"message,omitempty"`
	Origin  string         `json:"origin,omitempty"`
}

// CodeGrant is returned by [AccountService.VerifyCode] after a successful
// code check. The operation token is opaque to the engine: it is held in
// memory for the lifetime of one flow instance, never persisted, and
// discarded on completion, step regression, or rejection.
type CodeGrant struct {
	OperationToken string
	ExpiresIn      time.Duration
}

// PrivilegedRequest carries the kind-specific payload for the final
// privileged call together with the operation token that authorizes it.
// Exactly the fields relevant to Kind are set.
type PrivilegedRequest struct {
	Kind           OperationKind
	Email          string
	OperationToken string

	NewPassword     string // password_reset, password_change
	CurrentPassword string // password_change
	NewEmail        string // email_change
}

// AccountService is the remote contract this engine depends on. All methods
// may block on the network and must honor ctx cancellation. Implementations
// are expected to be enumeration-safe on SendVerificationCode: the caller
// deliberately ignores its error beyond logging.
//
//	Docs: docs/service.md
type AccountService interface {
	SendVerificationCode(ctx context.Context, email string, kind OperationKind) (string, error)
	VerifyCode(ctx context.Context, email, code string, kind OperationKind) (*CodeGrant, error)
	PerformPrivilegedAction(ctx context.Context, req PrivilegedRequest) (string, error)
	VerifyURLToken(ctx context.Context, token string) error
}

// EmailValidator gates the first flow transition. A false return keeps the
// flow in [StepEmailInput] without any remote call.
type EmailValidator func(email string) bool

// Navigator receives the navigation side effects the engine is not allowed
// to perform itself. Implementations belong to the hosting UI layer.
type Navigator interface {
	// Navigate moves the current tab to url. Called by the cross-tab
	// listener and by redirect announcements.
	Navigate(url string)
	// ReplaceLocation rewrites the current location without leaving a
	// history entry. Used to strip one-shot tokens from the address bar.
	ReplaceLocation(url string)
	// GoHome and OpenSignIn are the post-verification affordances invoked
	// by the URL-token detector.
	GoHome()
	OpenSignIn()
}

// FlowCallbacks are the caller-supplied handlers a [Flow] invokes on state
// transitions. They are held in a mutable cell and re-read at every
// invocation, so a host that reconfigures mid-flight always gets its latest
// handlers called.
type FlowCallbacks struct {
	// OnStateChange fires after every observable transition, including
	// error surfacing within a step.
	OnStateChange func(FlowState)
	// OnAdvance fires once, after the post-completion grace delay. It is
	// cancelled if the flow is closed first.
	OnAdvance func()
}

// FlowState is the read-only snapshot exposed to the presentation layer.
type FlowState struct {
	Kind    OperationKind
	Step    FlowStep
	Email   string
	Busy    bool
	Err     *ErrorDetails
	Attempt int
}

// PendingObserver receives synchronous, same-tab change notifications from
// the pending-verification store. A nil record means the slot is empty.
type PendingObserver func(*PendingVerification)
