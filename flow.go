package authflow

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

/* ==== VERIFICATION FLOW ==== */

// PrivilegedPayload carries the caller-supplied inputs for the privileged
// step. Which fields matter depends on the flow's operation kind.
type PrivilegedPayload struct {
	NewPassword     string
	ConfirmPassword string
	CurrentPassword string
	NewEmail        string
}

// Flow defines a public type used by authflow APIs, representing one
// interactive verification session from email entry through completion.
//
// A Flow is a small state machine:
//
//	EMAIL_INPUT -> CODE_ENTRY -> PRIVILEGED_ACTION -> COMPLETE
//
// with reverse edges via Back. All methods are safe for concurrent use,
// but only one submit may be in flight at a time; a second concurrent
// submit fails with ErrFlowBusy. Back and Cancel invalidate any in-flight
// submit: its result is dropped when it lands.
type Flow struct {
	engine *Engine
	id     string
	kind   OperationKind

	callbacks atomic.Pointer[FlowCallbacks]

	mu           sync.Mutex
	step         FlowStep
	email        string
	token        string
	attempt      int
	busy         bool
	closed       bool
	epoch        uint64
	lastErr      *ErrorDetails
	advanceTimer *time.Timer
}

func newFlow(e *Engine, id string, kind OperationKind) *Flow {
	f := &Flow{
		engine: e,
		id:     id,
		kind:   kind,
		step:   StepEmailInput,
	}
	f.callbacks.Store(&FlowCallbacks{})
	return f
}

// Kind reports the operation kind this flow was created for.
func (f *Flow) Kind() OperationKind { return f.kind }

// ID reports the unique identifier assigned at creation.
func (f *Flow) ID() string { return f.id }

// SetCallbacks installs or replaces the observer callbacks. The new set
// takes effect for the next event; an event already being dispatched may
// still reach the previous set.
func (f *Flow) SetCallbacks(cb *FlowCallbacks) {
	if cb == nil {
		cb = &FlowCallbacks{}
	}
	f.callbacks.Store(cb)
}

// State returns a snapshot of the flow. The snapshot is a copy and does
// not track later transitions.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Flow) stateLocked() FlowState {
	return FlowState{
		Kind:    f.kind,
		Step:    f.step,
		Email:   f.email,
		Busy:    f.busy,
		Err:     f.lastErr,
		Attempt: f.attempt,
	}
}

func (f *Flow) emitState(st FlowState) {
	cb := f.callbacks.Load()
	if cb != nil && cb.OnStateChange != nil {
		cb.OnStateChange(st)
	}
}

// begin claims the busy slot. Callers must hold no lock.
func (f *Flow) begin(want FlowStep) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFlowClosed
	}
	if f.busy {
		return 0, ErrFlowBusy
	}
	if f.step != want {
		return 0, ErrInvalidStep
	}
	f.busy = true
	f.lastErr = nil
	return f.epoch, nil
}

// settle releases the busy slot and reports whether the result is still
// current. A false return means Back, Cancel, or Close ran while the
// network call was in flight and the outcome must be discarded.
func (f *Flow) settle(epoch uint64) bool {
	f.busy = false
	return f.epoch == epoch && !f.closed
}

// SubmitEmail validates the address, requests a verification code, and
// advances to CODE_ENTRY. The send itself is fire-and-forget: a delivery
// failure is logged and swallowed so the transition never reveals whether
// the address has an account.
func (f *Flow) SubmitEmail(ctx context.Context, email string) error {
	e := f.engine
	if err := e.ready(); err != nil {
		return err
	}
	if !e.validateEmail(email) {
		return ErrInvalidEmail
	}

	epoch, err := f.begin(StepEmailInput)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.email = email
	st := f.stateLocked()
	f.mu.Unlock()
	f.emitState(st)

	opCtx, cancel := context.WithTimeout(ctx, e.config.Flow.RequestTimeout)
	defer cancel()
	_, sendErr := e.service.SendVerificationCode(opCtx, email, f.kind)
	if sendErr != nil {
		log.Print("authflow: verification code send failed")
		e.metricInc(MetricCodeSendFailed)
	} else {
		e.metricInc(MetricCodeSent)
	}
	e.emitAudit(ctx, auditEventCodeSendRequested, sendErr == nil, email, f.kind, nil, nil)

	f.mu.Lock()
	if !f.settle(epoch) {
		f.mu.Unlock()
		return nil
	}
	f.step = StepCodeEntry
	f.attempt = 0
	st = f.stateLocked()
	f.mu.Unlock()

	if err := e.pending.Set(ctx, email, f.kind); err != nil {
		log.Print("authflow: pending slot write failed")
	}

	f.emitState(st)
	return nil
}

// ResendCode requests a fresh verification code for the email submitted
// earlier. Like SubmitEmail, delivery failures are swallowed.
func (f *Flow) ResendCode(ctx context.Context) error {
	e := f.engine
	if err := e.ready(); err != nil {
		return err
	}

	epoch, err := f.begin(StepCodeEntry)
	if err != nil {
		return err
	}
	f.mu.Lock()
	email := f.email
	f.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.config.Flow.RequestTimeout)
	defer cancel()
	_, sendErr := e.service.SendVerificationCode(opCtx, email, f.kind)
	if sendErr != nil {
		log.Print("authflow: verification code resend failed")
		e.metricInc(MetricCodeSendFailed)
	} else {
		e.metricInc(MetricCodeSent)
	}
	e.emitAudit(ctx, auditEventCodeSendRequested, sendErr == nil, email, f.kind, nil, nil)

	f.mu.Lock()
	f.settle(epoch)
	st := f.stateLocked()
	f.mu.Unlock()
	f.emitState(st)
	return nil
}

// SubmitCode checks the entered code against the service and, on success,
// stores the returned single-use operation token and advances. Codes that
// are not exactly the configured digit count are rejected locally with
// ErrInvalidCode and never reach the network.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	e := f.engine
	if err := e.ready(); err != nil {
		return err
	}
	if !isNumericCode(code, e.config.Flow.CodeDigits) {
		return ErrInvalidCode
	}

	epoch, err := f.begin(StepCodeEntry)
	if err != nil {
		return err
	}
	f.mu.Lock()
	email := f.email
	st := f.stateLocked()
	f.mu.Unlock()
	f.emitState(st)

	var grant *CodeGrant
	opErr := executeWithRetry(ctx, e.retry, func(opCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(opCtx, e.config.Flow.RequestTimeout)
		defer cancel()
		var vErr error
		grant, vErr = e.service.VerifyCode(callCtx, email, code, f.kind)
		return vErr
	}, ContextGeneric, func(details ErrorDetails) {
		f.reportError(epoch, details)
	})

	f.mu.Lock()
	if !f.settle(epoch) {
		f.mu.Unlock()
		return nil
	}

	if opErr != nil {
		f.attempt++
		details := Classify(opErr, ContextGeneric)
		f.lastErr = &details
		st = f.stateLocked()
		f.mu.Unlock()
		e.metricInc(MetricCodeRejected)
		e.emitAudit(ctx, auditEventCodeVerified, false, email, f.kind, opErr, nil)
		f.emitState(st)
		return opErr
	}

	f.token = grant.OperationToken
	f.attempt = 0
	if f.kind == KindEmailVerification {
		st = f.completeLocked(epoch)
		f.mu.Unlock()
		e.metricInc(MetricCodeVerified)
		e.emitAudit(ctx, auditEventCodeVerified, true, email, f.kind, nil, nil)
		e.emitAudit(ctx, auditEventFlowCompleted, true, email, f.kind, nil, nil)
		f.afterComplete(ctx, st)
		return nil
	}

	f.step = StepPrivilegedAction
	st = f.stateLocked()
	f.mu.Unlock()
	e.metricInc(MetricCodeVerified)
	e.emitAudit(ctx, auditEventCodeVerified, true, email, f.kind, nil, nil)
	f.emitState(st)
	return nil
}

// SubmitPrivileged performs the operation the flow was opened for, spending
// the operation token obtained at code entry. The token is single-use: if
// the service rejects it the flow discards it and regresses to CODE_ENTRY
// so the user can verify again.
func (f *Flow) SubmitPrivileged(ctx context.Context, payload PrivilegedPayload) error {
	e := f.engine
	if err := e.ready(); err != nil {
		return err
	}
	if err := f.validatePayload(payload); err != nil {
		return err
	}

	epoch, err := f.begin(StepPrivilegedAction)
	if err != nil {
		return err
	}
	f.mu.Lock()
	req := PrivilegedRequest{
		Kind:            f.kind,
		Email:           f.email,
		OperationToken:  f.token,
		NewPassword:     payload.NewPassword,
		CurrentPassword: payload.CurrentPassword,
		NewEmail:        payload.NewEmail,
	}
	st := f.stateLocked()
	f.mu.Unlock()
	f.emitState(st)

	var redirectURL string
	opErr := executeWithRetry(ctx, e.retry, func(opCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(opCtx, e.config.Flow.RequestTimeout)
		defer cancel()
		var aErr error
		redirectURL, aErr = e.service.PerformPrivilegedAction(callCtx, req)
		return aErr
	}, ContextGeneric, func(details ErrorDetails) {
		f.reportError(epoch, details)
	})

	f.mu.Lock()
	if !f.settle(epoch) {
		f.mu.Unlock()
		return nil
	}

	if opErr != nil {
		if errors.Is(opErr, ErrOperationTokenRejected) {
			// Token is spent either way. Force re-verification.
			f.token = ""
			f.step = StepCodeEntry
		}
		details := Classify(opErr, ContextGeneric)
		f.lastErr = &details
		st = f.stateLocked()
		f.mu.Unlock()
		e.metricInc(MetricPrivilegedFailed)
		e.emitAudit(ctx, auditEventPrivilegedAction, false, req.Email, f.kind, opErr, nil)
		f.emitState(st)
		return opErr
	}

	f.token = ""
	st = f.completeLocked(epoch)
	f.mu.Unlock()
	e.metricInc(MetricPrivilegedDone)
	e.emitAudit(ctx, auditEventPrivilegedAction, true, req.Email, f.kind, nil, nil)
	e.emitAudit(ctx, auditEventFlowCompleted, true, req.Email, f.kind, nil, nil)
	f.afterComplete(ctx, st)

	if redirectURL != "" && e.navigator != nil {
		e.navigator.Navigate(redirectURL)
	}
	return nil
}

// completeLocked transitions to COMPLETE and arms the auto-advance timer.
// Caller holds f.mu.
func (f *Flow) completeLocked(epoch uint64) FlowState {
	f.step = StepComplete
	delay := f.engine.config.Flow.CompleteAdvanceDelay
	if delay > 0 {
		f.advanceTimer = time.AfterFunc(delay, func() {
			f.fireAdvance(epoch)
		})
	}
	return f.stateLocked()
}

// fireAdvance delivers the delayed OnAdvance callback unless the flow
// moved on since COMPLETE was entered.
func (f *Flow) fireAdvance(epoch uint64) {
	f.mu.Lock()
	current := f.epoch == epoch && !f.closed && f.step == StepComplete
	f.mu.Unlock()
	if !current {
		return
	}
	cb := f.callbacks.Load()
	if cb != nil && cb.OnAdvance != nil {
		cb.OnAdvance()
	}
}

// afterComplete runs the completion side effects: clear the pending slot
// for this kind and tell sibling tabs. Both are best-effort.
func (f *Flow) afterComplete(ctx context.Context, st FlowState) {
	e := f.engine
	e.pending.Clear(ctx, f.kind)
	e.metricInc(MetricCrossTabAnnounced)
	e.notifier.AnnounceRedirect(ctx, RedirectSuccess, e.config.URLToken.RedirectURL, "")
	f.emitState(st)
}

// reportError surfaces a per-attempt classification to the observer while
// a retried call is still in flight. Stale epochs are dropped.
func (f *Flow) reportError(epoch uint64, details ErrorDetails) {
	f.mu.Lock()
	if f.epoch != epoch || f.closed {
		f.mu.Unlock()
		return
	}
	f.lastErr = &details
	st := f.stateLocked()
	f.mu.Unlock()
	f.engine.metricInc(MetricRetryAttempt)
	f.emitState(st)
}

func (f *Flow) validatePayload(payload PrivilegedPayload) error {
	e := f.engine
	switch f.kind {
	case KindPasswordReset, KindPasswordChange:
		if payload.NewPassword != payload.ConfirmPassword {
			return ErrPasswordMismatch
		}
		if len(payload.NewPassword) < e.config.Flow.MinPasswordLength {
			return ErrPasswordPolicy
		}
	case KindEmailChange:
		if !e.validateEmail(payload.NewEmail) {
			return ErrInvalidEmail
		}
	}
	return nil
}

// Back regresses one step. Leaving PRIVILEGED_ACTION discards the
// operation token. An in-flight submit is invalidated: its result is
// dropped when it lands.
func (f *Flow) Back() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}

	switch f.step {
	case StepCodeEntry:
		f.step = StepEmailInput
	case StepPrivilegedAction:
		f.token = ""
		f.step = StepCodeEntry
	default:
		f.mu.Unlock()
		return ErrInvalidStep
	}

	f.epoch++
	f.attempt = 0
	f.lastErr = nil
	st := f.stateLocked()
	f.mu.Unlock()
	f.emitState(st)
	return nil
}

// Cancel aborts the flow back to EMAIL_INPUT, discarding the operation
// token, any in-flight submit, and a pending auto-advance.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.epoch++
	f.token = ""
	f.attempt = 0
	f.lastErr = nil
	f.step = StepEmailInput
	if f.advanceTimer != nil {
		f.advanceTimer.Stop()
		f.advanceTimer = nil
	}
	email := f.email
	st := f.stateLocked()
	f.mu.Unlock()
	f.engine.emitAudit(context.Background(), auditEventFlowCancelled, true, email, f.kind, nil, nil)
	f.emitState(st)
}

// Close terminates the flow. Every later call fails with ErrFlowClosed.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.epoch++
	f.token = ""
	if f.advanceTimer != nil {
		f.advanceTimer.Stop()
		f.advanceTimer = nil
	}
	f.mu.Unlock()
}

// isNumericCode reports whether s is exactly digits long and all ASCII
// numerals.
func isNumericCode(s string, digits int) bool {
	if len(s) != digits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
