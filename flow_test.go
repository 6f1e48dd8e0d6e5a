package authflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustFlow(t *testing.T, e *Engine, kind OperationKind) *Flow {
	t.Helper()
	f, err := e.NewFlow(kind)
	if err != nil {
		t.Fatalf("NewFlow failed: %v", err)
	}
	return f
}

func waitForBusy(t *testing.T, f *Flow) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.State().Busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("flow never became busy")
}

func TestFlowPasswordResetHappyPath(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, &recordNavigator{})
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	advanced := make(chan struct{})
	f.SetCallbacks(&FlowCallbacks{OnAdvance: func() { close(advanced) }})

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if got := f.State().Step; got != StepCodeEntry {
		t.Fatalf("expected code entry, got %v", got)
	}
	if !e.pending.Has(ctx) {
		t.Fatal("expected pending slot to be written")
	}

	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if got := f.State().Step; got != StepPrivilegedAction {
		t.Fatalf("expected privileged step, got %v", got)
	}

	err := f.SubmitPrivileged(ctx, PrivilegedPayload{
		NewPassword:     "battery-staple-9",
		ConfirmPassword: "battery-staple-9",
	})
	if err != nil {
		t.Fatalf("SubmitPrivileged failed: %v", err)
	}
	if got := f.State().Step; got != StepComplete {
		t.Fatalf("expected complete, got %v", got)
	}

	if svc.lastReq.OperationToken != "op-token" {
		t.Fatalf("expected operation token forwarded, got %q", svc.lastReq.OperationToken)
	}
	if svc.lastReq.Kind != KindPasswordReset || svc.lastReq.Email != "alice@example.com" {
		t.Fatalf("unexpected privileged request: %+v", svc.lastReq)
	}
	if e.pending.Has(ctx) {
		t.Fatal("expected pending slot cleared on completion")
	}

	select {
	case <-advanced:
	case <-time.After(time.Second):
		t.Fatal("auto-advance never fired")
	}
}

func TestFlowEmailVerificationCompletesAtCodeEntry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, &recordNavigator{})
	f := mustFlow(t, e, KindEmailVerification)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if got := f.State().Step; got != StepComplete {
		t.Fatalf("expected complete, got %v", got)
	}
	if svc.actionCalls != 0 {
		t.Fatal("email verification must not hit the privileged endpoint")
	}
}

func TestFlowSendFailureStillAdvances(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{sendErr: errors.New("smtp relay down")}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	if err := f.SubmitEmail(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail must swallow delivery failures, got %v", err)
	}
	if got := f.State().Step; got != StepCodeEntry {
		t.Fatalf("expected code entry despite failed send, got %v", got)
	}
}

func TestFlowInvalidEmailRejectedLocally(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	if err := f.SubmitEmail(context.Background(), "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if svc.sendCalls != 0 {
		t.Fatal("invalid email must not reach the service")
	}
	if got := f.State().Step; got != StepEmailInput {
		t.Fatalf("expected email input, got %v", got)
	}
}

func TestFlowShortCodeRejectedLocally(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	for _, code := range []string{"", "123", "1234567", "12a456"} {
		if err := f.SubmitCode(ctx, code); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("code %q: expected ErrInvalidCode, got %v", code, err)
		}
	}
	if svc.verifyCalls != 0 {
		t.Fatal("malformed codes must not reach the service")
	}
}

func TestFlowCodeRejectionStaysOnCodeEntry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{verifyErrs: []error{ErrCodeRejected}}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	if err := f.SubmitCode(ctx, "111111"); !errors.Is(err, ErrCodeRejected) {
		t.Fatalf("expected ErrCodeRejected, got %v", err)
	}

	st := f.State()
	if st.Step != StepCodeEntry {
		t.Fatalf("expected to stay on code entry, got %v", st.Step)
	}
	if st.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", st.Attempt)
	}
	if st.Err == nil {
		t.Fatal("expected classified error in state")
	}
}

func TestFlowNetworkFailureAutoRetries(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{verifyErrs: []error{errors.New("connection refused"), nil}}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if svc.verifyCalls != 2 {
		t.Fatalf("expected 2 verify attempts, got %d", svc.verifyCalls)
	}
	if got := f.State().Step; got != StepPrivilegedAction {
		t.Fatalf("expected privileged step, got %v", got)
	}
}

func TestFlowTokenRejectionRegressesToCodeEntry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{actionErrs: []error{ErrOperationTokenRejected}}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	payload := PrivilegedPayload{NewPassword: "battery-staple-9", ConfirmPassword: "battery-staple-9"}
	if err := f.SubmitPrivileged(ctx, payload); !errors.Is(err, ErrOperationTokenRejected) {
		t.Fatalf("expected ErrOperationTokenRejected, got %v", err)
	}
	if got := f.State().Step; got != StepCodeEntry {
		t.Fatalf("expected regression to code entry, got %v", got)
	}

	// The spent token must not be reusable; a fresh grant is required.
	svc.grantToken = "op-token-2"
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if err := f.SubmitPrivileged(ctx, payload); err != nil {
		t.Fatalf("SubmitPrivileged failed: %v", err)
	}
	if svc.lastReq.OperationToken != "op-token-2" {
		t.Fatalf("expected fresh token, got %q", svc.lastReq.OperationToken)
	}
}

func TestFlowPayloadValidation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	err := f.SubmitPrivileged(ctx, PrivilegedPayload{NewPassword: "battery-staple-9", ConfirmPassword: "other"})
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}

	err = f.SubmitPrivileged(ctx, PrivilegedPayload{NewPassword: "short", ConfirmPassword: "short"})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if svc.actionCalls != 0 {
		t.Fatal("invalid payloads must not reach the service")
	}
}

func TestFlowEmailChangeValidatesNewAddress(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindEmailChange)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := f.SubmitPrivileged(ctx, PrivilegedPayload{NewEmail: "broken"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	if err := f.SubmitPrivileged(ctx, PrivilegedPayload{NewEmail: "new@example.com"}); err != nil {
		t.Fatalf("SubmitPrivileged failed: %v", err)
	}
	if svc.lastReq.NewEmail != "new@example.com" {
		t.Fatalf("expected new email forwarded, got %q", svc.lastReq.NewEmail)
	}
}

func TestFlowBackDiscardsTokenAndInvalidEdges(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	if err := f.Back(); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep at email input, got %v", err)
	}

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := f.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	if got := f.State().Step; got != StepCodeEntry {
		t.Fatalf("expected code entry after back, got %v", got)
	}

	svc.grantToken = "op-token-after-back"
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	payload := PrivilegedPayload{NewPassword: "battery-staple-9", ConfirmPassword: "battery-staple-9"}
	if err := f.SubmitPrivileged(ctx, payload); err != nil {
		t.Fatalf("SubmitPrivileged failed: %v", err)
	}
	if svc.lastReq.OperationToken != "op-token-after-back" {
		t.Fatalf("back must discard the old token, request used %q", svc.lastReq.OperationToken)
	}
}

func TestFlowCancelResetsToEmailInput(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	f.Cancel()
	st := f.State()
	if st.Step != StepEmailInput || st.Attempt != 0 || st.Err != nil {
		t.Fatalf("expected pristine email input after cancel, got %+v", st)
	}
}

func TestFlowClosedRejectsEverything(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	e := newTestEngine(t, rdb, &mockService{}, nil)
	f := mustFlow(t, e, KindPasswordReset)

	f.Close()
	f.Close() // idempotent

	if err := f.SubmitEmail(context.Background(), "alice@example.com"); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
	if err := f.Back(); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
}

func TestFlowBusyRejectsConcurrentSubmit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	gate := make(chan struct{})
	svc := &mockService{verifyGate: gate}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.SubmitCode(ctx, "654321") }()
	waitForBusy(t, f)

	if err := f.SubmitCode(ctx, "654321"); !errors.Is(err, ErrFlowBusy) {
		t.Fatalf("expected ErrFlowBusy, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("in-flight submit failed: %v", err)
	}
}

func TestFlowBackDuringInFlightDropsResult(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	gate := make(chan struct{})
	svc := &mockService{verifyGate: gate}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.SubmitCode(ctx, "654321") }()
	waitForBusy(t, f)

	if err := f.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("invalidated submit must not surface an error, got %v", err)
	}

	if got := f.State().Step; got != StepEmailInput {
		t.Fatalf("late verify result must be dropped, step is %v", got)
	}
}

func TestFlowAutoAdvanceCancelled(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	e.config.Flow.CompleteAdvanceDelay = 50 * time.Millisecond
	f := mustFlow(t, e, KindEmailVerification)
	defer f.Close()

	fired := make(chan struct{}, 1)
	f.SetCallbacks(&FlowCallbacks{OnAdvance: func() { fired <- struct{}{} }})

	ctx := context.Background()
	if err := f.SubmitEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}
	if err := f.SubmitCode(ctx, "654321"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	f.Cancel()

	select {
	case <-fired:
		t.Fatal("auto-advance fired after cancel")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFlowStateChangeCallback(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	svc := &mockService{}
	e := newTestEngine(t, rdb, svc, nil)
	f := mustFlow(t, e, KindPasswordReset)
	defer f.Close()

	var steps []FlowStep
	f.SetCallbacks(&FlowCallbacks{OnStateChange: func(st FlowState) {
		steps = append(steps, st.Step)
	}})

	if err := f.SubmitEmail(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("SubmitEmail failed: %v", err)
	}

	if len(steps) < 2 {
		t.Fatalf("expected busy and transition notifications, got %v", steps)
	}
	if steps[len(steps)-1] != StepCodeEntry {
		t.Fatalf("expected final notification at code entry, got %v", steps[len(steps)-1])
	}
}
