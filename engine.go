package authflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Engine defines a public type used by authflow APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config    Config
	redis     *redis.Client
	pending   *pendingStore
	notifier  *crossTabNotifier
	service   AccountService
	navigator Navigator
	validator EmailValidator
	retry     retryPolicy
	audit     *auditDispatcher
	metrics   *Metrics
	tabID     string

	attemptedMu     sync.Mutex
	attemptedTokens map[string]struct{}
}

func (e *Engine) ready() error {
	if e == nil || e.service == nil || e.pending == nil || e.notifier == nil {
		return ErrEngineNotReady
	}
	return nil
}

// TabID describes the tabid operation and its observable behavior.
//
// TabID may return an error when input validation, dependency calls, or security checks fail.
// TabID does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) TabID() string {
	if e == nil {
		return ""
	}
	return e.tabID
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notifier != nil {
		e.notifier.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) validateEmail(email string) bool {
	if e == nil || e.validator == nil {
		return false
	}
	return e.validator(email)
}

/* ==== FLOWS ==== */

// NewFlow describes the newflow operation and its observable behavior.
//
// NewFlow may return an error when input validation, dependency calls, or security checks fail.
// NewFlow does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) NewFlow(kind OperationKind) (*Flow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.metricInc(MetricFlowStarted)
	return newFlow(e, uuid.NewString(), kind), nil
}

// ResumeFlow describes the resumeflow operation and its observable behavior.
//
// ResumeFlow may return an error when input validation, dependency calls, or security checks fail.
// ResumeFlow does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResumeFlow(ctx context.Context) (*Flow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pending := e.pending.Get(ctx)
	if pending == nil {
		return nil, ErrNoPendingVerification
	}
	e.metricInc(MetricFlowStarted)
	// The code already sent for the pending record stays valid; the flow
	// rejoins at code entry without requesting a new one.
	f := newFlow(e, uuid.NewString(), pending.Kind)
	f.email = pending.Email
	f.step = StepCodeEntry
	return f, nil
}

// ListenCrossTab describes the listencrosstab operation and its observable behavior.
//
// ListenCrossTab may return an error when input validation, dependency calls, or security checks fail.
// ListenCrossTab does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ListenCrossTab(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.notifier.Listen(ctx)
	return nil
}

// AnnounceRedirect describes the announceredirect operation and its observable behavior.
//
// AnnounceRedirect may return an error when input validation, dependency calls, or security checks fail.
// AnnounceRedirect does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AnnounceRedirect(ctx context.Context, reason RedirectReason, url, message string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.metricInc(MetricCrossTabAnnounced)
	e.notifier.AnnounceRedirect(ctx, reason, url, message)
	return nil
}

/* ==== PENDING VERIFICATION ==== */

// HasPendingVerification describes the haspendingverification operation and its observable behavior.
//
// HasPendingVerification may return an error when input validation, dependency calls, or security checks fail.
// HasPendingVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) HasPendingVerification(ctx context.Context) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.pending.Has(ctx), nil
}

// GetPendingVerification describes the getpendingverification operation and its observable behavior.
//
// GetPendingVerification may return an error when input validation, dependency calls, or security checks fail.
// GetPendingVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetPendingVerification(ctx context.Context) (*PendingVerification, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.pending.Get(ctx), nil
}

// ClearPendingVerification describes the clearpendingverification operation and its observable behavior.
//
// ClearPendingVerification may return an error when input validation, dependency calls, or security checks fail.
// ClearPendingVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ClearPendingVerification(ctx context.Context, kinds ...OperationKind) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.pending.Clear(ctx, kinds...)
	e.emitAudit(ctx, auditEventPendingCleared, true, "", kindNone, nil, nil)
	return nil
}

// ObservePending describes the observepending operation and its observable behavior.
//
// ObservePending may return an error when input validation, dependency calls, or security checks fail.
// ObservePending does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ObservePending(fn PendingObserver) (func(), error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.pending.Observe(fn), nil
}
