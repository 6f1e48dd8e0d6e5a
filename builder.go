package authflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by authflow APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	service   AccountService
	navigator Navigator
	validator EmailValidator
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithService describes the withservice operation and its observable behavior.
//
// WithService may return an error when input validation, dependency calls, or security checks fail.
// WithService does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithService(svc AccountService) *Builder {
	b.service = svc
	return b
}

// WithNavigator describes the withnavigator operation and its observable behavior.
//
// WithNavigator may return an error when input validation, dependency calls, or security checks fail.
// WithNavigator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNavigator(nav Navigator) *Builder {
	b.navigator = nav
	return b
}

// WithEmailValidator describes the withemailvalidator operation and its observable behavior.
//
// WithEmailValidator may return an error when input validation, dependency calls, or security checks fail.
// WithEmailValidator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithEmailValidator(v EmailValidator) *Builder {
	b.validator = v
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.service == nil {
		return nil, errors.New("account service required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	validator := b.validator
	if validator == nil {
		validator = DefaultEmailValidator
	}

	tabID := uuid.NewString()

	e := &Engine{
		config:          cfg,
		redis:           b.redis,
		pending:         newPendingStore(b.redis, cfg.Pending),
		notifier:        newCrossTabNotifier(b.redis, cfg.Notifier, tabID),
		service:         b.service,
		navigator:       b.navigator,
		validator:       validator,
		retry:           newRetryPolicy(cfg.Retry),
		tabID:           tabID,
		attemptedTokens: make(map[string]struct{}),
	}
	e.notifier.SetNavigator(b.navigator)
	e.notifier.onReceive = func(msg CrossTabMessage) {
		e.metricInc(MetricCrossTabReceived)
		e.emitAudit(context.Background(), auditEventCrossTabRedirect, true, "", kindNone, nil, func() map[string]string {
			return map[string]string{
				"reason": string(msg.Reason),
				"url":    msg.URL,
			}
		})
	}

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = NoOpSink{}
		}
		e.audit = newAuditDispatcher(cfg.Audit, sink)
	}

	if cfg.Metrics.Enabled {
		e.metrics = NewMetrics(cfg.Metrics)
	}

	b.built = true
	return e, nil
}
